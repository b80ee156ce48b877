package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/xwander/tablewright/internal/config"
)

const (
	driverLibsql = "libsql"
	memoryPath   = ":memory:"

	// busyTimeoutMs is how long a local writer waits on a locked journal.
	busyTimeoutMs = 5000
)

var errNotInitialized = errors.New("store is not initialized")

// Store is the run journal. A nil *Store is valid and reports errNotInitialized.
type Store struct {
	DB       *sql.DB
	driver   string
	location string
}

// location is a resolved libsql data source.
type location struct {
	dsn   string
	local bool
}

// Open connects to the journal described by cfg. Local files are created on
// demand and opened in WAL mode with a single writer connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	loc, err := resolveLocation(cfg)
	if err != nil {
		return nil, err
	}
	shown := redact(loc.dsn)

	db, err := sql.Open(driverLibsql, loc.dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", shown, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal %s: %w", shown, err)
	}
	if loc.local {
		if err := tuneLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{DB: db, driver: driver, location: shown}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CheckHealth pings the journal database.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	return s.DB.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Location returns the data source with any credentials removed.
func (s *Store) Location() string {
	if s == nil {
		return ""
	}
	return s.location
}

func resolveLocation(cfg config.StoreConfig) (location, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		dsn, err := withAuthToken(remote, cfg.AuthToken)
		return location{dsn: dsn}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return location{}, errors.New("store path or url is required")
	case path == memoryPath:
		// Every pooled connection would otherwise see its own empty database.
		return location{dsn: path, local: true}, nil
	case strings.HasPrefix(path, "libsql:"):
		return location{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		file, err := filePath(path)
		if err != nil {
			return location{}, err
		}
		if err := ensureDir(file); err != nil {
			return location{}, err
		}
		return location{dsn: path, local: true}, nil
	default:
		if err := ensureDir(path); err != nil {
			return location{}, err
		}
		return location{dsn: "file:" + filepath.Clean(path), local: true}, nil
	}
}

func tuneLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable wal journal: %w", err)
	}
	var timeout int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)).Scan(&timeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// withAuthToken adds token as the authToken query parameter unless the URL
// already carries one.
func withAuthToken(dsn, token string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	query := parsed.Query()
	if query.Get("authToken") != "" {
		return dsn, nil
	}
	query.Set("authToken", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func redact(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.RawQuery == "" {
		return dsn
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		return dsn
	}
	query.Set("authToken", "REDACTED")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func filePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
