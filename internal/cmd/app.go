package cmd

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/config"
	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/core/store"
	"github.com/xwander/tablewright/internal/observability"
)

// session bundles what a command needs to talk to the service.
type session struct {
	cfg    *config.Config
	client *client.Client
	store  *store.Store
}

// Close releases the journal store, if one was opened.
func (s *session) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		observability.CLILogger.Debug("Journal close failed", zap.Error(err))
	}
}

// clientConfig maps the loaded configuration onto client settings.
func clientConfig(cfg *config.Config) client.Config {
	return client.Config{
		BaseURL:           cfg.API.BaseURL,
		Token:             cfg.API.Token,
		Timeout:           cfg.API.Timeout,
		UserAgent:         cfg.API.UserAgent,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		ChunkSize:         cfg.Batch.ChunkSize,
		Typecast:          cfg.Batch.Typecast,
		SchemaTTL:         cfg.SchemaCache.TTL,
	}
}

// openSession loads config, opens the journal when enabled and builds the client.
// A journal that cannot be opened is logged and skipped; writes still go through.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.API.Token) == "" {
		return nil, &core.AuthenticationError{Message: "no API token configured (set api.token or " + config.TokenFallbackEnv + ")"}
	}

	s := &session{cfg: cfg}
	opts := []client.Option{client.WithLogger(observability.CLILogger)}

	if cfg.Journal.Enabled {
		st, err := openStore(ctx, cfg)
		if err != nil {
			observability.CLILogger.Warn("⚠️  Run journal unavailable, continuing without it", zap.Error(err))
		} else {
			s.store = st
			opts = append(opts, client.WithJournal(st))
		}
	}

	s.client = client.New(clientConfig(cfg), opts...)
	return s, nil
}

// openStore opens and migrates the run journal.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
