package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xwander/tablewright/internal/core"
)

// DefaultTTL bounds how stale a cached schema may be.
const DefaultTTL = 300 * time.Second

// FetchFunc loads the current schema of a base from the service.
type FetchFunc func(ctx context.Context, baseID string) ([]core.TableSchema, error)

// Stats counts cache lookups since creation.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Cache keeps one schema snapshot per base and refetches it lazily once the
// snapshot is older than the TTL. It is safe for concurrent use.
type Cache struct {
	Fetch FetchFunc
	TTL   time.Duration
	Clock func() time.Time
	// OnLookup, when set, observes every non-forced lookup outcome.
	OnLookup func(baseID string, hit bool)

	mu      sync.Mutex
	entries map[string]*core.SchemaEntry
	hits    int64
	misses  int64
}

// NewCache returns a cache that fetches through fetch. A non-positive ttl uses DefaultTTL.
func NewCache(fetch FetchFunc, ttl time.Duration) *Cache {
	return &Cache{Fetch: fetch, TTL: ttl}
}

type getOptions struct {
	ttl          time.Duration
	forceRefresh bool
}

// GetOption tunes a single lookup.
type GetOption func(*getOptions)

// WithTTL overrides the cache TTL for one lookup.
func WithTTL(ttl time.Duration) GetOption {
	return func(o *getOptions) { o.ttl = ttl }
}

// ForceRefresh bypasses any cached entry.
func ForceRefresh() GetOption {
	return func(o *getOptions) { o.forceRefresh = true }
}

// Get returns the schema of baseID, fetching it when missing, expired or forced.
//
// An entry is fresh while now - FetchedAt <= ttl. A refetch replaces the entry.
func (c *Cache) Get(ctx context.Context, baseID string, opts ...GetOption) (*core.SchemaEntry, error) {
	if c == nil {
		return nil, errors.New("schema cache is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := strings.TrimSpace(baseID)
	if key == "" {
		return nil, &core.ValidationError{Field: "base_id", Detail: "base id is required"}
	}

	options := getOptions{ttl: c.ttl()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.ttl <= 0 {
		options.ttl = DefaultTTL
	}

	now := c.now()
	if !options.forceRefresh {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok && now.Sub(entry.FetchedAt) <= options.ttl {
			c.hits++
			c.mu.Unlock()
			c.observe(key, true)
			return entry, nil
		}
		c.mu.Unlock()
		c.observe(key, false)
	}

	if c.Fetch == nil {
		return nil, errors.New("schema cache has no fetch function")
	}

	tables, err := c.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch schema for base %s: %w", key, err)
	}

	entry := &core.SchemaEntry{
		BaseID:    key,
		Tables:    tables,
		FetchedAt: c.now(),
	}

	c.mu.Lock()
	if c.entries == nil {
		c.entries = make(map[string]*core.SchemaEntry)
	}
	c.entries[key] = entry
	c.misses++
	c.mu.Unlock()

	return entry, nil
}

func (c *Cache) observe(baseID string, hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(baseID, hit)
	}
}

// Table resolves a table by name or id.
func (c *Cache) Table(ctx context.Context, baseID, table string, opts ...GetOption) (core.TableSchema, error) {
	entry, err := c.Get(ctx, baseID, opts...)
	if err != nil {
		return core.TableSchema{}, err
	}
	found, ok := entry.Table(table)
	if !ok {
		return core.TableSchema{}, &core.NotFoundError{ResourceType: "table", ResourceID: table}
	}
	return found, nil
}

// Field resolves a field of a table by name or id.
func (c *Cache) Field(ctx context.Context, baseID, table, field string, opts ...GetOption) (core.FieldSchema, error) {
	found, err := c.Table(ctx, baseID, table, opts...)
	if err != nil {
		return core.FieldSchema{}, err
	}
	fieldSchema, ok := found.Field(field)
	if !ok {
		return core.FieldSchema{}, &core.NotFoundError{ResourceType: "field", ResourceID: found.Name + "." + field}
	}
	return fieldSchema, nil
}

// Invalidate drops the entry of baseID; the next Get fetches regardless of age.
func (c *Cache) Invalidate(baseID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, strings.TrimSpace(baseID))
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Stats reports hit and miss counts.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

func (c *Cache) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}

func (c *Cache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
