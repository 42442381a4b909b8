package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Catalog manages webhook event type definitions with a read-through
// in-memory cache over the backing store.
type Catalog struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	et        *EventType
	fetchedAt time.Time
}

// Config configures the catalog service.
type Config struct {
	CacheTTL time.Duration
}

// NewCatalog creates a new Catalog backed by the given store.
func NewCatalog(store Store, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:   store,
		ttl:     cfg.CacheTTL,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

// RegisterOption configures RegisterType behavior.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	metadata map[string]string
}

// WithMetadata sets metadata on a registered event type.
func WithMetadata(m map[string]string) RegisterOption {
	return func(o *registerOptions) { o.metadata = m }
}

// RegisterType registers or updates an event type definition. Re-registering
// an existing name overwrites its definition and clears any deprecation.
func (c *Catalog) RegisterType(ctx context.Context, def WebhookDefinition, opts ...RegisterOption) (*EventType, error) {
	var ro registerOptions
	for _, o := range opts {
		o(&ro)
	}

	et := &EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: def,
		Metadata:   ro.metadata,
	}

	if err := c.store.RegisterType(ctx, et); err != nil {
		return nil, err
	}

	c.put(et)
	return et, nil
}

// GetType returns an event type by name. Cache hits within the TTL skip the
// store entirely.
func (c *Catalog) GetType(ctx context.Context, name string) (*EventType, error) {
	if et, ok := c.cached(name); ok {
		return et, nil
	}

	et, err := c.store.GetType(ctx, name)
	if err != nil {
		return nil, err
	}

	c.put(et)
	return et, nil
}

// ListTypes returns registered event types. Listing always reads the store.
func (c *Catalog) ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error) {
	return c.store.ListTypes(ctx, opts)
}

// MatchTypesForEvent returns all non-deprecated event types whose names match
// the given event type name.
func (c *Catalog) MatchTypesForEvent(ctx context.Context, eventType string) ([]*EventType, error) {
	return c.store.MatchTypes(ctx, eventType)
}

// DeleteType deprecates an event type and drops it from the cache.
func (c *Catalog) DeleteType(ctx context.Context, name string) error {
	if err := c.store.DeleteType(ctx, name); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()

	return nil
}

// WarmCache preloads all non-deprecated types from the store.
func (c *Catalog) WarmCache(ctx context.Context) error {
	types, err := c.store.ListTypes(ctx, ListOpts{IncludeDeprecated: false})
	if err != nil {
		return err
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, len(types))
	for _, et := range types {
		c.entries[et.Definition.Name] = cacheEntry{et: et, fetchedAt: now}
	}
	return nil
}

// InvalidateCache clears the cache, forcing fresh reads from the store.
func (c *Catalog) InvalidateCache() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *Catalog) cached(name string) (*EventType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.et, true
}

func (c *Catalog) put(et *EventType) {
	c.mu.Lock()
	c.entries[et.Definition.Name] = cacheEntry{et: et, fetchedAt: time.Now()}
	c.mu.Unlock()
}
