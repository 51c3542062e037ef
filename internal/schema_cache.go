package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lychee-technology/eav"
)

// schemaCatalog is an immutable snapshot of every schema and choice.
// Callers must not modify the schemata it hands out.
type schemaCatalog struct {
	schemata []*eav.Schema
	byName   map[string]*eav.Schema
	byID     map[int64]*eav.Schema
}

func newSchemaCatalog(schemata []*eav.Schema) *schemaCatalog {
	c := &schemaCatalog{
		schemata: schemata,
		byName:   make(map[string]*eav.Schema, len(schemata)),
		byID:     make(map[int64]*eav.Schema, len(schemata)),
	}
	for _, s := range schemata {
		c.byName[s.Name] = s
		c.byID[s.ID] = s
	}
	return c
}

func (c *schemaCatalog) schema(name string) (*eav.Schema, bool) {
	s, ok := c.byName[name]
	return s, ok
}

func (c *schemaCatalog) schemaByID(id int64) (*eav.Schema, bool) {
	s, ok := c.byID[id]
	return s, ok
}

func (c *schemaCatalog) all() []*eav.Schema {
	return c.schemata
}

func (c *schemaCatalog) names() []string {
	names := make([]string, 0, len(c.schemata))
	for _, s := range c.schemata {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func (c *schemaCatalog) hasName(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// managedFor returns the managed schemata generated for a many schema.
func (c *schemaCatalog) managedFor(parentID int64) []*eav.Schema {
	var out []*eav.Schema
	for _, s := range c.schemata {
		if s.Managed && s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

type schemaLoader func(ctx context.Context) ([]*eav.Schema, error)

// schemaCache lazily loads the catalog and keeps it for ttl. A zero ttl
// keeps the catalog until the next invalidate.
type schemaCache struct {
	load    schemaLoader
	enabled bool
	ttl     time.Duration
	nowFunc func() time.Time

	mu       sync.RWMutex
	catalog  *schemaCatalog
	loadedAt time.Time
	// generation is bumped by invalidate; a load that straddles a bump is
	// returned to its caller but not stored.
	generation uint64
}

func newSchemaCache(load schemaLoader, cfg eav.CacheConfig) *schemaCache {
	return &schemaCache{
		load:    load,
		enabled: cfg.Enabled,
		ttl:     cfg.SchemaTTL,
		nowFunc: time.Now,
	}
}

func (c *schemaCache) get(ctx context.Context) (*schemaCatalog, error) {
	if c.enabled {
		c.mu.RLock()
		catalog, loadedAt := c.catalog, c.loadedAt
		c.mu.RUnlock()
		if catalog != nil && (c.ttl == 0 || c.nowFunc().Sub(loadedAt) < c.ttl) {
			EmitCacheLookup(ctx, true)
			return catalog, nil
		}
		EmitCacheLookup(ctx, false)
	}

	if c.load == nil {
		return nil, fmt.Errorf("schema loader is not configured")
	}
	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	schemata, err := c.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemata: %w", err)
	}
	catalog := newSchemaCatalog(schemata)

	if c.enabled {
		c.mu.Lock()
		if c.generation == generation {
			c.catalog = catalog
			c.loadedAt = c.nowFunc()
		}
		c.mu.Unlock()
	}
	return catalog, nil
}

func (c *schemaCache) invalidate() {
	c.mu.Lock()
	c.catalog = nil
	c.generation++
	c.mu.Unlock()
}
