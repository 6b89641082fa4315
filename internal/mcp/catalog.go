package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// Catalog caches the tool definitions of each server. Definitions are
// discovered live once per server start and fall back to the last stored
// discovery, then to the static set for the server type. Discovery
// failures are logged, never returned.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*catalogEntry

	group       singleflight.Group
	store       *ToolStore
	renderer    *ToolRenderer
	listTimeout time.Duration
}

type catalogEntry struct {
	defs   []tools.ToolDefinition
	byName map[string]tools.ToolDefinition
	source string
}

// NewCatalog creates a catalog. store may be nil.
func NewCatalog(store *ToolStore, listTimeout time.Duration) *Catalog {
	return &Catalog{
		entries:     make(map[string]*catalogEntry),
		store:       store,
		renderer:    NewToolRenderer(),
		listTimeout: listTimeout,
	}
}

// Discover returns the definitions for server, asking client when nothing
// is cached. client may be nil when the server is unreachable.
func (c *Catalog) Discover(ctx context.Context, server ServerConfig, client Client) []tools.ToolDefinition {
	if defs, ok := c.cached(server.ID); ok {
		return defs
	}

	v, _, _ := c.group.Do(server.ID, func() (interface{}, error) {
		if defs, ok := c.cached(server.ID); ok {
			return defs, nil
		}
		defs, source := c.fetch(ctx, server, client)
		if len(defs) > 0 || source == SourceDiscovered {
			c.put(server.ID, defs, source)
		}
		return defs, nil
	})
	defs, _ := v.([]tools.ToolDefinition)
	return cloneDefs(defs)
}

func (c *Catalog) fetch(ctx context.Context, server ServerConfig, client Client) ([]tools.ToolDefinition, string) {
	log := logging.Get(logging.CategoryRegistry)

	if client != nil {
		lctx := ctx
		if c.listTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, c.listTimeout)
			defer cancel()
		}
		defs, err := client.ListTools(lctx)
		if err == nil {
			log.Info("Discovered %d tools from %s", len(defs), server.ID)
			c.persist(ctx, server.ID, SourceDiscovered, defs)
			return defs, SourceDiscovered
		}
		log.Warn("Tool discovery failed for %s, using fallback: %v", server.ID, err)
	}

	if c.store != nil {
		defs, source, err := c.store.LoadTools(ctx, server.ID)
		if err != nil {
			log.Warn("Loading stored tools for %s failed: %v", server.ID, err)
		} else if len(defs) > 0 && source == SourceDiscovered {
			log.Info("Using %d previously discovered tools for %s", len(defs), server.ID)
			return defs, SourceDiscovered
		}
	}

	defs := tools.DefaultDefinitions(server.Type)
	if len(defs) > 0 {
		log.Info("Using %d static %s tools for %s", len(defs), server.Type, server.ID)
		c.persist(ctx, server.ID, SourceStatic, defs)
	}
	return defs, SourceStatic
}

func (c *Catalog) persist(ctx context.Context, serverID, source string, defs []tools.ToolDefinition) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveTools(ctx, serverID, source, defs); err != nil {
		logging.Get(logging.CategoryRegistry).Warn("Persisting tools for %s failed: %v", serverID, err)
	}
}

func (c *Catalog) cached(serverID string) ([]tools.ToolDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[serverID]
	if !ok {
		return nil, false
	}
	return cloneDefs(e.defs), true
}

func (c *Catalog) put(serverID string, defs []tools.ToolDefinition, source string) {
	byName := make(map[string]tools.ToolDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	c.mu.Lock()
	c.entries[serverID] = &catalogEntry{defs: cloneDefs(defs), byName: byName, source: source}
	c.mu.Unlock()
}

// Register caches definitions for a server directly, for in-process servers.
func (c *Catalog) Register(serverID string, defs []tools.ToolDefinition) {
	c.put(serverID, defs, SourceDiscovered)
}

// Invalidate drops the cached definitions of a server.
func (c *Catalog) Invalidate(serverID string) {
	c.mu.Lock()
	delete(c.entries, serverID)
	c.mu.Unlock()
	c.group.Forget(serverID)
}

// Definitions returns the cached definitions of a server.
func (c *Catalog) Definitions(serverID string) ([]tools.ToolDefinition, bool) {
	return c.cached(serverID)
}

// Source reports where the cached definitions of a server came from.
func (c *Catalog) Source(serverID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[serverID]; ok {
		return e.source
	}
	return ""
}

// Lookup returns the definition of one tool from the cache.
func (c *Catalog) Lookup(serverID, name string) (tools.ToolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[serverID]; ok {
		if def, ok := e.byName[name]; ok {
			return def, nil
		}
	}
	return tools.ToolDefinition{}, fmt.Errorf("%w: %s on server %s", tools.ErrToolNotFound, name, serverID)
}

// FindServer returns the first of serverIDs whose cached tools include name.
func (c *Catalog) FindServer(name string, serverIDs []string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range serverIDs {
		if e, ok := c.entries[id]; ok {
			if _, ok := e.byName[name]; ok {
				return id, true
			}
		}
	}
	return "", false
}

// Describe renders the server's tools for the model.
func (c *Catalog) Describe(ctx context.Context, server ServerConfig, client Client) string {
	return c.renderer.RenderServer(server, c.Discover(ctx, server, client))
}

func cloneDefs(defs []tools.ToolDefinition) []tools.ToolDefinition {
	if defs == nil {
		return nil
	}
	out := make([]tools.ToolDefinition, len(defs))
	copy(out, defs)
	return out
}
