package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/tools"
)

type stubClient struct {
	calls atomic.Int32
	defs  []tools.ToolDefinition
	err   error
	delay time.Duration
}

func (c *stubClient) ListTools(ctx context.Context) ([]tools.ToolDefinition, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.defs, c.err
}

func (c *stubClient) CallTool(context.Context, string, map[string]any) (*CallResult, error) {
	return TextResult("ok", false), nil
}

func (c *stubClient) Close() error { return nil }

func sampleDefs(names ...string) []tools.ToolDefinition {
	defs := make([]tools.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, tools.ToolDefinition{
			Name:        n,
			Description: n + " tool",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"q": {Type: "string", Description: "query"},
			}, "q").Raw(),
		})
	}
	return defs
}

func newTestStore(t *testing.T) *ToolStore {
	t.Helper()
	store, err := NewToolStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCatalogLiveDiscovery(t *testing.T) {
	store := newTestStore(t)
	cat := NewCatalog(store, time.Second)
	client := &stubClient{defs: sampleDefs("alpha", "beta")}
	server := ServerConfig{ID: "s1", Type: "custom"}

	defs := cat.Discover(context.Background(), server, client)
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, SourceDiscovered, cat.Source("s1"))

	// Cached: the client is not asked again.
	cat.Discover(context.Background(), server, client)
	assert.Equal(t, int32(1), client.calls.Load())

	stored, source, err := store.LoadTools(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, SourceDiscovered, source)
	assert.Len(t, stored, 2)
}

func TestCatalogFallsBackToStoredDiscovery(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveTools(context.Background(), "mem", SourceDiscovered, sampleDefs("remembered")))

	cat := NewCatalog(store, time.Second)
	client := &stubClient{err: errors.New("connection refused")}
	defs := cat.Discover(context.Background(), ServerConfig{ID: "mem", Type: "memory"}, client)

	require.Len(t, defs, 1)
	assert.Equal(t, "remembered", defs[0].Name)
}

func TestCatalogFallsBackToStaticDefaults(t *testing.T) {
	cat := NewCatalog(newTestStore(t), time.Second)
	client := &stubClient{err: errors.New("boom")}

	defs := cat.Discover(context.Background(), ServerConfig{ID: "fs", Type: "filesystem"}, client)
	assert.Len(t, defs, len(tools.FilesystemTools()))
	assert.Equal(t, SourceStatic, cat.Source("fs"))

	// Unknown server types with a failed discovery have no tools.
	defs = cat.Discover(context.Background(), ServerConfig{ID: "x", Type: "unknown"}, nil)
	assert.Empty(t, defs)
	_, ok := cat.Definitions("x")
	assert.False(t, ok)
}

func TestCatalogStaticDefaultsDoNotShadowLaterDiscovery(t *testing.T) {
	store := newTestStore(t)
	cat := NewCatalog(store, time.Second)
	server := ServerConfig{ID: "fs", Type: "filesystem"}

	cat.Discover(context.Background(), server, nil)
	assert.Equal(t, SourceStatic, cat.Source("fs"))

	cat.Invalidate("fs")
	defs := cat.Discover(context.Background(), server, &stubClient{defs: sampleDefs("only")})
	require.Len(t, defs, 1)
	assert.Equal(t, SourceDiscovered, cat.Source("fs"))

	// Stored static rows were replaced, so a failing rediscovery uses "only".
	cat.Invalidate("fs")
	defs = cat.Discover(context.Background(), server, &stubClient{err: errors.New("down")})
	require.Len(t, defs, 1)
	assert.Equal(t, "only", defs[0].Name)
}

func TestCatalogListTimeout(t *testing.T) {
	cat := NewCatalog(nil, 20*time.Millisecond)
	client := &stubClient{defs: sampleDefs("slow"), delay: time.Second}

	start := time.Now()
	defs := cat.Discover(context.Background(), ServerConfig{ID: "m", Type: "memory"}, client)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, tools.DefaultDefinitions("memory"), defs)
}

func TestCatalogConcurrentDiscoverSharesOneCall(t *testing.T) {
	cat := NewCatalog(nil, time.Second)
	client := &stubClient{defs: sampleDefs("a"), delay: 50 * time.Millisecond}
	server := ServerConfig{ID: "s", Type: "custom"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, cat.Discover(context.Background(), server, client), 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestCatalogLookupAndFindServer(t *testing.T) {
	cat := NewCatalog(nil, time.Second)
	cat.Register("a", sampleDefs("search"))
	cat.Register("b", sampleDefs("read", "search"))

	def, err := cat.Lookup("b", "read")
	require.NoError(t, err)
	assert.Equal(t, "read", def.Name)

	_, err = cat.Lookup("a", "read")
	assert.ErrorIs(t, err, tools.ErrToolNotFound)

	id, ok := cat.FindServer("search", []string{"b", "a"})
	assert.True(t, ok)
	assert.Equal(t, "b", id)

	id, ok = cat.FindServer("read", []string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, "b", id)

	_, ok = cat.FindServer("write", []string{"a", "b"})
	assert.False(t, ok)

	cat.Invalidate("b")
	_, ok = cat.FindServer("read", []string{"a", "b"})
	assert.False(t, ok)
}

func TestCatalogReturnsCopies(t *testing.T) {
	cat := NewCatalog(nil, time.Second)
	cat.Register("a", sampleDefs("one"))

	defs, _ := cat.Definitions("a")
	defs[0].Name = "mutated"

	again, _ := cat.Definitions("a")
	assert.Equal(t, "one", again[0].Name)
}
