package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"toolbridge/internal/config"
	"toolbridge/internal/mcp"
	"toolbridge/internal/orchestrator"
	"toolbridge/internal/supervisor"
)

// runtime is the set of long-lived components a command works with.
type runtime struct {
	cfg     *config.Config
	store   *mcp.ToolStore
	sup     *supervisor.Supervisor
	catalog *mcp.Catalog
	orch    *orchestrator.Orchestrator
}

// newRuntime wires the store, supervisor, catalog and orchestrator for c.
// m may be nil for commands that never talk to a model.
func newRuntime(c *config.Config, m orchestrator.Model) (*runtime, error) {
	if dir := filepath.Dir(c.Store.Path); c.Store.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := mcp.NewToolStore(c.Store.Path)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(c.SupervisorOptions())
	catalog := mcp.NewCatalog(store, c.RPC.ListTimeout)
	orch, err := orchestrator.New(m, orchestrator.Config{
		Servers:             c.ServerConfigs(),
		Supervisor:          sup,
		Catalog:             catalog,
		Store:               store,
		MaxRounds:           c.Orchestrator.MaxRounds,
		CallTimeout:         c.RPC.CallTimeout,
		InterruptOnToolCall: c.Orchestrator.InterruptOnToolCall,
		MaxPendingBytes:     c.Orchestrator.MaxPendingBytes,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &runtime{cfg: c, store: store, sup: sup, catalog: catalog, orch: orch}, nil
}

// Close stops every server and closes the store.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Supervisor.StopGrace+r.cfg.RPC.CallTimeout)
	defer cancel()
	err := r.orch.Close(ctx)
	if cerr := r.store.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil && logger != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	return err
}
