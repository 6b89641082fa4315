package mcp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"toolbridge/internal/logging"
	"toolbridge/internal/tools"
)

// Tool sources recorded with each stored definition.
const (
	SourceDiscovered = "discovered"
	SourceStatic     = "static"
)

// ToolStore provides SQLite-backed storage for server status, discovered
// tool definitions, and tool usage statistics.
type ToolStore struct {
	mu sync.RWMutex

	db     *sql.DB
	dbPath string
}

// ToolStats are the usage counters of one tool.
type ToolStats struct {
	ServerID     string
	Name         string
	Source       string
	UsageCount   int64
	SuccessCount int64
	AvgLatencyMs int64
	LastUsed     time.Time
}

// ServerRecord is the last known state of a server.
type ServerRecord struct {
	ServerID  string
	Name      string
	Transport Transport
	Status    ServerStatus
	Pid       int
	UpdatedAt time.Time
}

// NewToolStore opens (creating if needed) the store at dbPath. Use
// ":memory:" for a private in-memory store.
func NewToolStore(dbPath string) (*ToolStore, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &ToolStore{db: db, dbPath: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// initialize creates the database schema.
func (s *ToolStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS servers (
			server_id TEXT PRIMARY KEY,
			name TEXT,
			transport TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'stopped',
			pid INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create servers table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tools (
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			input_schema TEXT,
			source TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,

			usage_count INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			avg_latency_ms INTEGER DEFAULT 0,
			last_used DATETIME,

			registered_at DATETIME DEFAULT CURRENT_TIMESTAMP,

			PRIMARY KEY(server_id, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tools table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tools_server ON tools(server_id)`)
	return nil
}

// Close closes the database connection.
func (s *ToolStore) Close() error {
	return s.db.Close()
}

// SaveServerStatus upserts the last known state of a server.
func (s *ToolStore) SaveServerStatus(ctx context.Context, rec ServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (server_id, name, transport, status, pid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			status = excluded.status,
			pid = excluded.pid,
			updated_at = excluded.updated_at
	`, rec.ServerID, rec.Name, string(rec.Transport), string(rec.Status), rec.Pid, rec.UpdatedAt)
	return err
}

// GetServer returns the stored state of a server, or nil if unknown.
func (s *ToolStore) GetServer(ctx context.Context, serverID string) (*ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec ServerRecord
	var name sql.NullString
	var transport, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, name, transport, status, pid, updated_at FROM servers WHERE server_id = ?
	`, serverID).Scan(&rec.ServerID, &name, &transport, &status, &rec.Pid, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.Transport = Transport(transport)
	rec.Status = ServerStatus(status)
	return &rec, nil
}

// SaveTools replaces the stored definitions of a server. Usage counters
// of tools that survive the replacement are kept.
func (s *ToolStore) SaveTools(ctx context.Context, serverID, source string, defs []tools.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	keep := make(map[string]bool, len(defs))
	for i, def := range defs {
		keep[def.Name] = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tools (server_id, name, description, input_schema, source, position, registered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id, name) DO UPDATE SET
				description = excluded.description,
				input_schema = excluded.input_schema,
				source = excluded.source,
				position = excluded.position
		`, serverID, def.Name, def.Description, string(def.InputSchema), source, i, time.Now())
		if err != nil {
			return fmt.Errorf("save tool %s/%s: %w", serverID, def.Name, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT name FROM tools WHERE server_id = ?`, serverID)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		if !keep[name] {
			stale = append(stale, name)
		}
	}
	rows.Close()
	for _, name := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE server_id = ? AND name = ?`, serverID, name); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Get(logging.CategoryStore).Debug("Stored %d %s tools for %s", len(defs), source, serverID)
	return nil
}

// LoadTools returns the stored definitions of a server in advertised order
// and the source they came from.
func (s *ToolStore) LoadTools(ctx context.Context, serverID string) ([]tools.ToolDefinition, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, input_schema, source FROM tools
		WHERE server_id = ? ORDER BY position, name
	`, serverID)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var defs []tools.ToolDefinition
	var source string
	for rows.Next() {
		var def tools.ToolDefinition
		var desc, schema sql.NullString
		if err := rows.Scan(&def.Name, &desc, &schema, &source); err != nil {
			return nil, "", err
		}
		def.Description = desc.String
		if schema.String != "" {
			def.InputSchema = []byte(schema.String)
		}
		defs = append(defs, def)
	}
	return defs, source, rows.Err()
}

// RecordToolUsage records one invocation of a tool.
func (s *ToolStore) RecordToolUsage(ctx context.Context, serverID, name string, success bool, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc := 0
	if success {
		successInc = 1
	}

	// Update counts and running average latency
	_, err := s.db.ExecContext(ctx, `
		UPDATE tools SET
			usage_count = usage_count + 1,
			success_count = success_count + ?,
			avg_latency_ms = ((avg_latency_ms * usage_count) + ?) / (usage_count + 1),
			last_used = ?
		WHERE server_id = ? AND name = ?
	`, successInc, latency.Milliseconds(), time.Now(), serverID, name)
	return err
}

// Stats returns usage statistics for every stored tool of a server.
func (s *ToolStore) Stats(ctx context.Context, serverID string) ([]ToolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, name, source, usage_count, success_count, avg_latency_ms, last_used
		FROM tools WHERE server_id = ? ORDER BY position, name
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var st ToolStats
		var lastUsed sql.NullTime
		if err := rows.Scan(&st.ServerID, &st.Name, &st.Source, &st.UsageCount, &st.SuccessCount, &st.AvgLatencyMs, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			st.LastUsed = lastUsed.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
