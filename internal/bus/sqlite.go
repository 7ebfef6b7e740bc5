package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andywolf/agentorch/internal/model"
	_ "modernc.org/sqlite"
)

// SQLiteBus stores messages in a single SQLite database, for deployments
// that want durability without a directory full of small files.
//
// Grounded on hugo-lorenzo-mato-quorum-ai's internal/adapters/state/sqlite.go
// (modernc.org/sqlite, a single *sql.DB guarded by an internal mutex via
// SQLite's own locking, migrations run at construction time).
type SQLiteBus struct {
	db *sql.DB
}

// NewSQLiteBus opens (creating if necessary) a SQLite database at path.
func NewSQLiteBus(path string) (*SQLiteBus, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bus: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention
	return &SQLiteBus{db: db}, nil
}

func (b *SQLiteBus) Type() BackendType { return BackendSQLite }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS inbox (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inbox_agent_ts ON inbox(agent_id, ts);
CREATE TABLE IF NOT EXISTS history (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_run_ts ON history(run_id, ts);
`

func (b *SQLiteBus) Initialize(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		return fmt.Errorf("bus: apply schema: %w", err)
	}
	return nil
}

func (b *SQLiteBus) registerAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO agents(agent_id) VALUES (?)`, agentID)
	return err
}

func (b *SQLiteBus) Send(ctx context.Context, message model.AgentMessage) error {
	if err := b.registerAgent(ctx, message.From); err != nil {
		return err
	}
	if err := b.registerAgent(ctx, message.To); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("bus: marshal message: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO inbox(id, agent_id, payload, ts) VALUES (?, ?, ?, ?)`,
		message.ID, message.To, data, message.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("bus: insert inbox row: %w", err)
	}

	if runID, ok := runIDOf(message); ok {
		_, err = b.db.ExecContext(ctx,
			`INSERT INTO history(id, run_id, payload, ts) VALUES (?, ?, ?, ?)`,
			message.ID, runID, data, message.Timestamp.UnixNano())
		if err != nil {
			return fmt.Errorf("bus: insert history row: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBus) Poll(ctx context.Context, agentID string, timeout time.Duration) ([]model.AgentMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := b.drain(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *SQLiteBus) drain(ctx context.Context, agentID string) ([]model.AgentMessage, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, payload FROM inbox WHERE agent_id = ? ORDER BY ts ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("bus: query inbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	var msgs []model.AgentMessage
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("bus: scan inbox row: %w", err)
		}
		var m model.AgentMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM inbox WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("bus: delete drained message: %w", err)
		}
	}
	return msgs, nil
}

func (b *SQLiteBus) Broadcast(ctx context.Context, message model.AgentMessage, except []string) error {
	skip := map[string]bool{message.From: true}
	for _, a := range except {
		skip[a] = true
	}

	rows, err := b.db.QueryContext(ctx, `SELECT agent_id FROM agents`)
	if err != nil {
		return fmt.Errorf("bus: query agents: %w", err)
	}
	var agents []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			_ = rows.Close()
			return err
		}
		agents = append(agents, a)
	}
	_ = rows.Close()

	for _, agentID := range agents {
		if skip[agentID] {
			continue
		}
		m := message
		m.To = agentID
		if err := b.Send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLiteBus) GetMessageHistory(ctx context.Context, runID string) ([]model.AgentMessage, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT payload FROM history WHERE run_id = ? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("bus: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.AgentMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m model.AgentMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (b *SQLiteBus) Cleanup(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixNano()
	if _, err := b.db.ExecContext(ctx, `DELETE FROM inbox WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("bus: cleanup inbox: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM history WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("bus: cleanup history: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (b *SQLiteBus) Close() error {
	return b.db.Close()
}
