package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersister stores sessions in a local SQLite database. Message
// history is serialized as a JSON column; sessions are single-writer by
// construction so row-level contention is not a concern.
type SQLitePersister struct {
	db *sql.DB
}

var sessionMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		messages       TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		last_active_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at)`,
}

// NewSQLitePersister opens (creating if necessary) the database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sessions database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range sessionMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sessions database: %w", err)
		}
	}
	return &SQLitePersister{db: db}, nil
}

func (p *SQLitePersister) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, messages, created_at, last_active_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET messages = excluded.messages, last_active_at = excluded.last_active_at`,
		s.ID, string(raw), s.CreatedAt, s.LastActiveAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context, id string) (*Session, error) {
	var (
		raw        string
		created    time.Time
		lastActive time.Time
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT messages, created_at, last_active_at FROM sessions WHERE id = ?`, id).
		Scan(&raw, &created, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", id, err)
	}
	return &Session{
		ID:           id,
		Messages:     messages,
		CreatedAt:    created,
		LastActiveAt: lastActive,
	}, nil
}

func (p *SQLitePersister) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
