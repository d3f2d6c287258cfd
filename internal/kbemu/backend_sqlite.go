package kbemu

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteStateTableName   = "emulator_state"
	sqliteOperationTimeout = 5 * time.Second
)

// SQLiteStateBackend keeps the snapshot in a local SQLite database in WAL
// mode. The connection is opened eagerly so a bad path fails at startup.
type SQLiteStateBackend struct {
	path     string
	stateKey string
	db       *sql.DB
}

func NewSQLiteStateBackend(path string) (*SQLiteStateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidInput)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Writes are serialized by the store; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		state_key TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, sqliteStateTableName)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}
	return &SQLiteStateBackend{path: path, stateKey: postgresStateKey, db: db}, nil
}

func (b *SQLiteStateBackend) Load() (*persistedState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	var payload string
	err := b.db.QueryRowContext(ctx,
		"SELECT snapshot FROM "+sqliteStateTableName+" WHERE state_key = ?", b.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot([]byte(payload))
}

func (b *SQLiteStateBackend) Save(state *persistedState) error {
	if state == nil {
		return nil
	}
	payload, err := encodeSnapshot(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO `+sqliteStateTableName+` (state_key, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(state_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = CURRENT_TIMESTAMP`, b.stateKey, payload)
	return err
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func encodeSnapshot(state *persistedState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
