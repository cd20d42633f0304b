// Package store persists signed sync checkpoints in SQLite so devices can
// audit convergence history. The store is append-and-list only; belief state
// itself is never persisted, always recomputed from the event log.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Checkpoint is one signed convergence record: the state hash and merkle root
// a device reached after a sync, sealed by the syncing key.
type Checkpoint struct {
	VaultUID   string `json:"vault_uid"`
	StateHash  string `json:"state_hash"`
	MerkleRoot string `json:"merkle_root"`
	EventCount int    `json:"event_count"`
	KeyID      string `json:"key_id"`
	Signature  string `json:"signature"`
	CreatedAt  string `json:"created_at"`
}

// CheckpointStore is a SQLite-backed checkpoint log.
type CheckpointStore struct {
	db *sql.DB
}

// Open opens (or creates) a checkpoint database at path. Use ":memory:" for
// tests.
func Open(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open checkpoint db: %w", err)
	}
	s := &CheckpointStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewCheckpointStore wraps an existing database handle.
func NewCheckpointStore(db *sql.DB) (*CheckpointStore, error) {
	s := &CheckpointStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CheckpointStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vault_uid TEXT NOT NULL,
		state_hash TEXT NOT NULL,
		merkle_root TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		key_id TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// Append records one checkpoint.
func (s *CheckpointStore) Append(ctx context.Context, cp Checkpoint) error {
	query := `
	INSERT INTO checkpoints (vault_uid, state_hash, merkle_root, event_count, key_id, signature, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		cp.VaultUID, cp.StateHash, cp.MerkleRoot, cp.EventCount, cp.KeyID, cp.Signature, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint for a vault, or nil when none exist.
func (s *CheckpointStore) Latest(ctx context.Context, vaultUID string) (*Checkpoint, error) {
	query := `
	SELECT vault_uid, state_hash, merkle_root, event_count, key_id, signature, created_at
	FROM checkpoints WHERE vault_uid = ? ORDER BY id DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, vaultUID)
	var cp Checkpoint
	err := row.Scan(&cp.VaultUID, &cp.StateHash, &cp.MerkleRoot, &cp.EventCount, &cp.KeyID, &cp.Signature, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns a vault's checkpoints oldest first.
func (s *CheckpointStore) List(ctx context.Context, vaultUID string) ([]Checkpoint, error) {
	query := `
	SELECT vault_uid, state_hash, merkle_root, event_count, key_id, signature, created_at
	FROM checkpoints WHERE vault_uid = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, vaultUID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.VaultUID, &cp.StateHash, &cp.MerkleRoot, &cp.EventCount, &cp.KeyID, &cp.Signature, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate checkpoints: %w", err)
	}
	return out, nil
}
