// Package sqlite provides a snapshot store backed by an embedded SQLite
// database. Snapshots are stored as JSON documents with a handful of
// columns lifted out for querying and for the concurrency-token guard.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 TEXT PRIMARY KEY,
	definition_key     TEXT NOT NULL DEFAULT '',
	definition_version INTEGER NOT NULL DEFAULT 0,
	is_completed       INTEGER NOT NULL DEFAULT 0,
	has_failure        INTEGER NOT NULL DEFAULT 0,
	concurrency_token  INTEGER NOT NULL DEFAULT 0,
	payload            TEXT NOT NULL,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_completed
	ON workflow_instances (is_completed);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_definition
	ON workflow_instances (definition_key, definition_version);
`

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	// Busy timeout covers concurrent turns of different instances
	// hitting the same file.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot upserts a snapshot. The update arm only fires when the
// incoming concurrency token is strictly greater than the stored one;
// a zero-row outcome on an existing instance means the write was stale.
func (s *Store) SaveSnapshot(ctx context.Context, snap *instance.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot: %w", err)
	}

	hasFailure := 0
	if snap.Failure != nil {
		hasFailure = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
			(id, definition_key, definition_version, is_completed, has_failure,
			 concurrency_token, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			definition_key     = excluded.definition_key,
			definition_version = excluded.definition_version,
			is_completed       = excluded.is_completed,
			has_failure        = excluded.has_failure,
			concurrency_token  = excluded.concurrency_token,
			payload            = excluded.payload,
			updated_at         = excluded.updated_at
		WHERE excluded.concurrency_token > workflow_instances.concurrency_token`,
		snap.ID, snap.DefinitionKey, snap.DefinitionVersion, boolInt(snap.IsCompleted),
		hasFailure, snap.ConcurrencyToken, string(payload), snap.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot %s: %w", snap.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot %s: %w", snap.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: instance %s token %d", fleans.ErrStaleSnapshot, snap.ID, snap.ConcurrencyToken)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for a workflow instance.
func (s *Store) GetSnapshot(ctx context.Context, instanceID id.InstanceID) (*instance.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM workflow_instances WHERE id = ?`, instanceID.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleans.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get snapshot %s: %w", instanceID, err)
	}
	return unmarshalSnapshot(payload)
}

// ListSnapshots returns snapshots matching the given options, ordered by
// instance id.
func (s *Store) ListSnapshots(ctx context.Context, opts store.ListOpts) ([]*instance.Snapshot, error) {
	q := `SELECT payload FROM workflow_instances`
	args := []any{}
	if opts.Completed != nil {
		q += ` WHERE is_completed = ?`
		args = append(args, boolInt(*opts.Completed))
	}
	q += ` ORDER BY id`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires LIMIT when OFFSET is present.
		q += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		q += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*instance.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: list snapshots: %w", err)
		}
		snap, err := unmarshalSnapshot(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots: %w", err)
	}
	return out, nil
}

func unmarshalSnapshot(payload string) (*instance.Snapshot, error) {
	var snap instance.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
