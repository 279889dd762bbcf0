// Package store defines the persistence contract for workflow instance
// snapshots. Backends live in subpackages: memory for tests and
// development, sqlite for embedded durable storage.
package store

import (
	"context"

	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
)

// ListOpts controls pagination for snapshot list queries.
type ListOpts struct {
	// Limit is the maximum number of snapshots to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of snapshots to skip.
	Offset int
	// Completed filters by the IsCompleted flag when non-nil.
	Completed *bool
}

// Store is the persistence contract for workflow instance snapshots.
//
// Writes are guarded by the snapshot's concurrency token: SaveSnapshot
// rejects a write whose token is not strictly greater than the stored
// one, so a stale writer fails with fleans.ErrStaleSnapshot instead of
// silently overwriting newer state.
type Store interface {
	// SaveSnapshot persists a snapshot, enforcing the concurrency token.
	SaveSnapshot(ctx context.Context, snap *instance.Snapshot) error

	// GetSnapshot retrieves the snapshot for a workflow instance.
	// Returns fleans.ErrSnapshotNotFound when absent.
	GetSnapshot(ctx context.Context, instanceID id.InstanceID) (*instance.Snapshot, error)

	// ListSnapshots returns snapshots matching the given options, ordered
	// by instance id (TypeIDs are K-sortable, so this is creation order).
	ListSnapshots(ctx context.Context, opts ListOpts) ([]*instance.Snapshot, error)

	// Migrate prepares the backend schema.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
