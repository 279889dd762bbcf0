// Package memory provides a fully in-memory snapshot store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*instance.Snapshot
}

// New returns a new empty Store.
func New() *Store {
	return &Store{snapshots: make(map[string]*instance.Snapshot)}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// SaveSnapshot persists a snapshot, enforcing the concurrency token.
func (m *Store) SaveSnapshot(_ context.Context, snap *instance.Snapshot) error {
	cp, err := deepCopy(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[snap.ID]; ok && existing.ConcurrencyToken >= snap.ConcurrencyToken {
		return fmt.Errorf("%w: instance %s token %d, stored %d",
			fleans.ErrStaleSnapshot, snap.ID, snap.ConcurrencyToken, existing.ConcurrencyToken)
	}
	m.snapshots[snap.ID] = cp
	return nil
}

// GetSnapshot retrieves the snapshot for a workflow instance.
func (m *Store) GetSnapshot(_ context.Context, instanceID id.InstanceID) (*instance.Snapshot, error) {
	m.mu.RLock()
	snap, ok := m.snapshots[instanceID.String()]
	m.mu.RUnlock()

	if !ok {
		return nil, fleans.ErrSnapshotNotFound
	}
	return deepCopy(snap)
}

// ListSnapshots returns snapshots matching the given options.
func (m *Store) ListSnapshots(_ context.Context, opts store.ListOpts) ([]*instance.Snapshot, error) {
	m.mu.RLock()
	all := make([]*instance.Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		if opts.Completed != nil && snap.IsCompleted != *opts.Completed {
			continue
		}
		all = append(all, snap)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool { return all[i].ID < all[k].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}

	out := make([]*instance.Snapshot, len(all))
	for i, snap := range all {
		cp, err := deepCopy(snap)
		if err != nil {
			return nil, err
		}
		out[i] = cp
	}
	return out, nil
}

// deepCopy isolates stored snapshots from caller mutation. Snapshots are
// JSON-shaped by contract, so a marshal round-trip is a faithful copy.
func deepCopy(snap *instance.Snapshot) (*instance.Snapshot, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("memory: copy snapshot: %w", err)
	}
	var cp instance.Snapshot
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("memory: copy snapshot: %w", err)
	}
	return &cp, nil
}
