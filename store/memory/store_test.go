package memory_test

import (
	"context"
	"errors"
	"testing"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/store"
	"github.com/nightBaker/fleans-sub002/store/memory"
)

func newSnapshot(t *testing.T, token int64) *instance.Snapshot {
	t.Helper()
	wf := instance.New()
	snap := wf.Snapshot()
	snap.ConcurrencyToken = token
	return snap
}

func TestSaveAndGetSnapshot(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	snap := newSnapshot(t, 1)
	snap.VariableStates = []instance.VariableState{{Key: "amount", Value: float64(42)}}

	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	instID, err := id.ParseInstanceID(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSnapshot(ctx, instID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.ID != snap.ID || got.ConcurrencyToken != 1 {
		t.Errorf("got id=%s token=%d, want id=%s token=1", got.ID, got.ConcurrencyToken, snap.ID)
	}
	if len(got.VariableStates) != 1 || got.VariableStates[0].Key != "amount" {
		t.Errorf("variable states = %+v", got.VariableStates)
	}

	// The stored snapshot must be isolated from caller mutation.
	got.VariableStates[0].Key = "mutated"
	again, err := s.GetSnapshot(ctx, instID)
	if err != nil {
		t.Fatal(err)
	}
	if again.VariableStates[0].Key != "amount" {
		t.Error("stored snapshot leaked caller mutation")
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := memory.New()
	_, err := s.GetSnapshot(context.Background(), id.NewInstanceID())
	if !errors.Is(err, fleans.ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSaveSnapshot_RejectsStaleToken(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	snap := newSnapshot(t, 2)
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	stale := *snap
	stale.ConcurrencyToken = 2
	if err := s.SaveSnapshot(ctx, &stale); !errors.Is(err, fleans.ErrStaleSnapshot) {
		t.Fatalf("equal token: err = %v, want ErrStaleSnapshot", err)
	}
	stale.ConcurrencyToken = 1
	if err := s.SaveSnapshot(ctx, &stale); !errors.Is(err, fleans.ErrStaleSnapshot) {
		t.Fatalf("lower token: err = %v, want ErrStaleSnapshot", err)
	}

	newer := *snap
	newer.ConcurrencyToken = 3
	if err := s.SaveSnapshot(ctx, &newer); err != nil {
		t.Fatalf("newer token rejected: %v", err)
	}
}

func TestListSnapshots(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for i := range 3 {
		snap := newSnapshot(t, int64(i+1))
		if i == 2 {
			snap.IsCompleted = true
		}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSnapshots(ctx, store.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// TypeIDs are K-sortable, so list order is creation order.
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Errorf("list not ordered: %s >= %s", all[i-1].ID, all[i].ID)
		}
	}

	completed := true
	done, err := s.ListSnapshots(ctx, store.ListOpts{Completed: &completed})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || !done[0].IsCompleted {
		t.Errorf("completed filter returned %d snapshots", len(done))
	}

	page, err := s.ListSnapshots(ctx, store.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != all[1].ID {
		t.Errorf("pagination returned %+v", page)
	}
}
