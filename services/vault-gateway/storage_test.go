package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"growvault/native/lockup"
)

func newTestStore(t *testing.T, name string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustNewLock(t *testing.T, id, owner string, amount int64, hours uint64, now int64) *lockup.Lock {
	t.Helper()
	lock, err := lockup.NewLock(id, owner, big.NewInt(amount), hours, now)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	return lock
}

func TestStoreLockRoundTrip(t *testing.T) {
	store := newTestStore(t, "roundtrip")
	ctx := context.Background()

	lock := mustNewLock(t, "lock-1", "gv1owner", 1_000_000, 24, 1_700_000_000)
	if err := store.InsertLock(ctx, lock); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetLock(ctx, "lock-1", "gv1owner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount.Cmp(lock.Amount) != 0 || got.RewardAmount.Cmp(lock.RewardAmount) != 0 {
		t.Fatalf("amounts mismatch: got %s/%s want %s/%s", got.Amount, got.RewardAmount, lock.Amount, lock.RewardAmount)
	}
	if got.MaturityUnix != lock.MaturityUnix || got.DurationHours != lock.DurationHours {
		t.Fatalf("schedule mismatch: got %d/%d want %d/%d", got.MaturityUnix, got.DurationHours, lock.MaturityUnix, lock.DurationHours)
	}
	if got.Status != lockup.LockStatusActive {
		t.Fatalf("status = %v, want active", got.Status)
	}
}

func TestStoreGetLockScopedToOwner(t *testing.T) {
	store := newTestStore(t, "ownerscope")
	ctx := context.Background()

	lock := mustNewLock(t, "lock-1", "gv1owner", 100, 1, 1_700_000_000)
	if err := store.InsertLock(ctx, lock); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.GetLock(ctx, "lock-1", "gv1other"); !errors.Is(err, lockup.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestStoreMarkClaimedIsConditional(t *testing.T) {
	store := newTestStore(t, "markclaimed")
	ctx := context.Background()

	lock := mustNewLock(t, "lock-1", "gv1owner", 100, 1, 1_700_000_000)
	if err := store.InsertLock(ctx, lock); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.MarkClaimed(ctx, "lock-1", "gv1owner"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.MarkClaimed(ctx, "lock-1", "gv1owner"); !errors.Is(err, lockup.ErrAlreadySettled) {
		t.Fatalf("second claim: expected ErrAlreadySettled, got %v", err)
	}
	if err := store.MarkClaimed(ctx, "lock-missing", "gv1owner"); !errors.Is(err, lockup.ErrNotFound) {
		t.Fatalf("missing lock: expected ErrNotFound, got %v", err)
	}
}

func TestStoreListActiveLocksOrdering(t *testing.T) {
	store := newTestStore(t, "ordering")
	ctx := context.Background()

	now := int64(1_700_000_000)
	for _, tc := range []struct {
		id    string
		hours uint64
	}{
		{"lock-late", 72},
		{"lock-soon", 1},
		{"lock-mid", 24},
	} {
		if err := store.InsertLock(ctx, mustNewLock(t, tc.id, "gv1owner", 100, tc.hours, now)); err != nil {
			t.Fatalf("insert %s: %v", tc.id, err)
		}
	}
	if err := store.MarkClaimed(ctx, "lock-mid", "gv1owner"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	locks, err := store.ListActiveLocks(ctx, "gv1owner")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locks) != 2 {
		t.Fatalf("active locks = %d, want 2", len(locks))
	}
	if locks[0].ID != "lock-soon" || locks[1].ID != "lock-late" {
		t.Fatalf("unexpected order: %s, %s", locks[0].ID, locks[1].ID)
	}
}

func TestStoreDeleteOwnerLocks(t *testing.T) {
	store := newTestStore(t, "purge")
	ctx := context.Background()

	now := int64(1_700_000_000)
	for _, id := range []string{"lock-1", "lock-2"} {
		if err := store.InsertLock(ctx, mustNewLock(t, id, "gv1owner", 100, 1, now)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := store.InsertLock(ctx, mustNewLock(t, "lock-3", "gv1other", 100, 1, now)); err != nil {
		t.Fatalf("insert foreign: %v", err)
	}

	removed, err := store.DeleteOwnerLocks(ctx, "gv1owner")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := store.GetLock(ctx, "lock-3", "gv1other"); err != nil {
		t.Fatalf("foreign lock should survive: %v", err)
	}
}
