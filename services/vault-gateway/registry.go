package main

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"growvault/native/lockup"
	"growvault/observability"
)

// LockRegistry enforces availability policy over the ledger's live balance
// and the durable lock rows. Availability is recomputed from fresh reads on
// every call; caching it would let a stale balance bypass the invariant.
type LockRegistry struct {
	store   *SQLiteStore
	ledger  LedgerClient
	retrier *readRetrier
	nowFn   func() int64
	newID   func() string
}

func NewLockRegistry(store *SQLiteStore, ledger LedgerClient, retrier *readRetrier) *LockRegistry {
	return &LockRegistry{
		store:   store,
		ledger:  ledger,
		retrier: retrier,
		nowFn:   func() int64 { return time.Now().Unix() },
		newID:   func() string { return uuid.NewString() },
	}
}

func (r *LockRegistry) vaultBalance(ctx context.Context, owner string) (*big.Int, error) {
	return r.retrier.do(ctx, func(ctx context.Context) (*big.Int, error) {
		return r.ledger.VaultBalance(ctx, owner)
	})
}

// AvailableBalance returns the owner's vault balance minus the sum of their
// active lock amounts, both freshly read.
func (r *LockRegistry) AvailableBalance(ctx context.Context, owner string) (*big.Int, error) {
	balance, err := r.vaultBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	locks, err := r.store.ListActiveLocks(ctx, owner)
	if err != nil {
		return nil, err
	}
	return lockup.AvailableBalance(balance, locks), nil
}

// CreateLock validates the principal against current availability and
// persists a new active lock with its reward fixed. Two concurrent calls can
// both validate against the same fresh reads and overcommit; that window is
// accepted here and closed by running one gateway per owner partition.
func (r *LockRegistry) CreateLock(ctx context.Context, owner string, amount *big.Int, durationHours uint64) (*lockup.Lock, error) {
	lock, err := lockup.NewLock(r.newID(), owner, amount, durationHours, r.nowFn())
	if err != nil {
		observability.Gateway().LocksCreated.WithLabelValues("rejected").Inc()
		return nil, err
	}
	available, err := r.AvailableBalance(ctx, owner)
	if err != nil {
		observability.Gateway().LocksCreated.WithLabelValues("error").Inc()
		return nil, err
	}
	if amount.Cmp(available) > 0 {
		observability.Gateway().LocksCreated.WithLabelValues("rejected").Inc()
		return nil, lockup.ErrInsufficientAvailableBalance
	}
	if err := r.store.InsertLock(ctx, lock); err != nil {
		observability.Gateway().LocksCreated.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.Gateway().LocksCreated.WithLabelValues("created").Inc()
	return lock, nil
}

// ActiveLocks lists the owner's active locks, soonest-maturing first.
func (r *LockRegistry) ActiveLocks(ctx context.Context, owner string) ([]*lockup.Lock, error) {
	return r.store.ListActiveLocks(ctx, owner)
}

// PurgeOwner removes all lock rows for an owner as part of account closure.
func (r *LockRegistry) PurgeOwner(ctx context.Context, owner string) (int64, error) {
	return r.store.DeleteOwnerLocks(ctx, owner)
}
