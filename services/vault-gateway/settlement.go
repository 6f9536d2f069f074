package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"growvault/native/lockup"
	"growvault/observability"
)

// SettlementService validates lock maturity or forced-exit conditions, pays
// the reward from the treasury and finalizes the lock's status.
//
// The treasury transfer (ledger) and the status flip (registry) live in
// different stores with no transaction spanning them. The transfer runs
// first; if the flip then fails the lock stays active with the reward already
// paid, and the returned error carries both facts so an operator can
// reconcile. The flip is a conditional update, so a second settlement of the
// same lock can never pay twice.
type SettlementService struct {
	store   *SQLiteStore
	ledger  LedgerClient
	retrier *readRetrier
	nowFn   func() int64
}

func NewSettlementService(store *SQLiteStore, ledger LedgerClient, retrier *readRetrier) *SettlementService {
	return &SettlementService{
		store:   store,
		ledger:  ledger,
		retrier: retrier,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Settle finalizes the lock and returns the reward paid: the full precomputed
// reward at or after maturity, zero on force exit. The principal itself is not
// moved here; flipping the status is what returns it to the owner's available
// balance for an ordinary withdraw.
func (s *SettlementService) Settle(ctx context.Context, owner, lockID string, force bool) (*big.Int, error) {
	lock, err := s.store.GetLock(ctx, lockID, owner)
	if err != nil {
		observability.Gateway().Settlements.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if lock.Status != lockup.LockStatusActive {
		observability.Gateway().Settlements.WithLabelValues("rejected").Inc()
		return nil, lockup.ErrAlreadySettled
	}

	mature := lock.Mature(s.nowFn())
	if !mature && !force {
		observability.Gateway().Settlements.WithLabelValues("rejected").Inc()
		return nil, lockup.ErrStillLocked
	}

	payable := big.NewInt(0)
	if mature {
		payable = new(big.Int).Set(lock.RewardAmount)
	}

	if payable.Sign() > 0 {
		treasury, err := s.retrier.do(ctx, s.ledger.TreasuryBalance)
		if err != nil {
			observability.Gateway().Settlements.WithLabelValues("error").Inc()
			return nil, err
		}
		if treasury.Cmp(payable) < 0 {
			observability.Gateway().Settlements.WithLabelValues("rejected").Inc()
			return nil, lockup.ErrTreasuryInsufficient
		}
		if err := s.ledger.TreasuryPay(ctx, owner, payable); err != nil {
			observability.Gateway().Settlements.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	if err := s.store.MarkClaimed(ctx, lockID, owner); err != nil {
		observability.Gateway().Settlements.WithLabelValues("error").Inc()
		if payable.Sign() > 0 {
			return nil, fmt.Errorf("reward of %s paid but lock %s not finalized, reconcile manually: %w", payable, lockID, err)
		}
		return nil, err
	}

	outcome := "forced"
	if mature {
		outcome = "matured"
	}
	observability.Gateway().Settlements.WithLabelValues(outcome).Inc()
	if payable.Sign() > 0 {
		reward, _ := new(big.Float).SetInt(payable).Float64()
		observability.Gateway().RewardsPaid.Add(reward)
	}
	return payable, nil
}
