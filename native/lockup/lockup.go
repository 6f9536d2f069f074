package lockup

import (
	"errors"
	"math/big"
)

// LockStatus tracks the two-state lifecycle of a time-boxed commitment:
// active until settled, claimed afterwards. Claimed is terminal.
type LockStatus uint8

const (
	LockStatusActive LockStatus = iota
	LockStatusClaimed
)

func (s LockStatus) Valid() bool {
	switch s {
	case LockStatusActive, LockStatusClaimed:
		return true
	default:
		return false
	}
}

func (s LockStatus) String() string {
	switch s {
	case LockStatusActive:
		return "active"
	case LockStatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// ParseStatus converts a stored status string back to its enum form.
func ParseStatus(raw string) (LockStatus, error) {
	switch raw {
	case "active":
		return LockStatusActive, nil
	case "claimed":
		return LockStatusClaimed, nil
	default:
		return 0, ErrInvalidStatus
	}
}

// Fixed-rate reward parameters. The reward is simple pro-rated interest,
// computed once at lock creation and never recomputed.
const (
	// RateBps is the annual reward rate in basis points (10%/yr).
	RateBps = 1000
	// HoursPerYear is the year length used for pro-rating.
	HoursPerYear = 8760
	// MinDurationHours and MaxDurationHours bound accepted lock durations.
	MinDurationHours = 1
	MaxDurationHours = 10 * HoursPerYear
)

var (
	ErrInvalidAmount   = errors.New("lockup: amount must be positive")
	ErrInvalidDuration = errors.New("lockup: invalid duration")
	ErrInvalidStatus   = errors.New("lockup: invalid status")
	// ErrInsufficientAvailableBalance rejects a lock whose principal exceeds
	// the vault balance net of the owner's other active locks.
	ErrInsufficientAvailableBalance = errors.New("lockup: insufficient available balance")
	ErrNotFound                     = errors.New("lockup: lock not found")
	ErrAlreadySettled               = errors.New("lockup: lock already settled")
	ErrStillLocked                  = errors.New("lockup: lock not yet mature")
	ErrTreasuryInsufficient         = errors.New("lockup: treasury cannot fund reward")
)

// Lock is a time-boxed commitment of vault principal. The reward amount is
// fixed at creation; settlement either pays it in full (at or after maturity)
// or forfeits it (force exit), never a fraction.
type Lock struct {
	ID            string
	Owner         string
	Amount        *big.Int
	DurationHours uint64
	RewardAmount  *big.Int
	CreatedAt     int64
	MaturityUnix  int64
	Status        LockStatus
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	out := *l
	out.Amount = cloneBigInt(l.Amount)
	out.RewardAmount = cloneBigInt(l.RewardAmount)
	return &out
}

// Mature reports whether the lock may be settled at full reward at the given
// unix timestamp.
func (l *Lock) Mature(nowUnix int64) bool {
	return nowUnix >= l.MaturityUnix
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// RewardForDuration computes amount × RateBps × hours / (10000 × HoursPerYear)
// in base units, rounding half-up. Integer math throughout so every process
// derives the identical figure.
func RewardForDuration(amount *big.Int, durationHours uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if durationHours < MinDurationHours || durationHours > MaxDurationHours {
		return nil, ErrInvalidDuration
	}
	num := new(big.Int).Mul(amount, big.NewInt(RateBps))
	num.Mul(num, new(big.Int).SetUint64(durationHours))
	den := big.NewInt(10_000 * HoursPerYear)
	num.Add(num, new(big.Int).Rsh(den, 1))
	return num.Div(num, den), nil
}

// NewLock validates the principal and duration and builds an active lock with
// its reward and maturity fixed. The caller supplies the identity and clock.
func NewLock(id, owner string, amount *big.Int, durationHours uint64, nowUnix int64) (*Lock, error) {
	reward, err := RewardForDuration(amount, durationHours)
	if err != nil {
		return nil, err
	}
	return &Lock{
		ID:            id,
		Owner:         owner,
		Amount:        cloneBigInt(amount),
		DurationHours: durationHours,
		RewardAmount:  reward,
		CreatedAt:     nowUnix,
		MaturityUnix:  nowUnix + int64(durationHours)*3600,
		Status:        LockStatusActive,
	}, nil
}

// AvailableBalance returns the vault balance minus the sum of active lock
// amounts. The result can be negative when concurrent creations overcommitted
// past a stale read; callers must treat any non-positive availability as
// exhausted.
func AvailableBalance(vaultBalance *big.Int, locks []*Lock) *big.Int {
	available := cloneBigInt(vaultBalance)
	for _, l := range locks {
		if l == nil || l.Status != LockStatusActive {
			continue
		}
		available.Sub(available, cloneBigInt(l.Amount))
	}
	return available
}
