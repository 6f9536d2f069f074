package types

import "math/big"

// VaultAccount is the program-governed account holding an owner's deposited
// balance. LastUpdateUnix records the last accrual checkpoint; reward points
// are earned against the balance held since that timestamp.
type VaultAccount struct {
	Owner          []byte
	Balance        *big.Int
	LastUpdateUnix uint64
}

// RewardAccount holds the owner's non-liquid accrual points. It is created
// alongside the vault and only the ledger program mutates it.
type RewardAccount struct {
	Balance *big.Int
}

// Clone returns a deep copy so callers can mutate freely.
func (a *VaultAccount) Clone() *VaultAccount {
	if a == nil {
		return nil
	}
	out := &VaultAccount{
		Owner:          append([]byte(nil), a.Owner...),
		Balance:        big.NewInt(0),
		LastUpdateUnix: a.LastUpdateUnix,
	}
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	return out
}

// Clone returns a deep copy so callers can mutate freely.
func (a *RewardAccount) Clone() *RewardAccount {
	if a == nil {
		return nil
	}
	out := &RewardAccount{Balance: big.NewInt(0)}
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	return out
}
