package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"growvault/core/types"
	"growvault/storage"
)

var (
	vaultPrefix     = []byte("vault/account/")
	rewardPrefix    = []byte("vault/reward/")
	spendablePrefix = []byte("bank/spendable/")
)

// Manager persists ledger account state in deterministic key/value form over
// any storage.Database. Writes are staged into a storage.Batch by the caller
// and applied atomically via Apply.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func vaultKey(addr []byte) []byte {
	return append(append([]byte(nil), vaultPrefix...), addr...)
}

func rewardKey(addr []byte) []byte {
	return append(append([]byte(nil), rewardPrefix...), addr...)
}

func spendableKey(addr []byte) []byte {
	return append(append([]byte(nil), spendablePrefix...), addr...)
}

type storedVault struct {
	Owner          []byte
	Balance        *big.Int
	LastUpdateUnix uint64
}

type storedReward struct {
	Balance *big.Int
}

// VaultGet loads the vault account stored at addr. The boolean reports
// whether the account exists.
func (m *Manager) VaultGet(addr []byte) (*types.VaultAccount, bool, error) {
	data, err := m.db.Get(vaultKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedVault)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("decode vault account: %w", err)
	}
	acc := &types.VaultAccount{
		Owner:          append([]byte(nil), stored.Owner...),
		Balance:        big.NewInt(0),
		LastUpdateUnix: stored.LastUpdateUnix,
	}
	if stored.Balance != nil {
		acc.Balance = new(big.Int).Set(stored.Balance)
	}
	return acc, true, nil
}

// VaultPut stages a vault account write into the batch.
func (m *Manager) VaultPut(batch *storage.Batch, addr []byte, acc *types.VaultAccount) error {
	if acc == nil {
		return errors.New("state: nil vault account")
	}
	stored := &storedVault{
		Owner:          append([]byte(nil), acc.Owner...),
		Balance:        big.NewInt(0),
		LastUpdateUnix: acc.LastUpdateUnix,
	}
	if acc.Balance != nil {
		if acc.Balance.Sign() < 0 {
			return errors.New("state: negative vault balance")
		}
		stored.Balance = new(big.Int).Set(acc.Balance)
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	batch.Put(vaultKey(addr), encoded)
	return nil
}

// VaultDelete stages removal of a vault account.
func (m *Manager) VaultDelete(batch *storage.Batch, addr []byte) {
	batch.Delete(vaultKey(addr))
}

// RewardGet loads the reward accrual account stored at addr.
func (m *Manager) RewardGet(addr []byte) (*types.RewardAccount, bool, error) {
	data, err := m.db.Get(rewardKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedReward)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("decode reward account: %w", err)
	}
	acc := &types.RewardAccount{Balance: big.NewInt(0)}
	if stored.Balance != nil {
		acc.Balance = new(big.Int).Set(stored.Balance)
	}
	return acc, true, nil
}

// RewardPut stages a reward account write into the batch.
func (m *Manager) RewardPut(batch *storage.Batch, addr []byte, acc *types.RewardAccount) error {
	if acc == nil {
		return errors.New("state: nil reward account")
	}
	stored := &storedReward{Balance: big.NewInt(0)}
	if acc.Balance != nil {
		if acc.Balance.Sign() < 0 {
			return errors.New("state: negative reward balance")
		}
		stored.Balance = new(big.Int).Set(acc.Balance)
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	batch.Put(rewardKey(addr), encoded)
	return nil
}

// RewardDelete stages removal of a reward account.
func (m *Manager) RewardDelete(batch *storage.Batch, addr []byte) {
	batch.Delete(rewardKey(addr))
}

// SpendableGet returns the externally spendable balance held at addr. Unknown
// addresses hold zero.
func (m *Manager) SpendableGet(addr []byte) (*big.Int, error) {
	data, err := m.db.Get(spendableKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("decode spendable balance: %w", err)
	}
	return balance, nil
}

// SpendablePut stages a spendable balance write into the batch.
func (m *Manager) SpendablePut(batch *storage.Batch, addr []byte, balance *big.Int) error {
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return errors.New("state: negative spendable balance")
	}
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	batch.Put(spendableKey(addr), encoded)
	return nil
}

// Apply commits the staged batch atomically.
func (m *Manager) Apply(batch *storage.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return m.db.Write(batch)
}
