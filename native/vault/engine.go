package vault

import (
	"math/big"
	"sync"
	"time"

	"growvault/core/types"
	"growvault/crypto"
	"growvault/storage"
)

// accrualDivisor sets the accrual rate: each second the vault balance earns
// balance/accrualDivisor reward points (0.01% per second).
const accrualDivisor = 10_000

type engineState interface {
	VaultGet(addr []byte) (*types.VaultAccount, bool, error)
	VaultPut(batch *storage.Batch, addr []byte, acc *types.VaultAccount) error
	VaultDelete(batch *storage.Batch, addr []byte)
	RewardGet(addr []byte) (*types.RewardAccount, bool, error)
	RewardPut(batch *storage.Batch, addr []byte, acc *types.RewardAccount) error
	RewardDelete(batch *storage.Batch, addr []byte)
	SpendableGet(addr []byte) (*big.Int, error)
	SpendablePut(batch *storage.Batch, addr []byte, balance *big.Int) error
	Apply(batch *storage.Batch) error
}

// Engine executes the vault ledger program: one vault account and one reward
// accrual account per owner, mutated only through the operations below. Every
// operation stages its writes into a single batch so either all balance
// changes apply or none do.
//
// The engine is deliberately lock-unaware. Availability policy for time-boxed
// commitments lives off-ledger; callers enforce it before asking the ledger
// to move funds.
//
// Mutating operations serialize on mu: each one is a read-modify-write over
// the state manager, and the RPC server calls in from concurrent request
// goroutines. The mutex is held from the first state read through Apply so
// no two writers can stage batches against the same snapshot.
type Engine struct {
	mu    sync.Mutex
	state engineState
	nowFn func() int64
}

func NewEngine(state engineState) *Engine {
	return &Engine{
		state: state,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for accrual checkpoints.
// Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func deriveAccounts(owner crypto.Address) (vaultAddr, rewardAddr crypto.Address, err error) {
	vaultAddr, err = crypto.DeriveVaultAddress(owner)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	rewardAddr, err = crypto.DeriveRewardAddress(owner)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	return vaultAddr, rewardAddr, nil
}

// accrue advances the reward accrual checkpoint. Points grow with the balance
// held and the elapsed time since the previous mutating operation; sub-second
// intervals are skipped. The growth is monotonic and never negative.
func accrue(vaultAcc *types.VaultAccount, rewardAcc *types.RewardAccount, now int64) {
	if now < 0 {
		return
	}
	elapsed := uint64(now) - vaultAcc.LastUpdateUnix
	if uint64(now) < vaultAcc.LastUpdateUnix {
		elapsed = 0
	}
	if elapsed < 1 {
		return
	}
	earned := new(big.Int).Mul(vaultAcc.Balance, new(big.Int).SetUint64(elapsed))
	earned.Div(earned, big.NewInt(accrualDivisor))
	rewardAcc.Balance = new(big.Int).Add(rewardAcc.Balance, earned)
	vaultAcc.LastUpdateUnix = uint64(now)
}

func (e *Engine) loadOwnerAccounts(owner crypto.Address) (vaultAddr, rewardAddr crypto.Address, vaultAcc *types.VaultAccount, rewardAcc *types.RewardAccount, err error) {
	vaultAddr, rewardAddr, err = deriveAccounts(owner)
	if err != nil {
		return
	}
	acc, ok, err := e.state.VaultGet(vaultAddr.Bytes())
	if err != nil {
		return
	}
	if !ok {
		err = ErrUninitialized
		return
	}
	vaultAcc = acc
	reward, ok, err := e.state.RewardGet(rewardAddr.Bytes())
	if err != nil {
		return
	}
	if !ok {
		reward = &types.RewardAccount{Balance: big.NewInt(0)}
	}
	rewardAcc = reward
	return
}

// Initialize creates the owner's vault and reward accrual accounts in one
// atomic write. It fails if the derived vault account already exists.
func (e *Engine) Initialize(owner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vaultAddr, rewardAddr, err := deriveAccounts(owner)
	if err != nil {
		return err
	}
	if _, exists, err := e.state.VaultGet(vaultAddr.Bytes()); err != nil {
		return err
	} else if exists {
		return ErrAlreadyInitialized
	}
	batch := storage.NewBatch()
	vaultAcc := &types.VaultAccount{
		Owner:          owner.Bytes(),
		Balance:        big.NewInt(0),
		LastUpdateUnix: uint64(e.now()),
	}
	if err := e.state.VaultPut(batch, vaultAddr.Bytes(), vaultAcc); err != nil {
		return err
	}
	if err := e.state.RewardPut(batch, rewardAddr.Bytes(), &types.RewardAccount{Balance: big.NewInt(0)}); err != nil {
		return err
	}
	return e.state.Apply(batch)
}

// Deposit moves amount from the owner's spendable funds into the vault,
// accruing reward points first.
func (e *Engine) Deposit(owner crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vaultAddr, rewardAddr, vaultAcc, rewardAcc, err := e.loadOwnerAccounts(owner)
	if err != nil {
		return err
	}
	spendable, err := e.state.SpendableGet(owner.Bytes())
	if err != nil {
		return err
	}
	if spendable.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	accrue(vaultAcc, rewardAcc, e.now())
	vaultAcc.Balance = new(big.Int).Add(vaultAcc.Balance, amount)
	spendable = new(big.Int).Sub(spendable, amount)

	batch := storage.NewBatch()
	if err := e.state.VaultPut(batch, vaultAddr.Bytes(), vaultAcc); err != nil {
		return err
	}
	if err := e.state.RewardPut(batch, rewardAddr.Bytes(), rewardAcc); err != nil {
		return err
	}
	if err := e.state.SpendablePut(batch, owner.Bytes(), spendable); err != nil {
		return err
	}
	return e.state.Apply(batch)
}

// Withdraw moves amount from the vault back to the owner's spendable funds.
// The ledger checks only the raw vault balance; callers enforce availability
// against active off-ledger commitments before calling.
func (e *Engine) Withdraw(owner crypto.Address, amount *big.Int) error {
	return e.debitVault(owner, owner, amount)
}

// Transfer moves amount from the owner's vault to an arbitrary recipient's
// spendable funds.
func (e *Engine) Transfer(owner, recipient crypto.Address, amount *big.Int) error {
	return e.debitVault(owner, recipient, amount)
}

func (e *Engine) debitVault(owner, recipient crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vaultAddr, rewardAddr, vaultAcc, rewardAcc, err := e.loadOwnerAccounts(owner)
	if err != nil {
		return err
	}
	if vaultAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	accrue(vaultAcc, rewardAcc, e.now())
	vaultAcc.Balance = new(big.Int).Sub(vaultAcc.Balance, amount)
	recipientSpendable, err := e.state.SpendableGet(recipient.Bytes())
	if err != nil {
		return err
	}
	recipientSpendable = new(big.Int).Add(recipientSpendable, amount)

	batch := storage.NewBatch()
	if err := e.state.VaultPut(batch, vaultAddr.Bytes(), vaultAcc); err != nil {
		return err
	}
	if err := e.state.RewardPut(batch, rewardAddr.Bytes(), rewardAcc); err != nil {
		return err
	}
	if err := e.state.SpendablePut(batch, recipient.Bytes(), recipientSpendable); err != nil {
		return err
	}
	return e.state.Apply(batch)
}

// Close removes the owner's vault and reward accounts, sweeping any remaining
// vault balance back to the owner's spendable funds. Accrued reward points are
// forfeited. Callers must clear the owner's off-ledger commitments first.
func (e *Engine) Close(owner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vaultAddr, rewardAddr, vaultAcc, _, err := e.loadOwnerAccounts(owner)
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	if vaultAcc.Balance.Sign() > 0 {
		spendable, err := e.state.SpendableGet(owner.Bytes())
		if err != nil {
			return err
		}
		spendable = new(big.Int).Add(spendable, vaultAcc.Balance)
		if err := e.state.SpendablePut(batch, owner.Bytes(), spendable); err != nil {
			return err
		}
	}
	e.state.VaultDelete(batch, vaultAddr.Bytes())
	e.state.RewardDelete(batch, rewardAddr.Bytes())
	return e.state.Apply(batch)
}

// Balance returns the owner's current vault balance.
func (e *Engine) Balance(owner crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	vaultAddr, err := crypto.DeriveVaultAddress(owner)
	if err != nil {
		return nil, err
	}
	acc, ok, err := e.state.VaultGet(vaultAddr.Bytes())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUninitialized
	}
	return cloneBigInt(acc.Balance), nil
}

// RewardBalance returns the owner's accrued reward points as last
// checkpointed; pending accrual since the last mutating operation is not
// included.
func (e *Engine) RewardBalance(owner crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rewardAddr, err := crypto.DeriveRewardAddress(owner)
	if err != nil {
		return nil, err
	}
	acc, ok, err := e.state.RewardGet(rewardAddr.Bytes())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUninitialized
	}
	return cloneBigInt(acc.Balance), nil
}

// SpendableBalance returns the externally spendable funds held at addr.
func (e *Engine) SpendableBalance(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.SpendableGet(addr.Bytes())
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

// Credit adds amount to an address's spendable funds. Used for genesis
// allocations and the development faucet; it is not reachable through the
// vault program itself.
func (e *Engine) Credit(addr crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	balance, err := e.state.SpendableGet(addr.Bytes())
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(balance, amount)
	batch := storage.NewBatch()
	if err := e.state.SpendablePut(batch, addr.Bytes(), balance); err != nil {
		return err
	}
	return e.state.Apply(batch)
}

// TreasuryBalance returns the reward treasury's spendable funds.
func (e *Engine) TreasuryBalance() (*big.Int, error) {
	return e.SpendableBalance(crypto.TreasuryAddress())
}

// TreasuryPay moves amount from the reward treasury to the recipient's
// spendable funds. All-or-nothing: an underfunded treasury rejects the whole
// payout.
func (e *Engine) TreasuryPay(recipient crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	treasury := crypto.TreasuryAddress()
	treasuryBalance, err := e.state.SpendableGet(treasury.Bytes())
	if err != nil {
		return err
	}
	if treasuryBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	recipientBalance, err := e.state.SpendableGet(recipient.Bytes())
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	if err := e.state.SpendablePut(batch, treasury.Bytes(), new(big.Int).Sub(treasuryBalance, amount)); err != nil {
		return err
	}
	if err := e.state.SpendablePut(batch, recipient.Bytes(), new(big.Int).Add(recipientBalance, amount)); err != nil {
		return err
	}
	return e.state.Apply(batch)
}
