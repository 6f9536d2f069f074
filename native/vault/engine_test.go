package vault

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"growvault/core/state"
	"growvault/crypto"
	"growvault/storage"
)

func newTestEngine(t *testing.T) (*Engine, *int64) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := NewEngine(manager)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })
	return engine, &now
}

func newOwner(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address()
}

func fund(t *testing.T, e *Engine, addr crypto.Address, amount int64) {
	t.Helper()
	if err := e.Credit(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestInitializeCreatesBothAccounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)

	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	balance, err := engine.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("new vault balance = %s, want 0", balance)
	}
	reward, err := engine.RewardBalance(owner)
	if err != nil {
		t.Fatalf("reward balance: %v", err)
	}
	if reward.Sign() != 0 {
		t.Fatalf("new reward balance = %s, want 0", reward)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Initialize(owner); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize err = %v, want ErrAlreadyInitialized", err)
	}
}

func TestDepositRequiresInitializedVault(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 500)
	if err := engine.Deposit(owner, big.NewInt(100)); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("deposit err = %v, want ErrUninitialized", err)
	}
}

func TestDepositMovesSpendableIntoVault(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 1000)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(600)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	balance, _ := engine.Balance(owner)
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("vault balance = %s, want 600", balance)
	}
	spendable, _ := engine.SpendableBalance(owner)
	if spendable.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("spendable = %s, want 400", spendable)
	}
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit err = %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative deposit err = %v", err)
	}
	if err := engine.Deposit(owner, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil deposit err = %v", err)
	}
}

func TestDepositRejectsOverSpendable(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 50)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(51)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("over-spendable deposit err = %v", err)
	}
	// Nothing should have moved.
	balance, _ := engine.Balance(owner)
	if balance.Sign() != 0 {
		t.Fatalf("vault balance = %s after rejected deposit", balance)
	}
}

func TestWithdrawGuardsRawBalanceOnly(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 1000)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(800)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Withdraw(owner, big.NewInt(801)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("withdraw over balance err = %v", err)
	}
	if err := engine.Withdraw(owner, big.NewInt(800)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	spendable, _ := engine.SpendableBalance(owner)
	if spendable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("spendable = %s, want 1000", spendable)
	}
}

func TestAccrualGrowsWithBalanceAndTime(t *testing.T) {
	engine, now := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 1_000_000)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 100 seconds at 0.01%/s on a 1,000,000 balance: 1,000,000 * 100 / 10,000.
	*now += 100
	if err := engine.Withdraw(owner, big.NewInt(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	reward, _ := engine.RewardBalance(owner)
	if reward.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("reward = %s, want 10000", reward)
	}

	// Accrual checkpoints never move reward balance down.
	*now += 50
	if err := engine.Deposit(owner, big.NewInt(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	rewardAfter, _ := engine.RewardBalance(owner)
	if rewardAfter.Cmp(reward) < 0 {
		t.Fatalf("reward decreased: %s -> %s", reward, rewardAfter)
	}
}

func TestAccrualSkipsSubSecondWindows(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 1000)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Same timestamp as initialize: no elapsed time, no accrual.
	reward, _ := engine.RewardBalance(owner)
	if reward.Sign() != 0 {
		t.Fatalf("reward = %s, want 0", reward)
	}
}

func TestTransferCreditsRecipientSpendable(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	recipient := newOwner(t)
	fund(t, engine, owner, 300)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Transfer(owner, recipient, big.NewInt(120)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, _ := engine.Balance(owner)
	if balance.Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("vault balance = %s, want 180", balance)
	}
	got, _ := engine.SpendableBalance(recipient)
	if got.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("recipient spendable = %s, want 120", got)
	}
}

func TestCloseSweepsBalanceAndDeletesAccounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	fund(t, engine, owner, 500)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Deposit(owner, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Close(owner); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.Balance(owner); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("balance after close err = %v", err)
	}
	spendable, _ := engine.SpendableBalance(owner)
	if spendable.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("spendable after close = %s, want 500", spendable)
	}
	// A closed vault can be re-initialized from scratch.
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
}

func TestTreasuryPay(t *testing.T) {
	engine, _ := newTestEngine(t)
	recipient := newOwner(t)
	if err := engine.TreasuryPay(recipient, big.NewInt(10)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("empty treasury payout err = %v", err)
	}
	fund(t, engine, crypto.TreasuryAddress(), 1000)
	if err := engine.TreasuryPay(recipient, big.NewInt(10)); err != nil {
		t.Fatalf("treasury pay: %v", err)
	}
	treasury, _ := engine.TreasuryBalance()
	if treasury.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("treasury = %s, want 990", treasury)
	}
	got, _ := engine.SpendableBalance(recipient)
	if got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("recipient spendable = %s, want 10", got)
	}
}

func TestConcurrentDepositsLoseNothing(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	const workers = 8
	const depositsPerWorker = 2000
	const total = workers * depositsPerWorker
	fund(t, engine, owner, total)

	var wg sync.WaitGroup
	one := big.NewInt(1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < depositsPerWorker; j++ {
				if err := engine.Deposit(owner, one); err != nil {
					t.Errorf("deposit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := engine.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(total)) != 0 {
		t.Fatalf("vault balance = %s after %d deposits of 1, want %d", balance, total, total)
	}
	spendable, err := engine.SpendableBalance(owner)
	if err != nil {
		t.Fatalf("spendable: %v", err)
	}
	if spendable.Sign() != 0 {
		t.Fatalf("spendable = %s, want 0", spendable)
	}
}

func TestConcurrentWithdrawsNeverOverdraw(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := newOwner(t)
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	fund(t, engine, owner, 1000)
	if err := engine.Deposit(owner, big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// More attempted withdrawals than funds: the excess must fail with
	// ErrInsufficientFunds, never drive the balance negative.
	const workers = 8
	const perWorker = 250
	var wg sync.WaitGroup
	one := big.NewInt(1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := engine.Withdraw(owner, one); err != nil && !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("withdraw: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := engine.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	spendable, err := engine.SpendableBalance(owner)
	if err != nil {
		t.Fatalf("spendable: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("vault balance = %s, want 0", balance)
	}
	if spendable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("spendable = %s, want 1000", spendable)
	}
}
