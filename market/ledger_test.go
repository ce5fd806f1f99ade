package market

import (
	"math/big"
	"testing"

	"marketcore/fixedpoint"
	"marketcore/market/events"
)

// fakeAssets is a minimal in-memory AssetTransactor for ledger tests.
type fakeAssets struct {
	balances map[Address]*big.Int
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{balances: map[Address]*big.Int{}}
}

func (f *fakeAssets) fund(addr Address, amount int64) {
	f.balances[addr] = big.NewInt(amount)
}

func (f *fakeAssets) BalanceOf(addr Address) (*big.Int, error) {
	b, ok := f.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(b), nil
}

func (f *fakeAssets) Transfer(to Address, amount *big.Int) error {
	return f.TransferFrom(marketAddr, to, amount)
}

func (f *fakeAssets) TransferFrom(from, to Address, amount *big.Int) error {
	if f.balances[from] == nil {
		f.balances[from] = big.NewInt(0)
	}
	if f.balances[to] == nil {
		f.balances[to] = big.NewInt(0)
	}
	f.balances[from] = new(big.Int).Sub(f.balances[from], amount)
	f.balances[to] = new(big.Int).Add(f.balances[to], amount)
	return nil
}

// fakeAuth permits everything; its sanctioned set is the only thing that can
// be filled in to make IsSanctioned report true for an account.
type fakeAuth struct {
	sanctioned map[Address]bool
}

func newFakeAuth() *fakeAuth { return &fakeAuth{sanctioned: map[Address]bool{}} }

func (f *fakeAuth) IsSanctioned(borrower, account Address) bool { return f.sanctioned[account] }
func (f *fakeAuth) IsFlagged(account Address) bool              { return false }
func (f *fakeAuth) CreateEscrow(borrower, account Address) (Address, error) {
	return makeAddress(0xEE), nil
}
func (f *fakeAuth) AuthorizeLender(account Address) bool { return true }
func (f *fakeAuth) OnlyController(caller Address) bool   { return true }
func (f *fakeAuth) OnlyBorrower(caller Address) bool     { return true }

const testPool = "pool-1"

var (
	marketAddr  = makeAddress(0x01)
	borrowerAddr = makeAddress(0x02)
	aliceAddr   = makeAddress(0x03)
)

func scenarioParams() Params {
	return Params{
		Borrower:                borrowerAddr,
		Controller:              makeAddress(0x04),
		FeeRecipient:            makeAddress(0x05),
		Sentinel:                makeAddress(0x06),
		MaxTotalSupply:          big.NewInt(1_000_000),
		AnnualInterestBips:      1000,
		ProtocolFeeBips:         0,
		DelinquencyFeeBips:      0,
		DelinquencyGracePeriod:  0,
		ReserveRatioBips:        0,
		WithdrawalBatchDuration: 86400,
	}
}

func newScenarioLedger(t *testing.T, now uint64) (*Ledger, Store, *fakeAssets) {
	t.Helper()
	store := newMemStore()
	assets := newFakeAssets()
	params := scenarioParams()
	state := NewState(testPool, params, now)
	if err := store.PutState(state); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	ledger := NewLedger(testPool, marketAddr, store, assets, newFakeAuth(), &events.Slice{}, params)
	return ledger, store, assets
}

// Scenario 1: pure deposit.
func TestScenarioPureDeposit(t *testing.T) {
	ledger, store, assets := newScenarioLedger(t, 0)
	assets.fund(aliceAddr, 0)
	assets.fund(aliceAddr, 1000)

	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	account, err := store.GetAccount(testPool, aliceAddr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.ScaledBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected scaledBalance 1000, got %s", account.ScaledBalance)
	}
	state, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.ScaledTotalSupply.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected scaledTotalSupply 1000, got %s", state.ScaledTotalSupply)
	}
	held, err := assets.BalanceOf(marketAddr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if held.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected heldAssets 1000, got %s", held)
	}
}

// Scenario 2: interest accrual over one year.
func TestScenarioInterestAccrualOverOneYear(t *testing.T) {
	ledger, store, assets := newScenarioLedger(t, 0)
	assets.fund(aliceAddr, 1000)
	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := ledger.UpdateState(fixedpoint.SecondsPerYear); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	state, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	lowerBound := new(big.Int).Mul(fixedpoint.Ray, big.NewInt(109))
	lowerBound.Quo(lowerBound, big.NewInt(100))
	upperBound := new(big.Int).Mul(fixedpoint.Ray, big.NewInt(111))
	upperBound.Quo(upperBound, big.NewInt(100))
	if state.ScaleFactor.Cmp(lowerBound) < 0 || state.ScaleFactor.Cmp(upperBound) > 0 {
		t.Fatalf("expected scaleFactor near 1.10x Ray, got %s", state.ScaleFactor)
	}

	account, err := store.GetAccount(testPool, aliceAddr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	balance, err := normalizeAmount(account.ScaledBalance, state.ScaleFactor)
	if err != nil {
		t.Fatalf("normalizeAmount: %v", err)
	}
	if balance.Cmp(big.NewInt(1090)) < 0 || balance.Cmp(big.NewInt(1110)) > 0 {
		t.Fatalf("expected balance near 1100, got %s", balance)
	}
	_ = assets
}

// Scenario 3: withdraw round-trip, liquidity ample at expiry.
func TestScenarioWithdrawRoundTrip(t *testing.T) {
	ledger, store, assets := newScenarioLedger(t, 0)
	assets.fund(aliceAddr, 1000)
	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := ledger.UpdateState(fixedpoint.SecondsPerYear); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	if err := ledger.WithdrawRequest(aliceAddr, big.NewInt(500), fixedpoint.SecondsPerYear); err != nil {
		t.Fatalf("WithdrawRequest: %v", err)
	}

	state, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !closeEnough(state.ReservedAssets, big.NewInt(500), 2) {
		t.Fatalf("expected reservedAssets near 500 after immediate payment, got %s", state.ReservedAssets)
	}

	expiry := state.PendingWithdrawalExpiry
	later := expiry + 1

	payout, err := ledger.ExecuteWithdrawal(aliceAddr, expiry, later)
	if err != nil {
		t.Fatalf("ExecuteWithdrawal: %v", err)
	}
	if !closeEnough(payout, big.NewInt(500), 2) {
		t.Fatalf("expected payout near 500, got %s", payout)
	}

	state, err = store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.ReservedAssets.Sign() != 0 {
		t.Fatalf("expected reservedAssets 0 after settlement projection, got %s", state.ReservedAssets)
	}
	held, err := assets.BalanceOf(marketAddr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if !closeEnough(held, big.NewInt(500), 2) {
		t.Fatalf("expected heldAssets near 500, got %s", held)
	}
}

// Scenario 6: close with no unpaid withdrawals.
func TestScenarioCloseWithNoUnpaidWithdrawals(t *testing.T) {
	ledger, store, assets := newScenarioLedger(t, 0)
	assets.fund(aliceAddr, 1000)
	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	controller := makeAddress(0x04)
	if err := ledger.Close(controller, 0); err != nil {
		t.Fatalf("Close: %v", err)
	}

	state, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !state.IsClosed {
		t.Fatalf("expected market closed")
	}
	if state.AnnualInterestBips != 0 {
		t.Fatalf("expected annualInterestBips zeroed, got %d", state.AnnualInterestBips)
	}

	borrowerBalance, err := assets.BalanceOf(borrowerAddr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if borrowerBalance.Sign() != 0 {
		t.Fatalf("expected borrower to receive nothing (heldAssets == totalDebts), got %s", borrowerBalance)
	}

	if err := ledger.Deposit(aliceAddr, big.NewInt(1), 0); err != ErrDepositToClosedMarket {
		t.Fatalf("expected ErrDepositToClosedMarket, got %v", err)
	}
}

// Scenario 5: a market already delinquent entering an interval only pays
// the delinquency fee on the seconds past grace, and the delinquency clock
// advances for the full interval rather than decaying toward zero.
//
// Ledger.Borrow's own cap (borrowable = heldAssets - liquidityRequired)
// guarantees held assets never drop below the required floor from a single
// borrow call, so a deposit-1000/borrow-900 sequence under a 20% reserve
// ratio can't be driven through Borrow itself — see DESIGN.md. This seeds
// the post-borrow state directly (IsDelinquent already true, held assets
// at 100) and exercises the same loadAndProject/project/advanceInterest
// path every entry point runs.
func TestScenarioDelinquencyAccruesOnlyPastGraceOnceTriggered(t *testing.T) {
	store := newMemStore()
	assets := newFakeAssets()
	params := scenarioParams()
	params.ReserveRatioBips = 2000
	params.DelinquencyFeeBips = 500
	params.DelinquencyGracePeriod = 3600

	state := NewState(testPool, params, 0)
	state.ScaledTotalSupply = big.NewInt(1000)
	state.IsDelinquent = true
	if err := store.PutState(state); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	ledger := NewLedger(testPool, marketAddr, store, assets, newFakeAuth(), &events.Slice{}, params)
	assets.balances[marketAddr] = big.NewInt(100)

	if err := ledger.UpdateState(7200); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	got, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.TimeDelinquent != 7200 {
		t.Fatalf("expected TimeDelinquent to advance the full interval, got %d", got.TimeDelinquent)
	}
	if !got.IsDelinquent {
		t.Fatalf("expected market to remain delinquent with held assets still below the required floor")
	}
}

// TestBorrowRecomputesDelinquencyAgainstPostTransferBalance locks in that
// Borrow checks delinquency against the balance after its own transfer, not
// the stale pre-transfer snapshot from loadAndProject, mirroring Repay.
func TestBorrowRecomputesDelinquencyAgainstPostTransferBalance(t *testing.T) {
	store := newMemStore()
	assets := newFakeAssets()
	params := scenarioParams()
	params.ReserveRatioBips = 2000

	state := NewState(testPool, params, 0)
	if err := store.PutState(state); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	ledger := NewLedger(testPool, marketAddr, store, assets, newFakeAuth(), &events.Slice{}, params)
	assets.fund(aliceAddr, 1000)
	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// borrowable = held(1000) - required(20% of 1000 = 200) = 800; borrowing
	// exactly that leaves held == required, which is still not delinquent.
	if err := ledger.Borrow(borrowerAddr, big.NewInt(800), 0); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	got, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.IsDelinquent {
		t.Fatalf("expected the capped borrow to leave the market exactly at, not below, the required floor")
	}
}

// Scenario 4: borrow and partial repay draining the unpaid queue.
func TestScenarioBorrowAndPartialRepay(t *testing.T) {
	ledger, store, assets := newScenarioLedger(t, 0)
	assets.fund(aliceAddr, 1000)
	if err := ledger.Deposit(aliceAddr, big.NewInt(1000), 0); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := ledger.Borrow(borrowerAddr, big.NewInt(800), 0); err != nil {
		t.Fatalf("Borrow: %v", err)
	}

	held, err := assets.BalanceOf(marketAddr)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if held.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected heldAssets 200 after borrow, got %s", held)
	}

	if err := ledger.UpdateState(fixedpoint.SecondsPerYear); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	account, err := store.GetAccount(testPool, aliceAddr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	state, err := store.GetState(testPool)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	normalizedBalance, err := normalizeAmount(account.ScaledBalance, state.ScaleFactor)
	if err != nil {
		t.Fatalf("normalizeAmount: %v", err)
	}

	if err := ledger.WithdrawRequest(aliceAddr, normalizedBalance, fixedpoint.SecondsPerYear); err != nil {
		t.Fatalf("WithdrawRequest: %v", err)
	}

	expiry := fixedpoint.SecondsPerYear + scenarioParams().WithdrawalBatchDuration
	if err := ledger.UpdateState(expiry + 1); err != nil {
		t.Fatalf("UpdateState (trigger expiry): %v", err)
	}

	queue, err := store.UnpaidQueue(testPool)
	if err != nil {
		t.Fatalf("UnpaidQueue: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected batch pushed to unpaid queue, got %v", queue)
	}

	if err := ledger.Repay(borrowerAddr, big.NewInt(900), expiry+1); err != nil {
		t.Fatalf("Repay: %v", err)
	}

	queue, err = store.UnpaidQueue(testPool)
	if err != nil {
		t.Fatalf("UnpaidQueue: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("expected unpaid queue drained after repay, got %v", queue)
	}
}
