package market

import (
	"errors"
	"log/slog"
	"math/big"

	"marketcore/fixedpoint"
	"marketcore/market/events"
	"marketcore/observability/logging"
)

// errMarketNotInitialized guards against calling an entry point before
// NewState has been persisted for the pool. It is not part of the closed
// error enumeration in spec.md 7 since it signals a setup bug, not a
// business outcome a caller can hit through normal use.
var errMarketNotInitialized = errors.New("market: state not initialized for pool")

// Params are the frozen-at-construction market parameters from spec.md 6.
type Params struct {
	Borrower                Address
	Controller              Address
	FeeRecipient            Address
	Sentinel                Address
	MaxTotalSupply          *big.Int
	AnnualInterestBips      uint64
	ProtocolFeeBips         uint64
	DelinquencyFeeBips      uint64
	DelinquencyGracePeriod  uint64
	ReserveRatioBips        uint64
	WithdrawalBatchDuration uint64
}

// NewState builds the genesis MarketState for a pool, per spec.md 3's
// lifecycle note: scaleFactor = RAY, lastInterestAccruedTimestamp = now, all
// counters zero.
func NewState(poolID string, params Params, now uint64) *State {
	s := &State{
		PoolID:                        poolID,
		MaxTotalSupply:                new(big.Int).Set(params.MaxTotalSupply),
		AccruedProtocolFees:           big.NewInt(0),
		ReservedAssets:                big.NewInt(0),
		ScaledTotalSupply:             big.NewInt(0),
		ScaledPendingWithdrawals:      big.NewInt(0),
		AnnualInterestBips:            params.AnnualInterestBips,
		ReserveRatioBips:              params.ReserveRatioBips,
		ProtocolFeeBips:               params.ProtocolFeeBips,
		DelinquencyFeeBips:            params.DelinquencyFeeBips,
		DelinquencyGracePeriod:        params.DelinquencyGracePeriod,
		ScaleFactor:                   new(big.Int).Set(fixedpoint.Ray),
		LastInterestAccruedTimestamp: now,
	}
	s.EnsureDefaults()
	return s
}

// Ledger is the public surface of a single market, per spec.md 4.4. Every
// entry point (DepositUpTo, Deposit, WithdrawRequest, ExecuteWithdrawal,
// Borrow, Repay, CollectFees, Close, UpdateState) runs under the guard and
// projects, validates, mutates, and persists; SetLogger and the read
// accessors Snapshot, HeldAssets, and UnpaidQueueDepth are not guarded and
// do not project. The entry points match the teacher's Engine shape in
// native/lending/engine.go generalized from a shared blockchain-state
// interface to the Store/AssetTransactor/Authorizer collaborators above.
type Ledger struct {
	poolID  string
	address Address // the account the market's own held assets live under

	store  Store
	assets AssetTransactor
	auth   Authorizer
	events events.Sink
	guard  Guard
	logger *slog.Logger

	params Params
}

// SetLogger wires a logger used to record rejected entry-point calls. Nil
// (the default) leaves the ledger silent; safe to call once before the
// ledger starts serving traffic.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// logRejected records an entry point's sentinel error, masking the caller
// address the way the teacher masks operator-supplied identifiers.
func (l *Ledger) logRejected(method string, caller Address, err error) {
	if l.logger == nil || err == nil {
		return
	}
	l.logger.Warn("entry point rejected",
		slog.String("component", "market.Ledger"),
		slog.String("method", method),
		logging.MaskField("caller", caller.String()),
		slog.String("reason", err.Error()),
	)
}

// NewLedger wires a Ledger to its collaborators. Callers must have already
// persisted a NewState record for poolID via store.PutState.
func NewLedger(poolID string, address Address, store Store, assets AssetTransactor, auth Authorizer, sink events.Sink, params Params) *Ledger {
	if sink == nil {
		sink = &events.Slice{}
	}
	return &Ledger{
		poolID:  poolID,
		address: address,
		store:   store,
		assets:  assets,
		auth:    auth,
		events:  sink,
		params:  params,
	}
}

// loadAndProject fetches the persisted state, reads the market's current
// held-asset balance, and projects the state forward to now. It is the
// first step of every entry point, per spec.md 4.4's "(a) projects".
func (l *Ledger) loadAndProject(now uint64) (*State, *big.Int, error) {
	state, err := l.store.GetState(l.poolID)
	if err != nil {
		return nil, nil, err
	}
	if state == nil {
		return nil, nil, errMarketNotInitialized
	}
	held, err := l.assets.BalanceOf(l.address)
	if err != nil {
		return nil, nil, err
	}
	projected, err := project(l.store, l.poolID, state, held, now, l.events)
	if err != nil {
		return nil, nil, err
	}
	return projected, held, nil
}

// Snapshot returns the pool's persisted state without projecting it forward,
// for read-only observability and test inspection. Mirrors the teacher's
// GetMarket/ListMarkets read paths, which also hand back stored state
// directly rather than running it through the engine.
func (l *Ledger) Snapshot() (*State, error) {
	state, err := l.store.GetState(l.poolID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errMarketNotInitialized
	}
	return state.Clone(), nil
}

// HeldAssets returns the market's current on-hand liquidity balance.
func (l *Ledger) HeldAssets() (*big.Int, error) {
	return l.assets.BalanceOf(l.address)
}

// UnpaidQueueDepth returns the number of withdrawal batches still waiting on
// liquidity.
func (l *Ledger) UnpaidQueueDepth() (int, error) {
	unpaid, err := l.store.UnpaidQueue(l.poolID)
	if err != nil {
		return 0, err
	}
	return len(unpaid), nil
}

func (l *Ledger) getOrNewAccount(addr Address) (*Account, error) {
	account, err := l.store.GetAccount(l.poolID, addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = newAccount(addr)
	}
	return account, nil
}

// DepositUpTo supplies up to amount of liquidity, clamping to whatever
// remains under maxTotalSupply, per spec.md 4.4.
func (l *Ledger) DepositUpTo(caller Address, amount *big.Int, now uint64) (actual *big.Int, err error) {
	if err = l.guard.Enter(); err != nil {
		return nil, err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("DepositUpTo", caller, err) }()

	state, _, err := l.loadAndProject(now)
	if err != nil {
		return nil, err
	}
	if state.IsClosed {
		return nil, ErrDepositToClosedMarket
	}

	account, err := l.getOrNewAccount(caller)
	if err != nil {
		return nil, err
	}
	if account.IsBlocked {
		return nil, ErrAccountBlocked
	}

	if l.auth.IsSanctioned(l.params.Borrower, caller) {
		if err := l.escrowAccount(account); err != nil {
			return nil, err
		}
		if err := l.store.PutState(state); err != nil {
			return nil, err
		}
		return big.NewInt(0), nil
	}

	normalizedSupply, err := normalizeAmount(state.ScaledTotalSupply, state.ScaleFactor)
	if err != nil {
		return nil, err
	}
	remainingCap := fixedpoint.SatSub(state.MaxTotalSupply, normalizedSupply)
	actual = fixedpoint.Min(amount, remainingCap)

	scaledAmount, err := scaleAmount(actual, state.ScaleFactor)
	if err != nil {
		return nil, err
	}
	if scaledAmount.Sign() == 0 {
		return nil, ErrNullMintAmount
	}
	if !l.auth.AuthorizeLender(caller) {
		return nil, ErrNotAuthorizedLender
	}

	if err := l.assets.TransferFrom(caller, l.address, actual); err != nil {
		return nil, err
	}

	account.ScaledBalance = new(big.Int).Add(account.ScaledBalance, scaledAmount)
	state.ScaledTotalSupply = new(big.Int).Add(state.ScaledTotalSupply, scaledAmount)

	if err := l.store.PutAccount(l.poolID, account); err != nil {
		return nil, err
	}
	if err := l.store.PutState(state); err != nil {
		return nil, err
	}
	l.events.Append(events.Deposit{Lender: caller.String(), NormalizedAmount: actual, ScaledAmount: scaledAmount})
	return actual, nil
}

// escrowAccount moves a sanctioned lender's entire scaled position into an
// escrow account created via the authorization collaborator's callback, per
// spec.md 9's sanctions-handling design note.
func (l *Ledger) escrowAccount(account *Account) error {
	if account.ScaledBalance.Sign() == 0 {
		return nil
	}
	escrowAddr, err := l.auth.CreateEscrow(l.params.Borrower, account.Address)
	if err != nil {
		return err
	}
	escrowAccount, err := l.getOrNewAccount(escrowAddr)
	if err != nil {
		return err
	}
	escrowAccount.ScaledBalance = new(big.Int).Add(escrowAccount.ScaledBalance, account.ScaledBalance)
	account.ScaledBalance = big.NewInt(0)

	if err := l.store.PutAccount(l.poolID, escrowAccount); err != nil {
		return err
	}
	return l.store.PutAccount(l.poolID, account)
}

// Deposit supplies exactly amount, failing if the market's cap clamps it.
func (l *Ledger) Deposit(caller Address, amount *big.Int, now uint64) (err error) {
	actual, err := l.DepositUpTo(caller, amount, now)
	if err != nil {
		return err
	}
	if actual.Cmp(amount) != 0 {
		err = ErrMaxSupplyExceeded
		l.logRejected("Deposit", caller, err)
		return err
	}
	return nil
}

// WithdrawRequest queues a lender's withdrawal of amount against the
// pending batch (opening one if none exists), then immediately attempts
// payment against currently held liquidity, per spec.md 4.4.
func (l *Ledger) WithdrawRequest(caller Address, amount *big.Int, now uint64) (err error) {
	if err = l.guard.Enter(); err != nil {
		return err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("WithdrawRequest", caller, err) }()

	state, held, err := l.loadAndProject(now)
	if err != nil {
		return err
	}
	account, err := l.getOrNewAccount(caller)
	if err != nil {
		return err
	}
	if account.IsBlocked {
		return ErrAccountBlocked
	}

	normalizedBalance, err := normalizeAmount(account.ScaledBalance, state.ScaleFactor)
	if err != nil {
		return err
	}
	if amount.Cmp(normalizedBalance) > 0 {
		return ErrInsufficientBalance
	}

	if err := openPendingBatch(l.store, l.poolID, state, now, l.params.WithdrawalBatchDuration, l.events); err != nil {
		return err
	}
	scaledAmount, err := addWithdrawalClaim(l.store, l.poolID, state, caller, amount, l.events)
	if err != nil {
		return err
	}
	account.ScaledBalance = new(big.Int).Sub(account.ScaledBalance, scaledAmount)

	batch, err := l.store.GetBatch(l.poolID, state.PendingWithdrawalExpiry)
	if err != nil {
		return err
	}
	if err := applyBatchPayment(l.store, l.poolID, state, batch, held, l.events); err != nil {
		return err
	}

	if err := l.store.PutAccount(l.poolID, account); err != nil {
		return err
	}
	return l.store.PutState(state)
}

// ExecuteWithdrawal settles a lender's recorded claim against an already
// matured batch, per spec.md 4.4.
func (l *Ledger) ExecuteWithdrawal(caller Address, batchExpiry uint64, now uint64) (payout *big.Int, err error) {
	if err = l.guard.Enter(); err != nil {
		return nil, err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("ExecuteWithdrawal", caller, err) }()

	state, _, err := l.loadAndProject(now)
	if err != nil {
		return nil, err
	}
	if batchExpiry >= now {
		return nil, ErrBatchNotExpired
	}

	payout, err = payoutWithdrawalClaim(l.store, l.poolID, batchExpiry, caller)
	if err != nil {
		return nil, err
	}
	if payout.Sign() > 0 {
		if err := l.assets.Transfer(caller, payout); err != nil {
			return nil, err
		}
		// The asset actually leaves the market here, so the earmark applied
		// back in applyBatchPayment must be released in step: reservedAssets
		// tracks cash earmarked-but-not-yet-paid-out, not cash paid out.
		state.ReservedAssets = fixedpoint.SatSub(state.ReservedAssets, payout)
		l.events.Append(events.Transfer{From: l.address.String(), To: caller.String(), NormalizedAmount: payout})
	}

	if err := l.store.PutState(state); err != nil {
		return nil, err
	}
	return payout, nil
}

// Borrow draws amount of liquidity to the borrower, bounded by whatever
// exceeds the market's required liquidity, per spec.md 4.4.
func (l *Ledger) Borrow(caller Address, amount *big.Int, now uint64) (err error) {
	if err = l.guard.Enter(); err != nil {
		return err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("Borrow", caller, err) }()

	if !l.auth.OnlyBorrower(caller) {
		return ErrNotBorrower
	}
	if l.auth.IsSanctioned(l.params.Borrower, caller) {
		return ErrBorrowWhileSanctioned
	}

	state, held, err := l.loadAndProject(now)
	if err != nil {
		return err
	}
	if state.IsClosed {
		return ErrBorrowFromClosedMarket
	}

	required, err := liquidityRequired(state)
	if err != nil {
		return err
	}
	borrowable := fixedpoint.SatSub(held, required)
	if amount.Cmp(borrowable) > 0 {
		return ErrBorrowAmountTooHigh
	}

	if err := l.assets.Transfer(l.params.Borrower, amount); err != nil {
		return err
	}

	// Borrowing moves assets out without touching liquidityRequired, so
	// recompute delinquency against the post-transfer balance the way Repay
	// recomputes it on the way back in. Under the borrowable cap above, the
	// post-transfer balance never drops below liquidityRequired, so a borrow
	// cannot by itself make the market delinquent.
	heldAfterBorrow := new(big.Int).Sub(held, amount)
	delinquent, err := isDelinquent(state, heldAfterBorrow)
	if err != nil {
		return err
	}
	state.IsDelinquent = delinquent

	if err := l.store.PutState(state); err != nil {
		return err
	}
	l.events.Append(events.Borrow{Amount: amount})
	return nil
}

// Repay returns borrowed liquidity to the market, then drains the unpaid
// withdrawal-batch queue against the freshly increased held-asset balance,
// per spec.md 4.3 and 4.4.
func (l *Ledger) Repay(caller Address, amount *big.Int, now uint64) (err error) {
	if err = l.guard.Enter(); err != nil {
		return err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("Repay", caller, err) }()

	state, held, err := l.loadAndProject(now)
	if err != nil {
		return err
	}
	if state.IsClosed {
		return ErrRepayToClosedMarket
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := l.assets.TransferFrom(caller, l.address, amount); err != nil {
		return err
	}
	heldAfterRepay := new(big.Int).Add(held, amount)

	if err := drainUnpaidQueue(l.store, l.poolID, state, heldAfterRepay, l.events); err != nil {
		return err
	}
	delinquent, err := isDelinquent(state, heldAfterRepay)
	if err != nil {
		return err
	}
	state.IsDelinquent = delinquent

	if err := l.store.PutState(state); err != nil {
		return err
	}
	l.events.Append(events.MarketRepayment{Payer: caller.String(), Amount: amount, Timestamp: now})
	return nil
}

// CollectFees withdraws accrued protocol fees to the fee recipient, bounded
// by what liquidity is not earmarked for reserves or pending withdrawals,
// per spec.md 4.4.
func (l *Ledger) CollectFees(caller Address, now uint64) (withdrawable *big.Int, err error) {
	if err = l.guard.Enter(); err != nil {
		return nil, err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("CollectFees", caller, err) }()

	state, held, err := l.loadAndProject(now)
	if err != nil {
		return nil, err
	}
	if state.AccruedProtocolFees.Sign() <= 0 {
		return nil, ErrNullFeeAmount
	}

	normalizedPending, err := normalizeAmount(state.ScaledPendingWithdrawals, state.ScaleFactor)
	if err != nil {
		return nil, err
	}
	reserveFloor := new(big.Int).Add(state.ReservedAssets, normalizedPending)
	available := fixedpoint.SatSub(held, reserveFloor)
	if available.Sign() <= 0 {
		return nil, ErrInsufficientReservesForFeeWithdrawal
	}

	withdrawable = fixedpoint.Min(state.AccruedProtocolFees, available)
	state.AccruedProtocolFees = new(big.Int).Sub(state.AccruedProtocolFees, withdrawable)

	if err := l.assets.Transfer(l.params.FeeRecipient, withdrawable); err != nil {
		return nil, err
	}
	if err := l.store.PutState(state); err != nil {
		return nil, err
	}
	l.events.Append(events.FeesCollected{Amount: withdrawable})
	return withdrawable, nil
}

// Close transitions the market to its terminal state, settling the
// difference between held assets and total debts with the borrower, per
// spec.md 4.4.
func (l *Ledger) Close(caller Address, now uint64) (err error) {
	if err = l.guard.Enter(); err != nil {
		return err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("Close", caller, err) }()

	if !l.auth.OnlyController(caller) {
		return ErrNotController
	}

	state, held, err := l.loadAndProject(now)
	if err != nil {
		return err
	}

	unpaid, err := l.store.UnpaidQueue(l.poolID)
	if err != nil {
		return err
	}
	if len(unpaid) > 0 {
		return ErrCloseMarketWithUnpaidWithdrawals
	}

	state.AnnualInterestBips = 0
	state.ReserveRatioBips = 10000
	state.TimeDelinquent = 0
	state.IsClosed = true

	normalizedSupply, err := normalizeAmount(state.ScaledTotalSupply, state.ScaleFactor)
	if err != nil {
		return err
	}
	totalDebts := new(big.Int).Add(normalizedSupply, state.AccruedProtocolFees)

	switch held.Cmp(totalDebts) {
	case -1:
		shortfall := new(big.Int).Sub(totalDebts, held)
		if err := l.assets.TransferFrom(l.params.Borrower, l.address, shortfall); err != nil {
			return err
		}
	case 1:
		excess := new(big.Int).Sub(held, totalDebts)
		if err := l.assets.Transfer(l.params.Borrower, excess); err != nil {
			return err
		}
	}

	if err := l.store.PutState(state); err != nil {
		return err
	}
	l.events.Append(events.MarketClosed{Timestamp: now})
	return nil
}

// UpdateState projects state to now and persists it, with no other
// mutation. It is idempotent within one timestamp, per spec.md 4.4.
func (l *Ledger) UpdateState(now uint64) (err error) {
	if err = l.guard.Enter(); err != nil {
		return err
	}
	defer l.guard.Exit()
	defer func() { l.logRejected("UpdateState", ZeroAddress, err) }()

	state, _, err := l.loadAndProject(now)
	if err != nil {
		return err
	}
	return l.store.PutState(state)
}
