package market

import "errors"

// Errors are a closed enumeration, per spec.md 7. No error is recovered
// inside the core; every one aborts its entry point atomically.
var (
	// Input validity.
	ErrNullMintAmount   = errors.New("market: mint amount must be positive")
	ErrNullFeeAmount    = errors.New("market: fee amount must be positive")
	ErrMaxSupplyExceeded = errors.New("market: deposit would exceed max total supply")
	ErrBorrowAmountTooHigh = errors.New("market: borrow amount exceeds available liquidity")

	// State-gated.
	ErrDepositToClosedMarket          = errors.New("market: deposit to closed market")
	ErrBorrowFromClosedMarket         = errors.New("market: borrow from closed market")
	ErrRepayToClosedMarket            = errors.New("market: repay to closed market")
	ErrCloseMarketWithUnpaidWithdrawals = errors.New("market: cannot close market with unpaid withdrawals")
	ErrInsufficientReservesForFeeWithdrawal = errors.New("market: insufficient reserves for fee withdrawal")

	// Authorization.
	ErrNotAuthorizedLender  = errors.New("market: account is not an authorized lender")
	ErrNotBorrower          = errors.New("market: caller is not the borrower")
	ErrNotController        = errors.New("market: caller is not the controller")
	ErrBorrowWhileSanctioned = errors.New("market: borrower is sanctioned")
	ErrAccountBlocked       = errors.New("market: account is blocked")

	// Arithmetic.
	ErrArithmeticOverflow  = errors.New("market: arithmetic overflow")
	ErrScaleFactorUnderflow = errors.New("market: scale factor underflow")

	// Concurrency.
	ErrReentrancy = errors.New("market: reentrant call")

	// Withdrawal bookkeeping.
	ErrNoPendingWithdrawal = errors.New("market: no pending withdrawal batch")
	ErrNoWithdrawalClaim   = errors.New("market: no withdrawal claim recorded for this batch and lender")
	ErrBatchNotExpired     = errors.New("market: withdrawal batch has not yet expired")

	// Configuration / lifecycle.
	ErrMarketClosed     = errors.New("market: market already closed")
	ErrInvalidAmount    = errors.New("market: amount must be positive")
	ErrInsufficientBalance = errors.New("market: insufficient balance")
)
