package market

import "math/big"

// AssetTransactor is the asset collaborator consumed by the ledger, per
// spec.md 6. Transfers are assumed exact-amount and to revert (return a
// non-nil error) on failure; the core never relies on a boolean return
// that could silently indicate a partial transfer.
type AssetTransactor interface {
	BalanceOf(addr Address) (*big.Int, error)
	Transfer(to Address, amount *big.Int) error
	TransferFrom(from, to Address, amount *big.Int) error
}

// Authorizer is the authorization collaborator consumed by the ledger, per
// spec.md 6. Predicates are called synchronously; CreateEscrow is invoked
// as a callback when a sanctioned lender's balance must be swept to
// escrow.
type Authorizer interface {
	IsSanctioned(borrower, account Address) bool
	IsFlagged(account Address) bool
	CreateEscrow(borrower, account Address) (Address, error)
	AuthorizeLender(account Address) bool
	OnlyController(caller Address) bool
	OnlyBorrower(caller Address) bool
}
