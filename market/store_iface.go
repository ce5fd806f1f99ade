package market

import "math/big"

// Store is the persistence boundary the projector, withdrawal engine, and
// ledger mutate through. It mirrors spec.md 6's "single flat record plus
// three associative stores plus one ordered sequence" layout, and the
// teacher's engineState interface shape (one Get/Put pair per entity).
// Concrete implementations live in marketcore/market/store.
type Store interface {
	GetState(poolID string) (*State, error)
	PutState(state *State) error

	GetAccount(poolID string, addr Address) (*Account, error)
	PutAccount(poolID string, account *Account) error

	GetBatch(poolID string, expiry uint64) (*WithdrawalBatch, error)
	PutBatch(poolID string, batch *WithdrawalBatch) error

	GetWithdrawalClaim(poolID string, expiry uint64, lender Address) (*big.Int, error)
	PutWithdrawalClaim(poolID string, expiry uint64, lender Address, scaledAmount *big.Int) error

	UnpaidQueue(poolID string) ([]uint64, error)
	PutUnpaidQueue(poolID string, queue []uint64) error
}
