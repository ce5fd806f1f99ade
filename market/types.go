package market

import (
	"math/big"

	"marketcore/fixedpoint"
)

// State is the persistent accounting record for one market, matching
// spec.md 3's MarketState. All monetary and scaled quantities are
// non-negative big integers; timestamps are Unix seconds.
type State struct {
	PoolID string

	MaxTotalSupply      *big.Int
	AccruedProtocolFees *big.Int
	ReservedAssets       *big.Int
	ScaledTotalSupply        *big.Int
	ScaledPendingWithdrawals *big.Int

	PendingWithdrawalExpiry uint64

	IsDelinquent   bool
	TimeDelinquent uint64

	AnnualInterestBips     uint64
	ReserveRatioBips       uint64
	ProtocolFeeBips        uint64
	DelinquencyFeeBips     uint64
	DelinquencyGracePeriod uint64

	ScaleFactor                 *big.Int
	LastInterestAccruedTimestamp uint64

	IsClosed bool
}

// Clone returns a deep copy of the state so callers may mutate a working
// copy and only commit it to the store once every fallible step of an
// entry point has succeeded.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.MaxTotalSupply = cloneBig(s.MaxTotalSupply)
	clone.AccruedProtocolFees = cloneBig(s.AccruedProtocolFees)
	clone.ReservedAssets = cloneBig(s.ReservedAssets)
	clone.ScaledTotalSupply = cloneBig(s.ScaledTotalSupply)
	clone.ScaledPendingWithdrawals = cloneBig(s.ScaledPendingWithdrawals)
	clone.ScaleFactor = cloneBig(s.ScaleFactor)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// EnsureDefaults fills nil big.Int fields with zero values and a genesis
// scale factor, matching the teacher's defensive EnsureDefaults convention
// for records that may round-trip through JSON with omitted fields.
func (s *State) EnsureDefaults() {
	if s.MaxTotalSupply == nil {
		s.MaxTotalSupply = big.NewInt(0)
	}
	if s.AccruedProtocolFees == nil {
		s.AccruedProtocolFees = big.NewInt(0)
	}
	if s.ReservedAssets == nil {
		s.ReservedAssets = big.NewInt(0)
	}
	if s.ScaledTotalSupply == nil {
		s.ScaledTotalSupply = big.NewInt(0)
	}
	if s.ScaledPendingWithdrawals == nil {
		s.ScaledPendingWithdrawals = big.NewInt(0)
	}
	if s.ScaleFactor == nil || s.ScaleFactor.Sign() == 0 {
		s.ScaleFactor = new(big.Int).Set(fixedpoint.Ray)
	}
}

// WithdrawalBatch tracks a cohort of withdrawal requests opened at one
// instant and matured together, per spec.md 3.
type WithdrawalBatch struct {
	Expiry               uint64
	ScaledTotalAmount    *big.Int
	ScaledAmountBurned   *big.Int
	NormalizedAmountPaid *big.Int
}

// Clone returns a deep copy of the batch.
func (b *WithdrawalBatch) Clone() *WithdrawalBatch {
	if b == nil {
		return nil
	}
	clone := *b
	clone.ScaledTotalAmount = cloneBig(b.ScaledTotalAmount)
	clone.ScaledAmountBurned = cloneBig(b.ScaledAmountBurned)
	clone.NormalizedAmountPaid = cloneBig(b.NormalizedAmountPaid)
	return &clone
}

// IsPaid reports whether every scaled claim in the batch has been burned,
// per invariant I5.
func (b *WithdrawalBatch) IsPaid() bool {
	if b == nil {
		return true
	}
	return b.ScaledAmountBurned.Cmp(b.ScaledTotalAmount) >= 0
}

func newWithdrawalBatch(expiry uint64) *WithdrawalBatch {
	return &WithdrawalBatch{
		Expiry:               expiry,
		ScaledTotalAmount:    big.NewInt(0),
		ScaledAmountBurned:   big.NewInt(0),
		NormalizedAmountPaid: big.NewInt(0),
	}
}

// AccountRole enumerates the permissions a lender account carries, per
// spec.md 3.
type AccountRole uint8

const (
	RoleNone AccountRole = iota
	RoleDepositAndWithdraw
	RoleWithdrawOnly
)

// Account is a lender's position within a single market.
type Account struct {
	Address       Address
	Role          AccountRole
	ScaledBalance *big.Int
	IsBlocked     bool
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ScaledBalance = cloneBig(a.ScaledBalance)
	return &clone
}

func newAccount(addr Address) *Account {
	return &Account{Address: addr, ScaledBalance: big.NewInt(0)}
}
