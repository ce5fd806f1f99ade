package market

import (
	"math/big"

	"marketcore/fixedpoint"
)

// makeAddress builds a deterministic test Address, grounded on the
// teacher's makeAddress helper in native/lending/engine_accrual_test.go.
func makeAddress(seed byte) Address {
	var a Address
	a[len(a)-1] = seed
	return a
}

func ray() *big.Int { return new(big.Int).Set(fixedpoint.Ray) }

// closeEnough reports whether a and b differ by at most tolerance, to
// absorb the +/-1 unit rounding ray arithmetic can introduce when an
// amount is scaled down and back up.
func closeEnough(a, b *big.Int, tolerance int64) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	return diff.Cmp(big.NewInt(tolerance)) <= 0
}

func baseState(poolID string) *State {
	s := &State{
		PoolID:                 poolID,
		MaxTotalSupply:         big.NewInt(1_000_000_000),
		AccruedProtocolFees:    big.NewInt(0),
		ReservedAssets:         big.NewInt(0),
		ScaledTotalSupply:      big.NewInt(0),
		ScaledPendingWithdrawals: big.NewInt(0),
		AnnualInterestBips:     1000, // 10%
		ReserveRatioBips:       1000, // 10%
		ProtocolFeeBips:        1000, // 10%
		DelinquencyFeeBips:     500,  // 5%
		DelinquencyGracePeriod: 3600,
		ScaleFactor:            ray(),
	}
	s.EnsureDefaults()
	return s
}
