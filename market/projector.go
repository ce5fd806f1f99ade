package market

import (
	"math/big"

	"marketcore/fixedpoint"
	"marketcore/market/events"
)

// project advances state to now, following the mandatory three-step order
// from spec.md 4.2: mature any expired pending batch at its own timestamp
// first, then accrue interest/fees up to now, then recompute delinquency.
// It returns a new *State; callers persist it (and any further mutation)
// together with the batch/queue writes project already made through store.
//
// heldAssets is passed in rather than fetched internally so the projection
// itself stays a pure function of its arguments, matching the teacher's
// accrueInterest shape (operates on a snapshot, never reaches for a clock
// or collaborator on its own).
func project(store Store, poolID string, state *State, heldAssets *big.Int, now uint64, sink events.Sink) (*State, error) {
	next := state.Clone()

	if next.PendingWithdrawalExpiry != 0 && now >= next.PendingWithdrawalExpiry {
		expiry := next.PendingWithdrawalExpiry
		if err := advanceInterest(next, expiry); err != nil {
			return nil, err
		}
		if err := expireBatch(store, poolID, next, expiry, heldAssets, sink); err != nil {
			return nil, err
		}
		next.PendingWithdrawalExpiry = 0
	}

	if err := advanceInterest(next, now); err != nil {
		return nil, err
	}

	delinquent, err := isDelinquent(next, heldAssets)
	if err != nil {
		return nil, err
	}
	next.IsDelinquent = delinquent

	return next, nil
}

// advanceInterest performs step 2 of the projection: it accrues base
// interest (net of the protocol fee skim) and delinquency fees from
// state.LastInterestAccruedTimestamp up to target, updating the scale
// factor, accrued protocol fees, and the delinquency grace-period counter.
// Grounded on the teacher's Engine.accrueInterest in native/lending/engine.go,
// generalized from a utilisation-kinked borrow/supply index pair to this
// system's single scale factor plus delinquency-fee overlay.
func advanceInterest(state *State, target uint64) error {
	if target < state.LastInterestAccruedTimestamp {
		return nil
	}
	elapsed := target - state.LastInterestAccruedTimestamp
	wasDelinquent := state.IsDelinquent

	// Penalized seconds and the grace countdown only apply while the
	// market is delinquent over this interval; a healthy interval accrues
	// no delinquency fee regardless of length and instead decays the
	// counter back toward zero.
	var penalizedSeconds uint64
	if wasDelinquent {
		freeSeconds := satSubUint64(state.DelinquencyGracePeriod, state.TimeDelinquent)
		if freeSeconds > elapsed {
			freeSeconds = elapsed
		}
		penalizedSeconds = elapsed - freeSeconds
		state.TimeDelinquent += elapsed
	} else {
		state.TimeDelinquent = satSubUint64(state.TimeDelinquent, elapsed)
	}

	if elapsed == 0 {
		state.LastInterestAccruedTimestamp = target
		return nil
	}

	baseRate, err := fixedpoint.AnnualBipsToRayPerSecond(state.AnnualInterestBips)
	if err != nil {
		return ErrArithmeticOverflow
	}
	baseDelta := new(big.Int).Mul(baseRate, new(big.Int).SetUint64(elapsed))

	delinquencyDelta := big.NewInt(0)
	if penalizedSeconds > 0 {
		delinquencyRate, err := fixedpoint.AnnualBipsToRayPerSecond(state.DelinquencyFeeBips)
		if err != nil {
			return ErrArithmeticOverflow
		}
		delinquencyDelta = new(big.Int).Mul(delinquencyRate, new(big.Int).SetUint64(penalizedSeconds))
	}

	preScaleFactor := new(big.Int).Set(state.ScaleFactor)
	preNormalizedSupply, err := normalizeAmount(state.ScaledTotalSupply, preScaleFactor)
	if err != nil {
		return err
	}

	protocolFeeFraction, err := fixedpoint.RayMul(baseDelta, bipsFraction(state.ProtocolFeeBips))
	if err != nil {
		return ErrArithmeticOverflow
	}
	protocolFeeNormalized, err := fixedpoint.RayMul(preNormalizedSupply, protocolFeeFraction)
	if err != nil {
		return ErrArithmeticOverflow
	}
	state.AccruedProtocolFees = new(big.Int).Add(state.AccruedProtocolFees, protocolFeeNormalized)

	oneMinusFee := new(big.Int).Sub(fixedpoint.Ray, bipsFraction(state.ProtocolFeeBips))
	netBaseDelta, err := fixedpoint.RayMul(baseDelta, oneMinusFee)
	if err != nil {
		return ErrArithmeticOverflow
	}
	netInterest := new(big.Int).Add(netBaseDelta, delinquencyDelta)

	scaleGrowth, err := fixedpoint.RayMul(preScaleFactor, netInterest)
	if err != nil {
		return ErrArithmeticOverflow
	}
	state.ScaleFactor = new(big.Int).Add(preScaleFactor, scaleGrowth)
	state.LastInterestAccruedTimestamp = target

	return nil
}

// isDelinquent performs step 3 of the projection: it compares heldAssets
// against the liquidity the market is obligated to keep on hand.
func isDelinquent(state *State, heldAssets *big.Int) (bool, error) {
	required, err := liquidityRequired(state)
	if err != nil {
		return false, err
	}
	return required.Cmp(heldAssets) > 0, nil
}

// liquidityRequired is reserved assets, accrued protocol fees, and the
// reserve-ratio share of active (non-withdrawing) normalized supply, per
// spec.md 4.2 and 4.4. It is also consulted directly by the ledger's Borrow
// entry point to bound the borrowable amount.
func liquidityRequired(state *State) (*big.Int, error) {
	activeScaled := new(big.Int).Sub(state.ScaledTotalSupply, state.ScaledPendingWithdrawals)
	if activeScaled.Sign() < 0 {
		activeScaled = big.NewInt(0)
	}
	normalizedActive, err := normalizeAmount(activeScaled, state.ScaleFactor)
	if err != nil {
		return nil, err
	}
	reserveShare, err := fixedpoint.RayMul(normalizedActive, bipsFraction(state.ReserveRatioBips))
	if err != nil {
		return nil, ErrArithmeticOverflow
	}
	required := new(big.Int).Add(state.ReservedAssets, state.AccruedProtocolFees)
	required.Add(required, reserveShare)
	return required, nil
}

// satSubUint64 is the uint64 analogue of fixedpoint.SatSub, used for the
// TimeDelinquent grace-period counter.
func satSubUint64(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
