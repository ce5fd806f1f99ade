package market

import (
	"math/big"

	"marketcore/fixedpoint"
	"marketcore/market/events"
)

// scaleAmount converts a normalized (real-asset) amount into scaled units at
// the given scale factor. Grounded on the teacher's scaledDebtFromAmount in
// native/lending/math.go.
func scaleAmount(normalized, scaleFactor *big.Int) (*big.Int, error) {
	v, err := fixedpoint.RayDiv(normalized, scaleFactor)
	if err != nil {
		return nil, ErrArithmeticOverflow
	}
	return v, nil
}

// normalizeAmount converts a scaled amount back into normalized units.
// Grounded on the teacher's debtFromScaled in native/lending/math.go.
func normalizeAmount(scaled, scaleFactor *big.Int) (*big.Int, error) {
	v, err := fixedpoint.RayMul(scaled, scaleFactor)
	if err != nil {
		return nil, ErrArithmeticOverflow
	}
	return v, nil
}

// bipsFraction converts a basis-point value into a ray-scaled fraction.
// 10000 divides Ray evenly, so the conversion is exact.
func bipsFraction(bips uint64) *big.Int {
	f := new(big.Int).Mul(new(big.Int).SetUint64(bips), fixedpoint.Ray)
	return f.Quo(f, fixedpoint.BasisPointsDenominator)
}

// openPendingBatch opens a new pending withdrawal batch maturing at
// now+duration, per spec.md 4.3. It is a no-op if a batch is already
// pending, matching the "one pending batch at a time" invariant.
func openPendingBatch(store Store, poolID string, state *State, now, duration uint64, sink events.Sink) error {
	if state.PendingWithdrawalExpiry != 0 {
		return nil
	}
	expiry := now + duration
	batch := newWithdrawalBatch(expiry)
	if err := store.PutBatch(poolID, batch); err != nil {
		return err
	}
	state.PendingWithdrawalExpiry = expiry
	sink.Append(events.WithdrawalBatchCreated{Expiry: expiry})
	return nil
}

// addWithdrawalClaim records a lender's request to withdraw normalizedAmount
// against the currently pending batch, returning the scaled amount queued.
func addWithdrawalClaim(store Store, poolID string, state *State, lender Address, normalizedAmount *big.Int, sink events.Sink) (*big.Int, error) {
	expiry := state.PendingWithdrawalExpiry
	if expiry == 0 {
		return nil, ErrNoPendingWithdrawal
	}
	batch, err := store.GetBatch(poolID, expiry)
	if err != nil {
		return nil, err
	}
	scaledAmount, err := scaleAmount(normalizedAmount, state.ScaleFactor)
	if err != nil {
		return nil, err
	}
	batch.ScaledTotalAmount = new(big.Int).Add(batch.ScaledTotalAmount, scaledAmount)
	state.ScaledPendingWithdrawals = new(big.Int).Add(state.ScaledPendingWithdrawals, scaledAmount)

	existing, err := store.GetWithdrawalClaim(poolID, expiry, lender)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = big.NewInt(0)
	}
	updatedClaim := new(big.Int).Add(existing, scaledAmount)
	if err := store.PutWithdrawalClaim(poolID, expiry, lender, updatedClaim); err != nil {
		return nil, err
	}
	if err := store.PutBatch(poolID, batch); err != nil {
		return nil, err
	}
	sink.Append(events.WithdrawalQueued{Expiry: expiry, Lender: lender.String(), ScaledAmount: scaledAmount})
	return scaledAmount, nil
}

// applyBatchPayment pays batch down from available liquidity, per spec.md
// 4.3's "sat_sub(heldAssets, reserved + fees + normalize(other pending))"
// formula: liquidity already earmarked for reserves, protocol fees, or
// other pending batches is never used to pay this one.
func applyBatchPayment(store Store, poolID string, state *State, batch *WithdrawalBatch, heldAssets *big.Int, sink events.Sink) error {
	scaledOwed := new(big.Int).Sub(batch.ScaledTotalAmount, batch.ScaledAmountBurned)
	if scaledOwed.Sign() <= 0 {
		return nil
	}
	otherPending := new(big.Int).Sub(state.ScaledPendingWithdrawals, scaledOwed)
	if otherPending.Sign() < 0 {
		otherPending = big.NewInt(0)
	}
	normalizedOtherPending, err := normalizeAmount(otherPending, state.ScaleFactor)
	if err != nil {
		return err
	}
	earmarked := new(big.Int).Add(state.ReservedAssets, state.AccruedProtocolFees)
	earmarked.Add(earmarked, normalizedOtherPending)
	available := fixedpoint.SatSub(heldAssets, earmarked)

	scaledAvailable, err := scaleAmount(available, state.ScaleFactor)
	if err != nil {
		return err
	}
	scaledPay := fixedpoint.Min(scaledAvailable, scaledOwed)
	if scaledPay.Sign() <= 0 {
		return nil
	}
	normalizedPay, err := normalizeAmount(scaledPay, state.ScaleFactor)
	if err != nil {
		return err
	}

	batch.ScaledAmountBurned = new(big.Int).Add(batch.ScaledAmountBurned, scaledPay)
	batch.NormalizedAmountPaid = new(big.Int).Add(batch.NormalizedAmountPaid, normalizedPay)
	state.ScaledPendingWithdrawals = new(big.Int).Sub(state.ScaledPendingWithdrawals, scaledPay)
	state.ScaledTotalSupply = new(big.Int).Sub(state.ScaledTotalSupply, scaledPay)
	state.ReservedAssets = new(big.Int).Add(state.ReservedAssets, normalizedPay)

	if err := store.PutBatch(poolID, batch); err != nil {
		return err
	}
	sink.Append(events.WithdrawalBatchPayment{Expiry: batch.Expiry, ScaledBurned: scaledPay, NormalizedPaid: normalizedPay})
	return nil
}

// expireBatch matures the pending batch at expiry: it takes one payment
// pass against currently held assets, then either closes the batch or
// enqueues it on the unpaid FIFO queue for later draining, per spec.md 4.3.
func expireBatch(store Store, poolID string, state *State, expiry uint64, heldAssets *big.Int, sink events.Sink) error {
	batch, err := store.GetBatch(poolID, expiry)
	if err != nil {
		return err
	}
	if batch == nil {
		batch = newWithdrawalBatch(expiry)
	}
	if err := applyBatchPayment(store, poolID, state, batch, heldAssets, sink); err != nil {
		return err
	}
	sink.Append(events.WithdrawalBatchExpired{
		Expiry:         expiry,
		ScaledTotal:    batch.ScaledTotalAmount,
		ScaledBurned:   batch.ScaledAmountBurned,
		NormalizedPaid: batch.NormalizedAmountPaid,
	})
	if batch.IsPaid() {
		sink.Append(events.WithdrawalBatchClosed{Expiry: expiry})
	} else {
		queue, err := store.UnpaidQueue(poolID)
		if err != nil {
			return err
		}
		queue = append(queue, expiry)
		if err := store.PutUnpaidQueue(poolID, queue); err != nil {
			return err
		}
	}
	return store.PutBatch(poolID, batch)
}

// drainUnpaidQueue walks the FIFO queue of unpaid batches, applying another
// payment pass to each against the (now larger) held-asset balance. It is
// invoked only from Repay, per spec.md 4.3; a deposit also raises
// heldAssets but does not drain the queue.
func drainUnpaidQueue(store Store, poolID string, state *State, heldAssets *big.Int, sink events.Sink) error {
	queue, err := store.UnpaidQueue(poolID)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		return nil
	}
	remaining := make([]uint64, 0, len(queue))
	for _, expiry := range queue {
		batch, err := store.GetBatch(poolID, expiry)
		if err != nil {
			return err
		}
		if batch == nil {
			continue
		}
		if err := applyBatchPayment(store, poolID, state, batch, heldAssets, sink); err != nil {
			return err
		}
		if batch.IsPaid() {
			sink.Append(events.WithdrawalBatchClosed{Expiry: expiry})
		} else {
			remaining = append(remaining, expiry)
		}
		if err := store.PutBatch(poolID, batch); err != nil {
			return err
		}
	}
	return store.PutUnpaidQueue(poolID, remaining)
}

// payoutWithdrawalClaim settles a lender's recorded claim against a matured
// batch, paying out the lender's pro-rata share of whatever has been paid
// into the batch so far and removing the claim entirely, per spec.md 4.4's
// execute_withdrawal. Calling this before a batch is fully paid forfeits any
// share of later payments into that batch — the claim is not partially
// consumed.
func payoutWithdrawalClaim(store Store, poolID string, batchExpiry uint64, lender Address) (*big.Int, error) {
	batch, err := store.GetBatch(poolID, batchExpiry)
	if err != nil {
		return nil, err
	}
	if batch == nil || batch.ScaledTotalAmount.Sign() == 0 {
		return nil, ErrNoWithdrawalClaim
	}
	claim, err := store.GetWithdrawalClaim(poolID, batchExpiry, lender)
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.Sign() == 0 {
		return nil, ErrNoWithdrawalClaim
	}
	numerator := new(big.Int).Mul(batch.NormalizedAmountPaid, claim)
	lenderShare := new(big.Int).Quo(numerator, batch.ScaledTotalAmount)

	if err := store.PutWithdrawalClaim(poolID, batchExpiry, lender, big.NewInt(0)); err != nil {
		return nil, err
	}
	return lenderShare, nil
}
