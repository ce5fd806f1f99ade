package market

import (
	"math/big"
	"testing"

	"marketcore/market/events"
)

func TestOpenPendingBatchIsNoOpWhenOneIsAlreadyOpen(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	sink := &events.Slice{}

	if err := openPendingBatch(store, "pool-1", state, 1000, 3600, sink); err != nil {
		t.Fatalf("openPendingBatch: %v", err)
	}
	firstExpiry := state.PendingWithdrawalExpiry

	if err := openPendingBatch(store, "pool-1", state, 2000, 3600, sink); err != nil {
		t.Fatalf("openPendingBatch: %v", err)
	}
	if state.PendingWithdrawalExpiry != firstExpiry {
		t.Fatalf("expected pending expiry unchanged, got %d want %d", state.PendingWithdrawalExpiry, firstExpiry)
	}
}

func TestAddWithdrawalClaimAccumulatesAcrossCalls(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	lender := makeAddress(1)
	sink := &events.Slice{}

	if err := openPendingBatch(store, "pool-1", state, 1000, 3600, sink); err != nil {
		t.Fatalf("openPendingBatch: %v", err)
	}
	if _, err := addWithdrawalClaim(store, "pool-1", state, lender, big.NewInt(500), sink); err != nil {
		t.Fatalf("addWithdrawalClaim: %v", err)
	}
	if _, err := addWithdrawalClaim(store, "pool-1", state, lender, big.NewInt(300), sink); err != nil {
		t.Fatalf("addWithdrawalClaim: %v", err)
	}

	claim, err := store.GetWithdrawalClaim("pool-1", state.PendingWithdrawalExpiry, lender)
	if err != nil {
		t.Fatalf("GetWithdrawalClaim: %v", err)
	}
	if claim.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected accumulated claim 800, got %s", claim)
	}
	if state.ScaledPendingWithdrawals.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected scaled pending withdrawals 800, got %s", state.ScaledPendingWithdrawals)
	}
}

func TestAddWithdrawalClaimWithoutPendingBatchFails(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	sink := &events.Slice{}

	_, err := addWithdrawalClaim(store, "pool-1", state, makeAddress(1), big.NewInt(1), sink)
	if err != ErrNoPendingWithdrawal {
		t.Fatalf("expected ErrNoPendingWithdrawal, got %v", err)
	}
}

func TestApplyBatchPaymentPaysFullyWhenLiquidityIsAmple(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	state.ScaledTotalSupply = big.NewInt(1_000)
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	sink := &events.Slice{}

	if err := applyBatchPayment(store, "pool-1", state, batch, big.NewInt(10_000), sink); err != nil {
		t.Fatalf("applyBatchPayment: %v", err)
	}
	if !batch.IsPaid() {
		t.Fatalf("expected batch fully paid, burned=%s total=%s", batch.ScaledAmountBurned, batch.ScaledTotalAmount)
	}
}

func TestApplyBatchPaymentPartialWhenLiquidityIsScarce(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	state.ScaledTotalSupply = big.NewInt(1_000)
	state.ScaledPendingWithdrawals = big.NewInt(1_000)
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	sink := &events.Slice{}

	if err := applyBatchPayment(store, "pool-1", state, batch, big.NewInt(400), sink); err != nil {
		t.Fatalf("applyBatchPayment: %v", err)
	}
	if batch.IsPaid() {
		t.Fatalf("expected batch only partially paid")
	}
	if batch.ScaledAmountBurned.Sign() <= 0 {
		t.Fatalf("expected some partial payment, got %s", batch.ScaledAmountBurned)
	}
}

func TestExpireBatchEnqueuesUnpaidRemainder(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	state.ScaledTotalSupply = big.NewInt(1_000)
	state.ScaledPendingWithdrawals = big.NewInt(1_000)
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	store.PutBatch("pool-1", batch)
	sink := &events.Slice{}

	if err := expireBatch(store, "pool-1", state, 1000, big.NewInt(10), sink); err != nil {
		t.Fatalf("expireBatch: %v", err)
	}
	queue, err := store.UnpaidQueue("pool-1")
	if err != nil {
		t.Fatalf("UnpaidQueue: %v", err)
	}
	if len(queue) != 1 || queue[0] != 1000 {
		t.Fatalf("expected batch 1000 enqueued unpaid, got %v", queue)
	}
}

func TestDrainUnpaidQueueClosesBatchOnceFunded(t *testing.T) {
	store := newMemStore()
	state := baseState("pool-1")
	state.ScaledTotalSupply = big.NewInt(1_000)
	state.ScaledPendingWithdrawals = big.NewInt(1_000)
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	store.PutBatch("pool-1", batch)
	store.PutUnpaidQueue("pool-1", []uint64{1000})
	sink := &events.Slice{}

	if err := drainUnpaidQueue(store, "pool-1", state, big.NewInt(10_000), sink); err != nil {
		t.Fatalf("drainUnpaidQueue: %v", err)
	}
	queue, err := store.UnpaidQueue("pool-1")
	if err != nil {
		t.Fatalf("UnpaidQueue: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("expected unpaid queue drained, got %v", queue)
	}
	closedBatch, err := store.GetBatch("pool-1", 1000)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if !closedBatch.IsPaid() {
		t.Fatalf("expected batch fully paid after drain")
	}
}

func TestPayoutWithdrawalClaimPaysProRataShareAndRemovesClaim(t *testing.T) {
	store := newMemStore()
	lender := makeAddress(1)
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	batch.ScaledAmountBurned = big.NewInt(400)
	batch.NormalizedAmountPaid = big.NewInt(400)
	store.PutBatch("pool-1", batch)
	store.PutWithdrawalClaim("pool-1", 1000, lender, big.NewInt(500))

	payout, err := payoutWithdrawalClaim(store, "pool-1", 1000, lender)
	if err != nil {
		t.Fatalf("payoutWithdrawalClaim: %v", err)
	}
	if payout.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected payout 200 (500/1000 * 400), got %s", payout)
	}

	claim, err := store.GetWithdrawalClaim("pool-1", 1000, lender)
	if err != nil {
		t.Fatalf("GetWithdrawalClaim: %v", err)
	}
	if claim.Sign() != 0 {
		t.Fatalf("expected claim removed, got %s", claim)
	}
}

func TestPayoutWithdrawalClaimWithNoClaimFails(t *testing.T) {
	store := newMemStore()
	batch := newWithdrawalBatch(1000)
	batch.ScaledTotalAmount = big.NewInt(1_000)
	store.PutBatch("pool-1", batch)

	_, err := payoutWithdrawalClaim(store, "pool-1", 1000, makeAddress(9))
	if err != ErrNoWithdrawalClaim {
		t.Fatalf("expected ErrNoWithdrawalClaim, got %v", err)
	}
}
