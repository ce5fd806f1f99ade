package store

import (
	"encoding/json"
	"fmt"
	"math/big"

	"marketcore/market"
)

// LedgerStore implements market.Store over a KV, JSON-encoding each record.
// Grounded on the teacher's storage layer being a flat key-value Database
// with higher-level state layered on top in JSON (the teacher's chain state
// does the equivalent with RLP; JSON is this module's wire format since
// nothing here needs chain-consensus-grade determinism in its encoding).
type LedgerStore struct {
	kv KV
}

// New wraps kv as a LedgerStore.
func New(kv KV) *LedgerStore {
	return &LedgerStore{kv: kv}
}

// Close releases the underlying KV.
func (s *LedgerStore) Close() error {
	return s.kv.Close()
}

func stateKey(poolID string) []byte {
	return []byte("state:" + poolID)
}

func accountKey(poolID string, addr market.Address) []byte {
	return []byte("account:" + poolID + ":" + addr.String())
}

func batchKey(poolID string, expiry uint64) []byte {
	return []byte(fmt.Sprintf("batch:%s:%020d", poolID, expiry))
}

func claimKey(poolID string, expiry uint64, lender market.Address) []byte {
	return []byte(fmt.Sprintf("claim:%s:%020d:%s", poolID, expiry, lender.String()))
}

func queueKey(poolID string) []byte {
	return []byte("queue:" + poolID)
}

// GetState implements market.Store.
func (s *LedgerStore) GetState(poolID string) (*market.State, error) {
	raw, err := s.kv.Get(stateKey(poolID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var state market.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("store: decode state for %s: %w", poolID, err)
	}
	return &state, nil
}

// PutState implements market.Store.
func (s *LedgerStore) PutState(state *market.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode state for %s: %w", state.PoolID, err)
	}
	return s.kv.Put(stateKey(state.PoolID), raw)
}

// GetAccount implements market.Store.
func (s *LedgerStore) GetAccount(poolID string, addr market.Address) (*market.Account, error) {
	raw, err := s.kv.Get(accountKey(poolID, addr))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var account market.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("store: decode account %s/%s: %w", poolID, addr, err)
	}
	return &account, nil
}

// PutAccount implements market.Store.
func (s *LedgerStore) PutAccount(poolID string, account *market.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("store: encode account %s/%s: %w", poolID, account.Address, err)
	}
	return s.kv.Put(accountKey(poolID, account.Address), raw)
}

// GetBatch implements market.Store.
func (s *LedgerStore) GetBatch(poolID string, expiry uint64) (*market.WithdrawalBatch, error) {
	raw, err := s.kv.Get(batchKey(poolID, expiry))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var batch market.WithdrawalBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("store: decode batch %s/%d: %w", poolID, expiry, err)
	}
	return &batch, nil
}

// PutBatch implements market.Store.
func (s *LedgerStore) PutBatch(poolID string, batch *market.WithdrawalBatch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("store: encode batch %s/%d: %w", poolID, batch.Expiry, err)
	}
	return s.kv.Put(batchKey(poolID, batch.Expiry), raw)
}

// GetWithdrawalClaim implements market.Store.
func (s *LedgerStore) GetWithdrawalClaim(poolID string, expiry uint64, lender market.Address) (*big.Int, error) {
	raw, err := s.kv.Get(claimKey(poolID, expiry, lender))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := amount.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("store: decode claim %s/%d/%s: %w", poolID, expiry, lender, err)
	}
	return amount, nil
}

// PutWithdrawalClaim implements market.Store.
func (s *LedgerStore) PutWithdrawalClaim(poolID string, expiry uint64, lender market.Address, scaledAmount *big.Int) error {
	raw, err := scaledAmount.MarshalJSON()
	if err != nil {
		return fmt.Errorf("store: encode claim %s/%d/%s: %w", poolID, expiry, lender, err)
	}
	return s.kv.Put(claimKey(poolID, expiry, lender), raw)
}

// UnpaidQueue implements market.Store.
func (s *LedgerStore) UnpaidQueue(poolID string) ([]uint64, error) {
	raw, err := s.kv.Get(queueKey(poolID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var queue []uint64
	if err := json.Unmarshal(raw, &queue); err != nil {
		return nil, fmt.Errorf("store: decode unpaid queue for %s: %w", poolID, err)
	}
	return queue, nil
}

// PutUnpaidQueue implements market.Store.
func (s *LedgerStore) PutUnpaidQueue(poolID string, queue []uint64) error {
	raw, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("store: encode unpaid queue for %s: %w", poolID, err)
	}
	return s.kv.Put(queueKey(poolID), raw)
}

var _ market.Store = (*LedgerStore)(nil)
