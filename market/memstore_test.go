package market

import "math/big"

// memStore is a minimal in-memory Store used across this package's tests.
// Grounded on the teacher's mockEngineState fixture in
// native/lending/engine_accrual_test.go.
type memStore struct {
	states  map[string]*State
	accounts map[string]*Account
	batches map[string]*WithdrawalBatch
	claims  map[string]*big.Int
	queues  map[string][]uint64
}

func newMemStore() *memStore {
	return &memStore{
		states:   map[string]*State{},
		accounts: map[string]*Account{},
		batches:  map[string]*WithdrawalBatch{},
		claims:   map[string]*big.Int{},
		queues:   map[string][]uint64{},
	}
}

func (m *memStore) GetState(poolID string) (*State, error) {
	s, ok := m.states[poolID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *memStore) PutState(state *State) error {
	m.states[state.PoolID] = state.Clone()
	return nil
}

func accountKey(poolID string, addr Address) string { return poolID + "|" + addr.String() }

func (m *memStore) GetAccount(poolID string, addr Address) (*Account, error) {
	a, ok := m.accounts[accountKey(poolID, addr)]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (m *memStore) PutAccount(poolID string, account *Account) error {
	m.accounts[accountKey(poolID, account.Address)] = account.Clone()
	return nil
}

func batchKey(poolID string, expiry uint64) string {
	return poolID + "|" + new(big.Int).SetUint64(expiry).String()
}

func (m *memStore) GetBatch(poolID string, expiry uint64) (*WithdrawalBatch, error) {
	b, ok := m.batches[batchKey(poolID, expiry)]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (m *memStore) PutBatch(poolID string, batch *WithdrawalBatch) error {
	m.batches[batchKey(poolID, batch.Expiry)] = batch.Clone()
	return nil
}

func claimKey(poolID string, expiry uint64, lender Address) string {
	return batchKey(poolID, expiry) + "|" + lender.String()
}

func (m *memStore) GetWithdrawalClaim(poolID string, expiry uint64, lender Address) (*big.Int, error) {
	c, ok := m.claims[claimKey(poolID, expiry, lender)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(c), nil
}

func (m *memStore) PutWithdrawalClaim(poolID string, expiry uint64, lender Address, scaledAmount *big.Int) error {
	m.claims[claimKey(poolID, expiry, lender)] = new(big.Int).Set(scaledAmount)
	return nil
}

func (m *memStore) UnpaidQueue(poolID string) ([]uint64, error) {
	q, ok := m.queues[poolID]
	if !ok {
		return nil, nil
	}
	out := make([]uint64, len(q))
	copy(out, q)
	return out, nil
}

func (m *memStore) PutUnpaidQueue(poolID string, queue []uint64) error {
	out := make([]uint64, len(queue))
	copy(out, queue)
	m.queues[poolID] = out
	return nil
}

var _ Store = (*memStore)(nil)
