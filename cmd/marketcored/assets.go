package main

import (
	"fmt"
	"math/big"
	"sync"

	"marketcore/market"
)

// memoryAssets is a single-process AssetTransactor backing the demo/dev
// deployment of marketcored: a plain map of address to balance, guarded by
// a mutex. Production deployments wire market.AssetTransactor to whatever
// token ledger the host chain or custodian exposes instead; this
// implementation exists only so the service binary has something concrete
// to run against out of the box, the same way the teacher's services ship
// an in-memory fallback behind their real collaborators in tests.
type memoryAssets struct {
	mu       sync.Mutex
	self     market.Address
	balances map[market.Address]*big.Int
}

// newMemoryAssets builds a demo asset ledger. self is the address the
// market's own held assets live under; Transfer debits from it, mirroring
// how a real AssetTransactor would move funds out of the market's vault.
func newMemoryAssets(self market.Address) *memoryAssets {
	return &memoryAssets{self: self, balances: make(map[market.Address]*big.Int)}
}

// Credit increases addr's balance by amount. It exists to seed the demo
// ledger in-process, since there is no real token bridge behind
// memoryAssets; the admin HTTP server exposes no route that calls it.
func (m *memoryAssets) Credit(addr market.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[addr]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balances[addr] = new(big.Int).Add(current, amount)
}

// BalanceOf implements market.AssetTransactor.
func (m *memoryAssets) BalanceOf(addr market.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[addr]
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// Transfer implements market.AssetTransactor.
func (m *memoryAssets) Transfer(to market.Address, amount *big.Int) error {
	return m.move(m.self, to, amount, true)
}

// TransferFrom implements market.AssetTransactor.
func (m *memoryAssets) TransferFrom(from, to market.Address, amount *big.Int) error {
	return m.move(from, to, amount, true)
}

func (m *memoryAssets) move(from, to market.Address, amount *big.Int, checkFrom bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if checkFrom {
		current := m.balances[from]
		if current == nil || current.Cmp(amount) < 0 {
			return fmt.Errorf("marketcored: insufficient demo balance for %s", from)
		}
		m.balances[from] = new(big.Int).Sub(current, amount)
	}
	existing := m.balances[to]
	if existing == nil {
		existing = big.NewInt(0)
	}
	m.balances[to] = new(big.Int).Add(existing, amount)
	return nil
}

var _ market.AssetTransactor = (*memoryAssets)(nil)
