package main

import (
	"sync"

	"marketcore/market"
)

// demoAuthorizer is a minimal market.Authorizer: everyone may lend unless
// explicitly blocked, nobody is sanctioned unless explicitly flagged, and
// the controller/borrower predicates compare against the pool's own
// configured addresses. Grounded on native/common.PauseView's one-method
// predicate idiom (§6 of SPEC_FULL.md), extended here to the full
// predicate set market.Authorizer requires; a real deployment replaces this
// with a collaborator backed by an actual sanctions/allowlist service.
type demoAuthorizer struct {
	mu         sync.Mutex
	borrower   market.Address
	controller market.Address
	sanctioned map[market.Address]bool
	blocked    map[market.Address]bool
	escrows    map[market.Address]market.Address
	nextEscrow uint64
}

func newDemoAuthorizer(borrower, controller market.Address) *demoAuthorizer {
	return &demoAuthorizer{
		borrower:   borrower,
		controller: controller,
		sanctioned: make(map[market.Address]bool),
		blocked:    make(map[market.Address]bool),
		escrows:    make(map[market.Address]market.Address),
	}
}

// SetSanctioned toggles whether account is treated as sanctioned.
func (a *demoAuthorizer) SetSanctioned(account market.Address, sanctioned bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sanctioned {
		a.sanctioned[account] = true
		return
	}
	delete(a.sanctioned, account)
}

// IsSanctioned implements market.Authorizer.
func (a *demoAuthorizer) IsSanctioned(_, account market.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sanctioned[account]
}

// IsFlagged implements market.Authorizer.
func (a *demoAuthorizer) IsFlagged(account market.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocked[account]
}

// CreateEscrow implements market.Authorizer, deriving a deterministic
// per-sanctioned-account escrow address so repeated sweeps land in the same
// place.
func (a *demoAuthorizer) CreateEscrow(_, account market.Address) (market.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.escrows[account]; ok {
		return existing, nil
	}
	a.nextEscrow++
	var escrow market.Address
	escrow[0] = 0xee
	escrow[len(escrow)-1] = byte(a.nextEscrow)
	a.escrows[account] = escrow
	return escrow, nil
}

// AuthorizeLender implements market.Authorizer.
func (a *demoAuthorizer) AuthorizeLender(account market.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.blocked[account]
}

// OnlyController implements market.Authorizer.
func (a *demoAuthorizer) OnlyController(caller market.Address) bool {
	return caller == a.controller
}

// OnlyBorrower implements market.Authorizer.
func (a *demoAuthorizer) OnlyBorrower(caller market.Address) bool {
	return caller == a.borrower
}

var _ market.Authorizer = (*demoAuthorizer)(nil)
