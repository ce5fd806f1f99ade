package market

import "sync"

// Guard implements the reentrancy guard required by spec.md 5: while a
// guarded call is in progress on a market, any re-entry into the same or
// another guarded entry point on that market fails with ErrReentrancy
// instead of blocking. Grounded on native/common.Guard's shape (a small
// check returning a sentinel error) generalized from a pause-flag check to
// a held-lock check, using the sync.Mutex field idiom the teacher uses in
// native/escrow/types.go for per-registry locking.
type Guard struct {
	mu sync.Mutex
}

// Enter attempts to acquire the guard. It returns ErrReentrancy immediately
// if the guard is already held rather than waiting, since spec.md 5
// requires re-entrant calls to fail, not serialize.
func (g *Guard) Enter() error {
	if !g.mu.TryLock() {
		return ErrReentrancy
	}
	return nil
}

// Exit releases the guard. Callers pair it with Enter via defer.
func (g *Guard) Exit() {
	g.mu.Unlock()
}
