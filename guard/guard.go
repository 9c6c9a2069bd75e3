// Package guard implements the checks wrapped around every state-mutating
// engine call: the reentrancy lock, the pause switch and the owner gate.
//
// The lock admits one call at a time and never waits. A guarded entry
// reached while the lock is held fails with ErrReentrantCall, whether it
// arrives from inside a token transfer with the holder's context, from a
// ledger that built a context of its own, or from an unrelated caller.
// Callers that want independent calls queued must serialize them before
// reaching the engine.
package guard

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/recur/types"
)

var (
	ErrReentrantCall  = errors.New("recur: reentrant call")
	ErrUnauthorized   = errors.New("recur: unauthorized")
	ErrContractPaused = errors.New("recur: contract paused")
)

type heldKey struct{ g *Guard }

// Guard is a reentrancy lock. The zero value is not usable; call New.
type Guard struct {
	sem *semaphore.Weighted
}

// New creates an unlocked guard.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Enter acquires the guard. On success it returns a context marked as
// holding the guard and a release func that must be called exactly once.
// Enter fails with ErrReentrantCall while the guard is held.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return ctx, nil, err
	}
	if g.Held(ctx) {
		return ctx, nil, ErrReentrantCall
	}
	if !g.sem.TryAcquire(1) {
		return ctx, nil, fmt.Errorf("%w: guard held by another call", ErrReentrantCall)
	}
	return context.WithValue(ctx, heldKey{g}, true), func() { g.sem.Release(1) }, nil
}

// Held reports whether ctx belongs to a call holding g.
func (g *Guard) Held(ctx context.Context) bool {
	held, _ := ctx.Value(heldKey{g}).(bool)
	return held
}

// RequireOwner fails unless caller is the (non-zero) owner.
func RequireOwner(owner, caller types.Address) error {
	if owner.IsZero() || owner != caller {
		return ErrUnauthorized
	}
	return nil
}

// RequireNotPaused fails while the pause switch is on.
func RequireNotPaused(paused bool) error {
	if paused {
		return ErrContractPaused
	}
	return nil
}
