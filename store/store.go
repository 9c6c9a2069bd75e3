// Package store defines the persistence contract of the billing engine:
// plans, subscription slots, charge receipts and the engine's root state.
package store

import (
	"context"
	"time"

	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// Store is the unified storage interface. Implementations must be safe for
// concurrent use and must return copies, never shared pointers.
type Store interface {
	plan.Store
	subscription.Store
	charge.Store

	// GetState returns the engine's root record, or a zero State if none
	// has been saved yet.
	GetState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, st *State) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// State is the engine's root record. It survives logic upgrades together
// with plans and subscriptions.
type State struct {
	Owner        types.Address `json:"owner"`
	Admin        types.Address `json:"admin"`
	Paused       bool          `json:"paused"`
	Initialized  bool          `json:"initialized"`
	LogicVersion string        `json:"logic_version"`
	Layout       Layout        `json:"layout"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of st.
func (st *State) Clone() *State {
	cp := *st
	cp.Layout = st.Layout.Clone()
	return &cp
}
