// Package token defines the external fungible-token ledger the engine pulls
// payments through.
//
// Ledgers are untrusted: the engine treats their failures as opaque and
// returns them to the caller unchanged. The sentinels below are the errors
// a conforming ledger reports; the engine never produces them itself.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xraph/recur/types"
)

var (
	ErrInsufficientAllowance  = errors.New("token: insufficient allowance")
	ErrInsufficientBalance    = errors.New("token: insufficient balance")
	ErrExpiredPermit          = errors.New("token: expired permit")
	ErrInvalidPermitSignature = errors.New("token: invalid permit signature")
	ErrLedgerNotFound         = errors.New("token: ledger not found")
)

// Ledger is an allowance-based token ledger.
type Ledger interface {
	BalanceOf(ctx context.Context, account types.Address) (types.Amount, error)
	// TransferFrom moves amount from from to to, spending spender's
	// allowance on from.
	TransferFrom(ctx context.Context, spender, from, to types.Address, amount types.Amount) error
	// Transfer moves amount out of from's own balance.
	Transfer(ctx context.Context, from, to types.Address, amount types.Amount) error
}

// Permit is a signed off-line approval setting Spender's allowance on
// Owner to Value.
type Permit struct {
	Owner     types.Address
	Spender   types.Address
	Value     types.Amount
	Deadline  time.Time
	Signature []byte
}

// Permitter is implemented by ledgers supporting signed approvals.
type Permitter interface {
	Permit(ctx context.Context, p Permit) error
}

// Provider resolves the ledger deployed at a token address.
type Provider interface {
	Ledger(ctx context.Context, addr types.Address) (Ledger, error)
}

// Registry is a Provider backed by an in-memory address table.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[types.Address]Ledger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[types.Address]Ledger)}
}

// Register binds l to addr, replacing any previous binding.
func (r *Registry) Register(addr types.Address, l Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[addr] = l
}

// Ledger implements Provider.
func (r *Registry) Ledger(_ context.Context, addr types.Address) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[addr]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return l, nil
}
