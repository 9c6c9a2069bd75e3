// Package oracle defines the price feed capability consumed by the price
// resolver, plus in-process feeds for tests and fixed-rate deployments.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/xraph/recur/types"
)

// ErrFeedNotFound is returned by a Provider that has no feed at an address.
var ErrFeedNotFound = errors.New("recur: price feed not found")

// Round is the latest reading of a feed. Answer is a signed fixed-point
// value scaled by the feed's decimals.
type Round struct {
	RoundID   uint64
	Answer    *big.Int
	StartedAt time.Time
	UpdatedAt time.Time
}

// PriceFeed reports a fiat-denominated price for one token.
type PriceFeed interface {
	Decimals(ctx context.Context) (uint8, error)
	LatestRoundData(ctx context.Context) (Round, error)
}

// Provider resolves the feed deployed at an address.
type Provider interface {
	Feed(ctx context.Context, addr types.Address) (PriceFeed, error)
}

// Registry is a Provider backed by an in-memory address table.
type Registry struct {
	mu    sync.RWMutex
	feeds map[types.Address]PriceFeed
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[types.Address]PriceFeed)}
}

// Register binds feed to addr, replacing any previous binding.
func (r *Registry) Register(addr types.Address, feed PriceFeed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[addr] = feed
}

// Feed implements Provider.
func (r *Registry) Feed(_ context.Context, addr types.Address) (PriceFeed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[addr]
	if !ok {
		return nil, ErrFeedNotFound
	}
	return f, nil
}

// StaticFeed is a PriceFeed whose reading is set by its owner.
type StaticFeed struct {
	mu       sync.RWMutex
	decimals uint8
	round    Round
}

// NewStaticFeed creates a feed reporting answer at updatedAt.
func NewStaticFeed(decimals uint8, answer int64, updatedAt time.Time) *StaticFeed {
	f := &StaticFeed{decimals: decimals}
	f.Set(big.NewInt(answer), updatedAt)
	return f
}

// Set publishes a new reading and advances the round id.
func (f *StaticFeed) Set(answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = Round{
		RoundID:   f.round.RoundID + 1,
		Answer:    new(big.Int).Set(answer),
		StartedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

// Decimals implements PriceFeed.
func (f *StaticFeed) Decimals(context.Context) (uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.decimals, nil
}

// LatestRoundData implements PriceFeed.
func (f *StaticFeed) LatestRoundData(context.Context) (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r := f.round
	r.Answer = new(big.Int).Set(f.round.Answer)
	return r, nil
}
