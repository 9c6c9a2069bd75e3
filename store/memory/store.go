// Package memory implements store.Store in process memory. It is intended
// for tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

var _ store.Store = (*Store)(nil)

type slotKey struct {
	subscriber types.Address
	planID     uint64
}

type Store struct {
	mu sync.RWMutex

	state *store.State

	// Plans indexed by ID; IDs are dense from 1.
	plans map[uint64]*plan.Plan

	subscriptions map[slotKey]*subscription.Subscription

	charges []*charge.Charge
}

func New() *Store {
	return &Store{
		state:         &store.State{},
		plans:         make(map[uint64]*plan.Plan),
		subscriptions: make(map[slotKey]*subscription.Subscription),
	}
}

// ──────────────────────────────────────────────────
// Root state
// ──────────────────────────────────────────────────

func (s *Store) GetState(_ context.Context) (*store.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

func (s *Store) SaveState(_ context.Context, st *store.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Plan Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return recur.ErrAlreadyExists
	}
	s.plans[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID uint64) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID]; ok {
		return p.Clone(), nil
	}
	return nil, recur.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*plan.Plan
	for _, p := range s.plans {
		if !opts.Merchant.IsZero() && p.Merchant != opts.Merchant {
			continue
		}
		if opts.ActiveOnly && !p.Active {
			continue
		}
		result = append(result, p.Clone())
	}
	slices.SortFunc(result, func(a, b *plan.Plan) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountPlans(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.plans)), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; !exists {
		return recur.ErrPlanNotFound
	}
	s.plans[p.ID] = p.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) GetSubscription(_ context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[slotKey{subscriber, planID}]; ok {
		return sub.Clone(), nil
	}
	return nil, recur.ErrSubscriptionNotFound
}

func (s *Store) SaveSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{sub.Subscriber, sub.PlanID}
	if prev, ok := s.subscriptions[key]; ok && prev.ID != sub.ID {
		return fmt.Errorf("%w: slot %s/%d held by %s", recur.ErrAlreadyExists, sub.Subscriber, sub.PlanID, prev.ID)
	}
	s.subscriptions[key] = sub.Clone()
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if !opts.Subscriber.IsZero() && sub.Subscriber != opts.Subscriber {
			continue
		}
		if opts.PlanID != 0 && sub.PlanID != opts.PlanID {
			continue
		}
		if opts.Status != "" && sub.State() != opts.Status {
			continue
		}
		result = append(result, sub.Clone())
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListDue(_ context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Due(asOf) {
			result = append(result, sub.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return a.NextPaymentDate.Compare(b.NextPaymentDate)
	})
	return page(result, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Charge Store implementation
// ──────────────────────────────────────────────────

func (s *Store) RecordCharge(_ context.Context, c *charge.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.charges = append(s.charges, &cp)
	return nil
}

func (s *Store) ListCharges(_ context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*charge.Charge
	for _, c := range s.charges {
		if !opts.Subscriber.IsZero() && c.Subscriber != opts.Subscriber {
			continue
		}
		if opts.PlanID != 0 && c.PlanID != opts.PlanID {
			continue
		}
		if !opts.Merchant.IsZero() && c.Merchant != opts.Merchant {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	// Appended in commit order, already sorted by ChargedAt.
	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
