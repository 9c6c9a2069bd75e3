package subscription

import (
	"context"
	"time"

	"github.com/xraph/recur/types"
)

// Store persists subscription slots.
type Store interface {
	GetSubscription(ctx context.Context, subscriber types.Address, planID uint64) (*Subscription, error)
	// SaveSubscription inserts or replaces the slot keyed by
	// (Subscriber, PlanID).
	SaveSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	// ListDue returns active subscriptions whose next payment date is at or
	// before asOf, oldest first.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)
}

// ListOpts filters subscription listings. Zero values match everything.
type ListOpts struct {
	Subscriber types.Address
	PlanID     uint64
	Status     Status
	Limit      int
	Offset     int
}
