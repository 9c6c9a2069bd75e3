// Package subscription defines the per-(subscriber, plan) billing slot.
package subscription

import (
	"time"

	"github.com/xraph/recur/id"
	"github.com/xraph/recur/types"
)

// Status is the lifecycle state of a subscription slot.
type Status string

const (
	StatusUnsubscribed Status = "unsubscribed"
	StatusActive       Status = "active"
	StatusCancelled    Status = "cancelled"
)

// Subscription is the billing record of one subscriber on one plan.
// Records are never deleted; cancelling clears Active.
type Subscription struct {
	types.Entity
	ID              id.SubscriptionID `json:"id"`
	Subscriber      types.Address     `json:"subscriber"`
	PlanID          uint64            `json:"plan_id"`
	StartTime       time.Time         `json:"start_time"`
	NextPaymentDate time.Time         `json:"next_payment_date"`
	Active          bool              `json:"active"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
}

// State derives the lifecycle state. A nil subscription is Unsubscribed.
func (s *Subscription) State() Status {
	switch {
	case s == nil:
		return StatusUnsubscribed
	case s.Active:
		return StatusActive
	default:
		return StatusCancelled
	}
}

// Due reports whether a charge may be taken at now.
func (s *Subscription) Due(now time.Time) bool {
	return s.Active && !now.Before(s.NextPaymentDate)
}

// Clone returns a deep copy of s.
func (s *Subscription) Clone() *Subscription {
	cp := *s
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}
