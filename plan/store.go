package plan

import (
	"context"

	"github.com/xraph/recur/types"
)

// Store persists plans. Plans are never deleted.
type Store interface {
	// CreatePlan inserts p. The caller assigns p.ID.
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID uint64) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	// CountPlans returns the number of plans ever created, which is also the
	// highest assigned ID.
	CountPlans(ctx context.Context) (uint64, error)
	UpdatePlan(ctx context.Context, p *Plan) error
}

// ListOpts filters plan listings. Results are ordered by ID.
type ListOpts struct {
	Merchant   types.Address
	ActiveOnly bool
	Limit      int
	Offset     int
}
