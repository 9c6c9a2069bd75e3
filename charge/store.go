package charge

import (
	"context"

	"github.com/xraph/recur/types"
)

// Store persists charge receipts.
type Store interface {
	RecordCharge(ctx context.Context, c *Charge) error
	ListCharges(ctx context.Context, opts ListOpts) ([]*Charge, error)
}

// ListOpts filters charge listings. Results are ordered by ChargedAt.
type ListOpts struct {
	Subscriber types.Address
	PlanID     uint64
	Merchant   types.Address
	Limit      int
	Offset     int
}
