package recur

import (
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// Re-export common types so callers rarely need the leaf packages.

// Address is re-exported from types package.
type Address = types.Address

// Amount is re-exported from types package.
type Amount = types.Amount

// Plan is re-exported from plan package.
type Plan = plan.Plan

// PlanSpec is re-exported from plan package.
type PlanSpec = plan.Spec

// PlanUpdate is re-exported from plan package.
type PlanUpdate = plan.Update

// Subscription is re-exported from subscription package.
type Subscription = subscription.Subscription

// Re-export value constructors.
var (
	ParseAddress     = types.ParseAddress
	MustParseAddress = types.MustParseAddress
	NewAmount        = types.NewAmount
	ParseAmount      = types.ParseAmount
	Units            = types.Units
)
