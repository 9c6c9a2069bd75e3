package upgrade

import (
	"context"
	"time"

	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// The methods below forward to the active logic.

func (s *Shell) StorageLayout() store.Layout { return s.current().StorageLayout() }

func (s *Shell) Initialize(ctx context.Context, owner types.Address) error {
	return s.current().Initialize(ctx, owner)
}

func (s *Shell) TransferOwnership(ctx context.Context, caller, newOwner types.Address) error {
	return s.current().TransferOwnership(ctx, caller, newOwner)
}

func (s *Shell) Pause(ctx context.Context, caller types.Address) error {
	return s.current().Pause(ctx, caller)
}

func (s *Shell) Unpause(ctx context.Context, caller types.Address) error {
	return s.current().Unpause(ctx, caller)
}

func (s *Shell) RecoverERC20(ctx context.Context, caller, token types.Address, amount types.Amount) error {
	return s.current().RecoverERC20(ctx, caller, token, amount)
}

func (s *Shell) CreatePlan(ctx context.Context, caller types.Address, spec plan.Spec) (*plan.Plan, error) {
	return s.current().CreatePlan(ctx, caller, spec)
}

func (s *Shell) UpdatePlan(ctx context.Context, caller types.Address, planID uint64, upd plan.Update) error {
	return s.current().UpdatePlan(ctx, caller, planID, upd)
}

func (s *Shell) UpdateMerchant(ctx context.Context, caller types.Address, planID uint64, merchant types.Address) error {
	return s.current().UpdateMerchant(ctx, caller, planID, merchant)
}

func (s *Shell) DisablePlan(ctx context.Context, caller types.Address, planID uint64) error {
	return s.current().DisablePlan(ctx, caller, planID)
}

func (s *Shell) Subscribe(ctx context.Context, caller types.Address, planID uint64) (*subscription.Subscription, error) {
	return s.current().Subscribe(ctx, caller, planID)
}

func (s *Shell) SubscribeWithPermit(ctx context.Context, caller types.Address, planID uint64, deadline time.Time, signature []byte) (*subscription.Subscription, error) {
	return s.current().SubscribeWithPermit(ctx, caller, planID, deadline, signature)
}

func (s *Shell) ProcessPayment(ctx context.Context, caller, subscriber types.Address, planID uint64) (*charge.Charge, error) {
	return s.current().ProcessPayment(ctx, caller, subscriber, planID)
}

func (s *Shell) CancelSubscription(ctx context.Context, caller types.Address, planID uint64) error {
	return s.current().CancelSubscription(ctx, caller, planID)
}

func (s *Shell) Plan(ctx context.Context, planID uint64) (*plan.Plan, error) {
	return s.current().Plan(ctx, planID)
}

func (s *Shell) Plans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return s.current().Plans(ctx, opts)
}

func (s *Shell) PlanCount(ctx context.Context) (uint64, error) {
	return s.current().PlanCount(ctx)
}

func (s *Shell) Subscription(ctx context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error) {
	return s.current().Subscription(ctx, subscriber, planID)
}

func (s *Shell) Subscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return s.current().Subscriptions(ctx, opts)
}

func (s *Shell) DueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.current().DueSubscriptions(ctx, asOf, limit)
}

func (s *Shell) Charges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	return s.current().Charges(ctx, opts)
}

func (s *Shell) QuoteAmount(ctx context.Context, planID uint64) (types.Amount, error) {
	return s.current().QuoteAmount(ctx, planID)
}

func (s *Shell) Owner(ctx context.Context) (types.Address, error) {
	return s.current().Owner(ctx)
}

func (s *Shell) Paused(ctx context.Context) (bool, error) {
	return s.current().Paused(ctx)
}
