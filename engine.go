package recur

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/event"
	"github.com/xraph/recur/guard"
	"github.com/xraph/recur/id"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/types"
)

// Version is the logic version tag of this engine.
const Version = "1.0.0"

// Engine is the billing engine. It owns plans, subscription slots and the
// root state, and is the only writer of them.
//
// Every mutating operation takes the caller's address explicitly and runs
// under the reentrancy guard. State is written only after every check and
// the external token transfer have succeeded, so a failed call leaves no
// trace. Events are emitted after the guard is released.
type Engine struct {
	store    store.Store
	tokens   token.Provider
	feeds    oracle.Provider
	resolver *pricing.Resolver
	guard    *guard.Guard
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    func() time.Time
	address  types.Address

	maxPriceAge time.Duration
	skipMigrate bool
}

// New creates a new Engine on s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		guard:       guard.New(),
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		clock:       time.Now,
		maxPriceAge: pricing.DefaultMaxPriceAge,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.resolver = pricing.NewResolver(e.feeds, pricing.WithMaxPriceAge(e.maxPriceAge))
	return e
}

// Start migrates the store unless WithoutMigrate was given, then notifies
// plugins.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("recur engine started",
		"version", e.Version(),
		"address", e.address,
		"max_price_age", e.maxPriceAge,
		"plugins", e.plugins.Count(),
	)
	return nil
}

// Stop notifies plugins and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.plugins.EmitShutdown(ctx)
	return e.store.Close()
}

// Version returns the logic version tag.
func (e *Engine) Version() string { return Version }

// StorageLayout returns the layout this logic version expects.
func (e *Engine) StorageLayout() store.Layout { return StorageLayout() }

// Guard returns the reentrancy guard protecting this engine.
func (e *Engine) Guard() *guard.Guard { return e.guard }

// Address returns the engine's own account address.
func (e *Engine) Address() types.Address { return e.address }

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

func (e *Engine) now() time.Time {
	return types.Second(e.clock())
}

// mutate runs fn holding the guard with the current root state loaded, then
// emits the returned events once the guard is released.
func (e *Engine) mutate(ctx context.Context, fn func(ctx context.Context, st *store.State) ([]event.Event, error)) error {
	gctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}

	events, err := func() ([]event.Event, error) {
		defer release()
		st, err := e.store.GetState(gctx)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		return fn(gctx, st)
	}()
	if err != nil {
		return err
	}

	for _, ev := range events {
		e.plugins.Emit(ctx, ev)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Initialization & ownership
// ──────────────────────────────────────────────────

// Initialize sets the first owner. It succeeds once per deployment.
func (e *Engine) Initialize(ctx context.Context, owner types.Address) error {
	if owner.IsZero() {
		return ValidationError{Field: "owner", Message: "must not be the zero address"}
	}

	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if st.Initialized {
			return nil, ErrAlreadyInitialized
		}

		now := e.now()
		st.Owner = owner
		st.Initialized = true
		st.UpdatedAt = now
		if st.LogicVersion == "" {
			st.LogicVersion = e.Version()
			st.Layout = e.StorageLayout()
		}
		if err := e.store.SaveState(ctx, st); err != nil {
			return nil, err
		}

		e.logger.Info("engine initialized", "owner", owner, "version", st.LogicVersion)
		return []event.Event{
			&event.Initialized{Header: event.NewHeader(event.TypeInitialized, now), Owner: owner, Version: st.LogicVersion},
			&event.OwnershipTransferred{Header: event.NewHeader(event.TypeOwnershipTransferred, now), NewOwner: owner},
		}, nil
	})
}

// TransferOwnership hands business-operation authority to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner types.Address) error {
	if newOwner.IsZero() {
		return ValidationError{Field: "new_owner", Message: "must not be the zero address"}
	}

	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}

		now := e.now()
		previous := st.Owner
		st.Owner = newOwner
		st.UpdatedAt = now
		if err := e.store.SaveState(ctx, st); err != nil {
			return nil, err
		}

		e.logger.Info("ownership transferred", "previous_owner", previous, "new_owner", newOwner)
		return []event.Event{&event.OwnershipTransferred{
			Header:        event.NewHeader(event.TypeOwnershipTransferred, now),
			PreviousOwner: previous,
			NewOwner:      newOwner,
		}}, nil
	})
}

// Pause stops new subscriptions and charges. Pausing a paused engine is a
// no-op.
func (e *Engine) Pause(ctx context.Context, caller types.Address) error {
	return e.setPaused(ctx, caller, true)
}

// Unpause lifts the pause switch.
func (e *Engine) Unpause(ctx context.Context, caller types.Address) error {
	return e.setPaused(ctx, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, caller types.Address, paused bool) error {
	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}
		if st.Paused == paused {
			return nil, nil
		}

		now := e.now()
		st.Paused = paused
		st.UpdatedAt = now
		if err := e.store.SaveState(ctx, st); err != nil {
			return nil, err
		}

		e.logger.Info("pause switch changed", "paused", paused, "by", caller)
		if paused {
			return []event.Event{&event.Paused{Header: event.NewHeader(event.TypePaused, now), Account: caller}}, nil
		}
		return []event.Event{&event.Unpaused{Header: event.NewHeader(event.TypeUnpaused, now), Account: caller}}, nil
	})
}

// RecoverERC20 sends amount of a token held by the engine's own account to
// the owner.
func (e *Engine) RecoverERC20(ctx context.Context, caller, tokenAddr types.Address, amount types.Amount) error {
	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}

		ledger, err := e.ledger(ctx, tokenAddr)
		if err != nil {
			return nil, err
		}
		if err := ledger.Transfer(ctx, e.address, st.Owner, amount); err != nil {
			return nil, err
		}

		e.logger.Info("tokens recovered", "token", tokenAddr, "amount", amount, "to", st.Owner)
		return []event.Event{&event.TokensRecovered{
			Header: event.NewHeader(event.TypeTokensRecovered, e.now()),
			Token:  tokenAddr,
			To:     st.Owner,
			Amount: amount,
		}}, nil
	})
}

// ──────────────────────────────────────────────────
// Plan administration
// ──────────────────────────────────────────────────

// CreatePlan adds an active plan under the next sequential ID.
func (e *Engine) CreatePlan(ctx context.Context, caller types.Address, spec plan.Spec) (*plan.Plan, error) {
	var created *plan.Plan
	err := e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}

		count, err := e.store.CountPlans(ctx)
		if err != nil {
			return nil, err
		}

		now := e.now()
		p := &plan.Plan{
			Entity:        types.NewEntityAt(now),
			ID:            count + 1,
			Merchant:      spec.Merchant,
			Token:         spec.Token,
			TokenDecimals: spec.TokenDecimals,
			Price:         spec.Price,
			BillingCycle:  spec.BillingCycle,
			PriceInUSD:    spec.PriceInUSD,
			USDPrice:      spec.USDPrice,
			PriceFeed:     spec.PriceFeed,
			Active:        true,
		}
		if err := e.store.CreatePlan(ctx, p); err != nil {
			return nil, err
		}
		created = p

		e.logger.Info("plan created",
			"plan_id", p.ID,
			"merchant", p.Merchant,
			"token", p.Token,
			"price_in_usd", p.PriceInUSD,
			"billing_cycle", p.BillingCycle,
		)
		return []event.Event{&event.PlanCreated{
			Header:        event.NewHeader(event.TypePlanCreated, now),
			PlanID:        p.ID,
			Merchant:      p.Merchant,
			Token:         p.Token,
			TokenDecimals: p.TokenDecimals,
			Price:         p.Price,
			BillingCycle:  p.BillingCycle,
			PriceInUSD:    p.PriceInUSD,
			USDPrice:      p.USDPrice,
			PriceFeed:     p.PriceFeed,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdatePlan replaces a plan's pricing and cadence.
func (e *Engine) UpdatePlan(ctx context.Context, caller types.Address, planID uint64, upd plan.Update) error {
	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}
		p, err := e.store.GetPlan(ctx, planID)
		if err != nil {
			return nil, err
		}
		if err := upd.Validate(); err != nil {
			return nil, err
		}

		now := e.now()
		upd.Apply(p)
		p.Touch(now)
		if err := e.store.UpdatePlan(ctx, p); err != nil {
			return nil, err
		}

		e.logger.Info("plan updated", "plan_id", planID, "price_in_usd", p.PriceInUSD, "billing_cycle", p.BillingCycle)
		return []event.Event{&event.PlanUpdated{
			Header:       event.NewHeader(event.TypePlanUpdated, now),
			PlanID:       planID,
			BillingCycle: p.BillingCycle,
			Price:        p.Price,
			PriceInUSD:   p.PriceInUSD,
			USDPrice:     p.USDPrice,
			PriceFeed:    p.PriceFeed,
		}}, nil
	})
}

// UpdateMerchant changes where a plan's charges are paid.
func (e *Engine) UpdateMerchant(ctx context.Context, caller types.Address, planID uint64, merchant types.Address) error {
	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}
		p, err := e.store.GetPlan(ctx, planID)
		if err != nil {
			return nil, err
		}
		if merchant.IsZero() {
			return nil, ErrInvalidMerchant
		}

		now := e.now()
		previous := p.Merchant
		p.Merchant = merchant
		p.Touch(now)
		if err := e.store.UpdatePlan(ctx, p); err != nil {
			return nil, err
		}

		e.logger.Info("plan merchant updated", "plan_id", planID, "merchant", merchant)
		return []event.Event{&event.MerchantUpdated{
			Header:           event.NewHeader(event.TypeMerchantUpdated, now),
			PlanID:           planID,
			PreviousMerchant: previous,
			Merchant:         merchant,
		}}, nil
	})
}

// DisablePlan stops new subscriptions to a plan. Existing subscriptions keep
// being charged.
func (e *Engine) DisablePlan(ctx context.Context, caller types.Address, planID uint64) error {
	return e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireOwner(st.Owner, caller); err != nil {
			return nil, err
		}
		p, err := e.store.GetPlan(ctx, planID)
		if err != nil {
			return nil, err
		}

		now := e.now()
		p.Active = false
		p.Touch(now)
		if err := e.store.UpdatePlan(ctx, p); err != nil {
			return nil, err
		}

		e.logger.Info("plan disabled", "plan_id", planID)
		return []event.Event{&event.PlanDisabled{
			Header: event.NewHeader(event.TypePlanDisabled, now),
			PlanID: planID,
		}}, nil
	})
}

// ──────────────────────────────────────────────────
// Billing
// ──────────────────────────────────────────────────

// Subscribe enrolls caller in a plan and takes the first payment.
func (e *Engine) Subscribe(ctx context.Context, caller types.Address, planID uint64) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	err := e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		var (
			events []event.Event
			err    error
		)
		sub, events, err = e.subscribe(ctx, st, caller, planID, nil)
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeWithPermit is Subscribe preceded by a signed approval of the
// exact first payment to the plan's token ledger. Permit failures come from
// the ledger and are returned unchanged.
func (e *Engine) SubscribeWithPermit(ctx context.Context, caller types.Address, planID uint64, deadline time.Time, signature []byte) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	err := e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		var (
			events []event.Event
			err    error
		)
		sub, events, err = e.subscribe(ctx, st, caller, planID, &permitArgs{deadline: deadline, signature: signature})
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type permitArgs struct {
	deadline  time.Time
	signature []byte
}

func (e *Engine) subscribe(ctx context.Context, st *store.State, caller types.Address, planID uint64, permit *permitArgs) (*subscription.Subscription, []event.Event, error) {
	if err := guard.RequireNotPaused(st.Paused); err != nil {
		return nil, nil, err
	}

	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if !p.Active {
		return nil, nil, ErrPlanInactive
	}

	existing, err := e.store.GetSubscription(ctx, caller, planID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil, err
	}
	if existing.State() == subscription.StatusActive {
		return nil, nil, ErrAlreadyActive
	}

	now := e.now()
	amount, err := e.resolver.Resolve(ctx, p.Terms(), now)
	if err != nil {
		return nil, nil, err
	}

	ledger, err := e.ledger(ctx, p.Token)
	if err != nil {
		return nil, nil, err
	}
	if permit != nil {
		permitter, ok := ledger.(token.Permitter)
		if !ok {
			return nil, nil, ErrPermitNotSupported
		}
		if err := permitter.Permit(ctx, token.Permit{
			Owner:     caller,
			Spender:   e.address,
			Value:     amount,
			Deadline:  permit.deadline,
			Signature: permit.signature,
		}); err != nil {
			return nil, nil, err
		}
	}
	if err := ledger.TransferFrom(ctx, e.address, caller, p.Merchant, amount); err != nil {
		return nil, nil, err
	}

	// Re-subscribing after a cancellation reuses the slot and its ID.
	var sub *subscription.Subscription
	if existing != nil {
		sub = existing
		sub.Touch(now)
	} else {
		sub = &subscription.Subscription{
			Entity:     types.NewEntityAt(now),
			ID:         id.NewSubscriptionID(),
			Subscriber: caller,
			PlanID:     planID,
		}
	}
	sub.StartTime = now
	sub.NextPaymentDate = now.Add(p.BillingCycle)
	sub.Active = true
	sub.CancelledAt = nil

	if err := e.store.SaveSubscription(ctx, sub); err != nil {
		return nil, nil, err
	}
	e.recordCharge(ctx, p, sub, amount, charge.KindInitial, now, now)

	e.logger.Info("subscribed",
		"subscriber", caller,
		"plan_id", planID,
		"amount", amount,
		"next_payment_date", sub.NextPaymentDate,
		"permit", permit != nil,
	)
	return sub, []event.Event{&event.Subscribed{
		Header:          event.NewHeader(event.TypeSubscribed, now),
		Subscriber:      caller,
		PlanID:          planID,
		Amount:          amount,
		NextPaymentDate: sub.NextPaymentDate,
	}}, nil
}

// ProcessPayment collects one due payment at the plan's current price and
// moves the next payment date forward by exactly one billing cycle. Anyone
// may call it.
func (e *Engine) ProcessPayment(ctx context.Context, caller, subscriber types.Address, planID uint64) (*charge.Charge, error) {
	var receipt *charge.Charge
	err := e.mutate(ctx, func(ctx context.Context, st *store.State) ([]event.Event, error) {
		if err := guard.RequireNotPaused(st.Paused); err != nil {
			return nil, err
		}

		p, err := e.store.GetPlan(ctx, planID)
		if err != nil {
			return nil, err
		}

		sub, err := e.store.GetSubscription(ctx, subscriber, planID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			return nil, ErrSubscriptionNotActive
		case err != nil:
			return nil, err
		case !sub.Active:
			return nil, ErrSubscriptionNotActive
		}

		now := e.now()
		if now.Before(sub.NextPaymentDate) {
			return nil, ErrPaymentNotDue
		}

		amount, err := e.resolver.Resolve(ctx, p.Terms(), now)
		if err != nil {
			return nil, err
		}
		ledger, err := e.ledger(ctx, p.Token)
		if err != nil {
			return nil, err
		}
		if err := ledger.TransferFrom(ctx, e.address, subscriber, p.Merchant, amount); err != nil {
			return nil, err
		}

		periodStart := sub.NextPaymentDate
		sub.NextPaymentDate = sub.NextPaymentDate.Add(p.BillingCycle)
		sub.Touch(now)
		if err := e.store.SaveSubscription(ctx, sub); err != nil {
			return nil, err
		}
		receipt = e.recordCharge(ctx, p, sub, amount, charge.KindRenewal, periodStart, now)

		e.logger.Info("payment processed",
			"subscriber", subscriber,
			"plan_id", planID,
			"amount", amount,
			"next_payment_date", sub.NextPaymentDate,
			"processed_by", caller,
		)
		return []event.Event{&event.PaymentProcessed{
			Header:          event.NewHeader(event.TypePaymentProcessed, now),
			Subscriber:      subscriber,
			PlanID:          planID,
			Amount:          amount,
			NextPaymentDate: sub.NextPaymentDate,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// CancelSubscription ends caller's subscription to a plan. It is allowed
// while paused and does not look at due payments.
func (e *Engine) CancelSubscription(ctx context.Context, caller types.Address, planID uint64) error {
	return e.mutate(ctx, func(ctx context.Context, _ *store.State) ([]event.Event, error) {
		sub, err := e.store.GetSubscription(ctx, caller, planID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			return nil, ErrSubscriptionNotActive
		case err != nil:
			return nil, err
		case !sub.Active:
			return nil, ErrSubscriptionNotActive
		}

		now := e.now()
		sub.Active = false
		sub.CancelledAt = &now
		sub.Touch(now)
		if err := e.store.SaveSubscription(ctx, sub); err != nil {
			return nil, err
		}

		e.logger.Info("subscription cancelled", "subscriber", caller, "plan_id", planID)
		return []event.Event{&event.SubscriptionCancelled{
			Header:     event.NewHeader(event.TypeSubscriptionCancelled, now),
			Subscriber: caller,
			PlanID:     planID,
		}}, nil
	})
}

func (e *Engine) recordCharge(ctx context.Context, p *plan.Plan, sub *subscription.Subscription, amount types.Amount, kind charge.Kind, periodStart, now time.Time) *charge.Charge {
	c := &charge.Charge{
		ID:              id.NewChargeID(),
		Subscriber:      sub.Subscriber,
		PlanID:          p.ID,
		Merchant:        p.Merchant,
		Token:           p.Token,
		Amount:          amount,
		Kind:            kind,
		PeriodStart:     periodStart,
		NextPaymentDate: sub.NextPaymentDate,
		ChargedAt:       now,
	}
	if err := e.store.RecordCharge(ctx, c); err != nil {
		e.logger.Warn("failed to record charge",
			"charge_id", c.ID,
			"subscriber", c.Subscriber,
			"plan_id", c.PlanID,
			"error", err,
		)
	}
	return c
}

func (e *Engine) ledger(ctx context.Context, addr types.Address) (token.Ledger, error) {
	if e.tokens == nil {
		return nil, ErrLedgerNotFound
	}
	return e.tokens.Ledger(ctx, addr)
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Plan returns a plan by ID.
func (e *Engine) Plan(ctx context.Context, planID uint64) (*plan.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// Plans lists plans.
func (e *Engine) Plans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, opts)
}

// PlanCount returns the number of plans created so far.
func (e *Engine) PlanCount(ctx context.Context) (uint64, error) {
	return e.store.CountPlans(ctx)
}

// Subscription returns the slot of subscriber on planID.
func (e *Engine) Subscription(ctx context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subscriber, planID)
}

// Subscriptions lists subscription slots.
func (e *Engine) Subscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return e.store.ListSubscriptions(ctx, opts)
}

// DueSubscriptions lists active subscriptions payable at asOf.
func (e *Engine) DueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	return e.store.ListDue(ctx, types.Second(asOf), limit)
}

// Charges lists charge receipts.
func (e *Engine) Charges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	return e.store.ListCharges(ctx, opts)
}

// QuoteAmount returns what a charge on planID would cost right now.
func (e *Engine) QuoteAmount(ctx context.Context, planID uint64) (types.Amount, error) {
	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return types.Amount{}, err
	}
	return e.resolver.Resolve(ctx, p.Terms(), e.now())
}

// Owner returns the current owner, zero before initialization.
func (e *Engine) Owner(ctx context.Context) (types.Address, error) {
	st, err := e.store.GetState(ctx)
	if err != nil {
		return types.ZeroAddress, err
	}
	return st.Owner, nil
}

// Paused reports the pause switch.
func (e *Engine) Paused(ctx context.Context) (bool, error) {
	st, err := e.store.GetState(ctx)
	if err != nil {
		return false, err
	}
	return st.Paused, nil
}
