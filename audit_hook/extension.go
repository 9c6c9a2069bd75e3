// Package audithook bridges billing engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/recur/event"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin  = (*Extension)(nil)
	_ plugin.OnEvent = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension turns every engine event into one audit record.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnEvent implements plugin.OnEvent.
func (e *Extension) OnEvent(ctx context.Context, ev event.Event) error {
	evt := describe(ev)
	if evt == nil {
		return nil
	}
	h := ev.Meta()
	evt.ID = h.ID.String()
	evt.Action = string(h.Type)
	evt.Outcome = OutcomeSuccess
	evt.Metadata["occurred_at"] = h.OccurredAt

	return e.record(ctx, evt)
}

// describe fills the resource, category, severity and metadata of an event.
// Unknown event types yield nil.
func describe(ev event.Event) *AuditEvent {
	switch ev := ev.(type) {

	// ──────────────────────────────────────────────────
	// Plans
	// ──────────────────────────────────────────────────

	case *event.PlanCreated:
		return planEvent(ev.PlanID, SeverityInfo, map[string]any{
			"merchant":      ev.Merchant.String(),
			"token":         ev.Token.String(),
			"price":         ev.Price.String(),
			"billing_cycle": ev.BillingCycle.String(),
			"price_in_usd":  ev.PriceInUSD,
			"usd_price":     ev.USDPrice.String(),
		})
	case *event.PlanUpdated:
		return planEvent(ev.PlanID, SeverityInfo, map[string]any{
			"price":         ev.Price.String(),
			"billing_cycle": ev.BillingCycle.String(),
			"price_in_usd":  ev.PriceInUSD,
			"usd_price":     ev.USDPrice.String(),
		})
	case *event.PlanDisabled:
		return planEvent(ev.PlanID, SeverityWarning, map[string]any{})
	case *event.MerchantUpdated:
		return planEvent(ev.PlanID, SeverityWarning, map[string]any{
			"previous_merchant": ev.PreviousMerchant.String(),
			"merchant":          ev.Merchant.String(),
		})

	// ──────────────────────────────────────────────────
	// Subscriptions
	// ──────────────────────────────────────────────────

	case *event.Subscribed:
		return subscriptionEvent(ev.Subscriber, ev.PlanID, CategorySubscription, map[string]any{
			"amount":            ev.Amount.String(),
			"next_payment_date": ev.NextPaymentDate,
		})
	case *event.PaymentProcessed:
		return subscriptionEvent(ev.Subscriber, ev.PlanID, CategoryPayment, map[string]any{
			"amount":            ev.Amount.String(),
			"next_payment_date": ev.NextPaymentDate,
		})
	case *event.SubscriptionCancelled:
		return subscriptionEvent(ev.Subscriber, ev.PlanID, CategorySubscription, map[string]any{})

	// ──────────────────────────────────────────────────
	// Administration
	// ──────────────────────────────────────────────────

	case *event.Initialized:
		return engineEvent(ev.Owner, SeverityInfo, map[string]any{"version": ev.Version})
	case *event.OwnershipTransferred:
		return engineEvent(ev.PreviousOwner, SeverityCritical, map[string]any{
			"new_owner": ev.NewOwner.String(),
		})
	case *event.Paused:
		return engineEvent(ev.Account, SeverityWarning, map[string]any{})
	case *event.Unpaused:
		return engineEvent(ev.Account, SeverityInfo, map[string]any{})
	case *event.TokensRecovered:
		return engineEvent(types.Address{}, SeverityWarning, map[string]any{
			"token":  ev.Token.String(),
			"to":     ev.To.String(),
			"amount": ev.Amount.String(),
		})
	case *event.Upgraded:
		return engineEvent(types.Address{}, SeverityCritical, map[string]any{
			"previous_version": ev.PreviousVersion,
			"version":          ev.Version,
		})
	case *event.AdminChanged:
		return engineEvent(ev.PreviousAdmin, SeverityCritical, map[string]any{
			"new_admin": ev.NewAdmin.String(),
		})
	}
	return nil
}

func planEvent(planID uint64, severity string, meta map[string]any) *AuditEvent {
	return &AuditEvent{
		Resource:   ResourcePlan,
		ResourceID: strconv.FormatUint(planID, 10),
		Category:   CategoryBilling,
		Severity:   severity,
		Metadata:   meta,
	}
}

func subscriptionEvent(subscriber types.Address, planID uint64, category string, meta map[string]any) *AuditEvent {
	meta["plan_id"] = planID
	return &AuditEvent{
		Resource:   ResourceSubscription,
		ResourceID: fmt.Sprintf("%s/%d", subscriber, planID),
		Actor:      subscriber.String(),
		Category:   category,
		Severity:   SeverityInfo,
		Metadata:   meta,
	}
}

func engineEvent(actor types.Address, severity string, meta map[string]any) *AuditEvent {
	evt := &AuditEvent{
		Resource: ResourceEngine,
		Category: CategoryGovernance,
		Severity: severity,
		Metadata: meta,
	}
	if !actor.IsZero() {
		evt.Actor = actor.String()
	}
	return evt
}

// record sends an audit event if its action is enabled. Recorder failures
// are logged, never returned.
func (e *Extension) record(ctx context.Context, evt *AuditEvent) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", err,
		)
	}
	return nil
}
