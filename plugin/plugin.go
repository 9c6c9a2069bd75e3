// Package plugin provides the extension points of the billing engine.
// Plugins observe committed state changes; they can never veto or fail an
// engine operation.
package plugin

import (
	"context"

	"github.com/xraph/recur/event"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan hooks
// ──────────────────────────────────────────────────

type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, e *event.PlanCreated) error
}

type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, e *event.PlanUpdated) error
}

type OnPlanDisabled interface {
	Plugin
	OnPlanDisabled(ctx context.Context, e *event.PlanDisabled) error
}

type OnMerchantUpdated interface {
	Plugin
	OnMerchantUpdated(ctx context.Context, e *event.MerchantUpdated) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

type OnSubscribed interface {
	Plugin
	OnSubscribed(ctx context.Context, e *event.Subscribed) error
}

type OnPaymentProcessed interface {
	Plugin
	OnPaymentProcessed(ctx context.Context, e *event.PaymentProcessed) error
}

type OnSubscriptionCancelled interface {
	Plugin
	OnSubscriptionCancelled(ctx context.Context, e *event.SubscriptionCancelled) error
}

// ──────────────────────────────────────────────────
// Event sinks
// ──────────────────────────────────────────────────

// OnEvent receives every emitted event, including administrative ones that
// have no dedicated hook. Publishers and audit trails implement it.
type OnEvent interface {
	Plugin
	OnEvent(ctx context.Context, e event.Event) error
}
