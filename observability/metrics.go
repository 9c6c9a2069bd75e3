// Package observability provides a metrics plugin for the billing engine
// that counts committed events through a MetricFactory.
package observability

import (
	"context"
	"math/big"

	"github.com/xraph/recur/event"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated           = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated           = (*MetricsExtension)(nil)
	_ plugin.OnPlanDisabled          = (*MetricsExtension)(nil)
	_ plugin.OnMerchantUpdated       = (*MetricsExtension)(nil)
	_ plugin.OnSubscribed            = (*MetricsExtension)(nil)
	_ plugin.OnPaymentProcessed      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCancelled = (*MetricsExtension)(nil)
	_ plugin.OnEvent                 = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records billing metrics.
// Register it as an engine plugin to track plans, subscriptions and charges.
type MetricsExtension struct {
	// Plan metrics
	PlanCreated     Counter
	PlanUpdated     Counter
	PlanDisabled    Counter
	MerchantUpdated Counter

	// Subscription metrics
	Subscribed            Counter
	PaymentProcessed      Counter
	SubscriptionCancelled Counter

	// PaymentAmount observes every collected amount in base units, the
	// first payment included.
	PaymentAmount Histogram

	// Administrative metrics
	Paused          Counter
	Unpaused        Counter
	TokensRecovered Counter
	Upgraded        Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		PlanCreated:     factory.Counter("recur.plan.created"),
		PlanUpdated:     factory.Counter("recur.plan.updated"),
		PlanDisabled:    factory.Counter("recur.plan.disabled"),
		MerchantUpdated: factory.Counter("recur.plan.merchant_updated"),

		Subscribed:            factory.Counter("recur.subscription.subscribed"),
		PaymentProcessed:      factory.Counter("recur.subscription.payment_processed"),
		SubscriptionCancelled: factory.Counter("recur.subscription.cancelled"),
		PaymentAmount:         factory.Histogram("recur.payment.amount"),

		Paused:          factory.Counter("recur.engine.paused"),
		Unpaused:        factory.Counter("recur.engine.unpaused"),
		TokensRecovered: factory.Counter("recur.engine.tokens_recovered"),
		Upgraded:        factory.Counter("recur.engine.upgraded"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Plan hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnPlanCreated(context.Context, *event.PlanCreated) error {
	m.PlanCreated.Inc()
	return nil
}

func (m *MetricsExtension) OnPlanUpdated(context.Context, *event.PlanUpdated) error {
	m.PlanUpdated.Inc()
	return nil
}

func (m *MetricsExtension) OnPlanDisabled(context.Context, *event.PlanDisabled) error {
	m.PlanDisabled.Inc()
	return nil
}

func (m *MetricsExtension) OnMerchantUpdated(context.Context, *event.MerchantUpdated) error {
	m.MerchantUpdated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnSubscribed(_ context.Context, e *event.Subscribed) error {
	m.Subscribed.Inc()
	m.PaymentAmount.Observe(amountFloat(e.Amount))
	return nil
}

func (m *MetricsExtension) OnPaymentProcessed(_ context.Context, e *event.PaymentProcessed) error {
	m.PaymentProcessed.Inc()
	m.PaymentAmount.Observe(amountFloat(e.Amount))
	return nil
}

func (m *MetricsExtension) OnSubscriptionCancelled(context.Context, *event.SubscriptionCancelled) error {
	m.SubscriptionCancelled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Administrative events
// ──────────────────────────────────────────────────

// OnEvent counts the events that have no typed hook.
func (m *MetricsExtension) OnEvent(_ context.Context, e event.Event) error {
	switch e.(type) {
	case *event.Paused:
		m.Paused.Inc()
	case *event.Unpaused:
		m.Unpaused.Inc()
	case *event.TokensRecovered:
		m.TokensRecovered.Inc()
	case *event.Upgraded:
		m.Upgraded.Inc()
	}
	return nil
}

// amountFloat converts a 256-bit amount for observation. Precision loss
// above 2^53 is acceptable for a histogram.
func amountFloat(a types.Amount) float64 {
	f, _ := new(big.Float).SetInt(a.Int().ToBig()).Float64()
	return f
}
