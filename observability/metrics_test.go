package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/recur"
	"github.com/xraph/recur/observability"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store/memory"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/token/memtoken"
	"github.com/xraph/recur/types"
)

var (
	engineAddr = types.MustParseAddress("0x00000000000000000000000000000000000000ee")
	owner      = types.MustParseAddress("0x0000000000000000000000000000000000000001")
	merchant   = types.MustParseAddress("0x0000000000000000000000000000000000000002")
	alice      = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	tokenAddr  = types.MustParseAddress("0x0000000000000000000000000000000000000070")
)

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	col, ok := c.(prometheus.Collector)
	require.True(t, ok)
	return testutil.ToFloat64(col)
}

func TestMetricsFollowEngine(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	tok := memtoken.New(tokenAddr, "Test Token")
	tokens := token.NewRegistry()
	tokens.Register(tokenAddr, tok)

	e := recur.New(memory.New(),
		recur.WithAddress(engineAddr),
		recur.WithTokens(tokens),
		recur.WithClock(clock),
		recur.WithPlugin(metrics),
	)
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Initialize(ctx, owner))

	require.NoError(t, tok.Mint(alice, types.Units(100, 18)))
	tok.Approve(alice, engineAddr, types.Units(100, 18))

	p, err := e.CreatePlan(ctx, owner, plan.Spec{
		Merchant:      merchant,
		Token:         tokenAddr,
		TokenDecimals: 18,
		Price:         types.Units(10, 18),
		BillingCycle:  30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	_, err = e.Subscribe(ctx, alice, p.ID)
	require.NoError(t, err)

	now = now.Add(30 * 24 * time.Hour)
	_, err = e.ProcessPayment(ctx, merchant, alice, p.ID)
	require.NoError(t, err)

	require.NoError(t, e.CancelSubscription(ctx, alice, p.ID))
	require.NoError(t, e.Pause(ctx, owner))

	assert.Equal(t, 1.0, value(t, metrics.PlanCreated))
	assert.Equal(t, 1.0, value(t, metrics.Subscribed))
	assert.Equal(t, 1.0, value(t, metrics.PaymentProcessed))
	assert.Equal(t, 1.0, value(t, metrics.SubscriptionCancelled))
	assert.Equal(t, 1.0, value(t, metrics.Paused))
	assert.Equal(t, 0.0, value(t, metrics.Unpaused))

	families, err := reg.Gather()
	require.NoError(t, err)
	var amounts uint64
	for _, mf := range families {
		if mf.GetName() == "recur_payment_amount" {
			amounts = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), amounts)
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg)
	b := observability.NewPrometheusFactory(reg)

	c1 := a.Counter("recur.plan.created")
	c2 := a.Counter("recur.plan.created")
	c3 := b.Counter("recur.plan.created")

	c1.Inc()
	c2.Add(2)
	c3.Inc()
	assert.Equal(t, 4.0, value(t, c1))

	count, err := testutil.GatherAndCount(reg, "recur_plan_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
