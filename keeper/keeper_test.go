package keeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/recur"
	"github.com/xraph/recur/keeper"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store/memory"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/token/memtoken"
	"github.com/xraph/recur/types"
)

const day = 24 * time.Hour

var (
	owner      = types.MustParseAddress("0x0000000000000000000000000000000000000001")
	merchant   = types.MustParseAddress("0x0000000000000000000000000000000000000002")
	keeperAddr = types.MustParseAddress("0x00000000000000000000000000000000000000cc")
	engineAddr = types.MustParseAddress("0x00000000000000000000000000000000000000ee")
	tokenAddr  = types.MustParseAddress("0x0000000000000000000000000000000000000070")
	feedAddr   = types.MustParseAddress("0x00000000000000000000000000000000000000fe")

	alice = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	bob   = types.MustParseAddress("0x00000000000000000000000000000000000000b0")
	carol = types.MustParseAddress("0x00000000000000000000000000000000000000c0")
	dave  = types.MustParseAddress("0x00000000000000000000000000000000000000d0")

	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type setup struct {
	ctx    context.Context
	engine *recur.Engine
	token  *memtoken.Token
	now    time.Time
}

func (s *setup) clock() time.Time { return s.now }

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{ctx: context.Background(), now: t0}

	s.token = memtoken.New(tokenAddr, "Test Token", memtoken.WithClock(s.clock))
	tokens := token.NewRegistry()
	tokens.Register(tokenAddr, s.token)

	feeds := oracle.NewRegistry()
	feeds.Register(feedAddr, oracle.NewStaticFeed(8, 2000_00000000, t0))

	s.engine = recur.New(memory.New(),
		recur.WithAddress(engineAddr),
		recur.WithTokens(tokens),
		recur.WithFeeds(feeds),
		recur.WithClock(s.clock),
	)
	require.NoError(t, s.engine.Initialize(s.ctx, owner))
	return s
}

func (s *setup) subscribe(t *testing.T, who types.Address, planID uint64) {
	t.Helper()
	require.NoError(t, s.token.Mint(who, types.Units(1000, 18)))
	s.token.Approve(who, engineAddr, types.Units(1000, 18))
	_, err := s.engine.Subscribe(s.ctx, who, planID)
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	s := newSetup(t)

	monthly, err := s.engine.CreatePlan(s.ctx, owner, plan.Spec{
		Merchant: merchant, Token: tokenAddr, TokenDecimals: 18,
		Price: types.Units(10, 18), BillingCycle: 30 * day,
	})
	require.NoError(t, err)
	weekly, err := s.engine.CreatePlan(s.ctx, owner, plan.Spec{
		Merchant: merchant, Token: tokenAddr, TokenDecimals: 18,
		Price: types.Units(1, 18), BillingCycle: 7 * day,
	})
	require.NoError(t, err)
	pegged, err := s.engine.CreatePlan(s.ctx, owner, plan.Spec{
		Merchant: merchant, Token: tokenAddr, TokenDecimals: 18,
		BillingCycle: 30 * day, PriceInUSD: true, USDPrice: types.NewAmount(1000), PriceFeed: feedAddr,
	})
	require.NoError(t, err)

	s.subscribe(t, alice, monthly.ID)
	s.subscribe(t, bob, weekly.ID)
	s.subscribe(t, carol, monthly.ID)
	s.subscribe(t, dave, pegged.ID)

	// Carol revokes the allowance; the feed goes stale by day 30.
	s.token.Approve(carol, engineAddr, types.Amount{})

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	k := keeper.New(s.engine,
		keeper.WithCaller(keeperAddr),
		keeper.WithBatchSize(2),
		keeper.WithClock(s.clock),
		keeper.WithTracer(tp.Tracer("test")),
	)

	s.now = t0.Add(30 * day)
	report, err := k.Sweep(s.ctx)
	require.NoError(t, err)

	// Alice once, Bob four times (days 7, 14, 21, 28).
	assert.Len(t, report.Processed, 5)
	require.Len(t, report.Failed, 2)

	failures := map[types.Address]error{}
	for _, f := range report.Failed {
		failures[f.Subscriber] = f.Err
	}
	assert.ErrorIs(t, failures[carol], recur.ErrInsufficientAllowance)
	assert.ErrorIs(t, failures[dave], recur.ErrStalePrice)
	assert.ErrorIs(t, report.Err(), recur.ErrStalePrice)

	sub, err := s.engine.Subscription(s.ctx, bob, weekly.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(35*day), sub.NextPaymentDate)

	// Nothing is left to do in the same instant except the failures.
	again, err := k.Sweep(s.ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Processed)
	assert.Len(t, again.Failed, 2)

	var sweeps, charges int
	for _, span := range exporter.GetSpans() {
		switch span.Name {
		case "recur.keeper.sweep":
			sweeps++
		case "recur.keeper.charge":
			charges++
		}
	}
	assert.Equal(t, 2, sweeps)
	// Dave's plan is never charged because it cannot be quoted.
	assert.Equal(t, 5+1+1, charges)
}

func TestSweepNothingDue(t *testing.T) {
	s := newSetup(t)
	k := keeper.New(s.engine, keeper.WithClock(s.clock))

	report, err := k.Sweep(s.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Processed)
	assert.NoError(t, report.Err())
}

func TestStartStop(t *testing.T) {
	s := newSetup(t)
	k := keeper.New(s.engine, keeper.WithSchedule("@every 1h"))

	require.NoError(t, k.Start(s.ctx))
	require.ErrorIs(t, k.Start(s.ctx), keeper.ErrAlreadyRunning)
	require.NoError(t, k.Stop(s.ctx))
	require.NoError(t, k.Stop(s.ctx))

	bad := keeper.New(s.engine, keeper.WithSchedule("not a schedule"))
	require.Error(t, bad.Start(s.ctx))
}
