package recur_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/event"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store/memory"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/token/memtoken"
	"github.com/xraph/recur/types"
)

const day = 24 * time.Hour

var (
	engineAddr = types.MustParseAddress("0x00000000000000000000000000000000000000ee")
	owner      = types.MustParseAddress("0x0000000000000000000000000000000000000001")
	merchant   = types.MustParseAddress("0x0000000000000000000000000000000000000002")
	merchant2  = types.MustParseAddress("0x0000000000000000000000000000000000000003")
	alice      = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	bob        = types.MustParseAddress("0x00000000000000000000000000000000000000b0")
	tokenAddr  = types.MustParseAddress("0x0000000000000000000000000000000000000070")
	feedAddr   = types.MustParseAddress("0x00000000000000000000000000000000000000fe")

	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recorder collects every emitted event.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnEvent(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Meta().Type)
	}
	return out
}

type harness struct {
	ctx    context.Context
	engine *recur.Engine
	store  *memory.Store
	token  *memtoken.Token
	tokens *token.Registry
	feed   *oracle.StaticFeed
	clock  *clock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ctx:    context.Background(),
		store:  memory.New(),
		clock:  &clock{now: t0},
		events: &recorder{},
		tokens: token.NewRegistry(),
	}
	h.token = memtoken.New(tokenAddr, "Test Token", memtoken.WithClock(h.clock.Now))
	h.tokens.Register(tokenAddr, h.token)

	h.feed = oracle.NewStaticFeed(8, 2000_00000000, t0)
	feeds := oracle.NewRegistry()
	feeds.Register(feedAddr, h.feed)

	h.engine = recur.New(h.store,
		recur.WithAddress(engineAddr),
		recur.WithTokens(h.tokens),
		recur.WithFeeds(feeds),
		recur.WithClock(h.clock.Now),
		recur.WithPlugin(h.events),
	)
	require.NoError(t, h.engine.Start(h.ctx))
	require.NoError(t, h.engine.Initialize(h.ctx, owner))
	return h
}

// fund mints to account and approves the engine for a large allowance.
func (h *harness) fund(t *testing.T, account types.Address, whole uint64) {
	t.Helper()
	require.NoError(t, h.token.Mint(account, types.Units(whole, 18)))
	h.token.Approve(account, engineAddr, types.Units(1_000_000, 18))
}

func (h *harness) balance(t *testing.T, account types.Address) string {
	t.Helper()
	bal, err := h.token.BalanceOf(h.ctx, account)
	require.NoError(t, err)
	return bal.String()
}

func fixedSpec() plan.Spec {
	return plan.Spec{
		Merchant:      merchant,
		Token:         tokenAddr,
		TokenDecimals: 18,
		Price:         types.Units(10, 18),
		BillingCycle:  30 * day,
	}
}

func usdSpec() plan.Spec {
	return plan.Spec{
		Merchant:      merchant,
		Token:         tokenAddr,
		TokenDecimals: 18,
		BillingCycle:  30 * day,
		PriceInUSD:    true,
		USDPrice:      types.NewAmount(1000),
		PriceFeed:     feedAddr,
	}
}

// ──────────────────────────────────────────────────
// Initialization & ownership
// ──────────────────────────────────────────────────

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)

	err := h.engine.Initialize(h.ctx, bob)
	require.ErrorIs(t, err, recur.ErrAlreadyInitialized)

	got, err := h.engine.Owner(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	st, err := h.store.GetState(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, recur.Version, st.LogicVersion)
	assert.NotEmpty(t, st.Layout)
}

func TestInitializeRejectsZeroOwner(t *testing.T) {
	e := recur.New(memory.New())
	err := e.Initialize(context.Background(), types.ZeroAddress)
	assert.True(t, recur.IsValidation(err))
}

func TestOwnerOnlyOperations(t *testing.T) {
	h := newHarness(t)
	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	calls := map[string]func() error{
		"createPlan": func() error {
			_, err := h.engine.CreatePlan(h.ctx, alice, fixedSpec())
			return err
		},
		"updatePlan": func() error {
			return h.engine.UpdatePlan(h.ctx, alice, p.ID, plan.Update{BillingCycle: day, Price: types.NewAmount(1)})
		},
		"updateMerchant":    func() error { return h.engine.UpdateMerchant(h.ctx, alice, p.ID, merchant2) },
		"disablePlan":       func() error { return h.engine.DisablePlan(h.ctx, alice, p.ID) },
		"pause":             func() error { return h.engine.Pause(h.ctx, alice) },
		"unpause":           func() error { return h.engine.Unpause(h.ctx, alice) },
		"transferOwnership": func() error { return h.engine.TransferOwnership(h.ctx, alice, alice) },
		"recoverERC20": func() error {
			return h.engine.RecoverERC20(h.ctx, alice, tokenAddr, types.NewAmount(1))
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, call(), recur.ErrUnauthorized)
		})
	}

	count, err := h.engine.PlanCount(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.TransferOwnership(h.ctx, owner, bob))

	_, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.ErrorIs(t, err, recur.ErrUnauthorized)
	_, err = h.engine.CreatePlan(h.ctx, bob, fixedSpec())
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func TestCreatePlanAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)

	p1, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	p2, err := h.engine.CreatePlan(h.ctx, owner, usdSpec())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), p1.ID)
	assert.Equal(t, uint64(2), p2.ID)
	assert.True(t, p1.Active)

	count, err := h.engine.PlanCount(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	plans, err := h.engine.Plans(h.ctx, plan.ListOpts{})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, uint64(1), plans[0].ID)
}

func TestCreatePlanValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*plan.Spec)
		want   error
	}{
		{"zero cycle", func(s *plan.Spec) { s.BillingCycle = 0 }, recur.ErrInvalidBillingCycle},
		{"usd without feed", func(s *plan.Spec) { s.PriceInUSD = true; s.Price = types.Amount{}; s.USDPrice = types.NewAmount(5) }, recur.ErrPriceFeedRequired},
		{"fixed with usd price", func(s *plan.Spec) { s.USDPrice = types.NewAmount(5) }, recur.ErrInvalidPricing},
		{"fixed zero price", func(s *plan.Spec) { s.Price = types.Amount{} }, recur.ErrInvalidPricing},
		{"decimals too large", func(s *plan.Spec) { s.TokenDecimals = 39 }, recur.ErrDecimalsTooLarge},
		{"zero merchant", func(s *plan.Spec) { s.Merchant = types.ZeroAddress }, recur.ErrInvalidMerchant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := fixedSpec()
			tt.mutate(&spec)
			_, err := h.engine.CreatePlan(h.ctx, owner, spec)
			require.ErrorIs(t, err, tt.want)
		})
	}

	count, err := h.engine.PlanCount(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdatePlanAppliesToNextCharge(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	err = h.engine.UpdatePlan(h.ctx, owner, p.ID, plan.Update{
		BillingCycle: 7 * day,
		Price:        types.Units(3, 18),
	})
	require.NoError(t, err)

	// The already scheduled date is kept; the new cycle applies afterwards.
	h.clock.Set(t0.Add(30 * day))
	c, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Units(3, 18), c.Amount)
	assert.Equal(t, t0.Add(37*day), c.NextPaymentDate)
}

func TestUpdatePlanUnknown(t *testing.T) {
	h := newHarness(t)
	err := h.engine.UpdatePlan(h.ctx, owner, 9, plan.Update{BillingCycle: day, Price: types.NewAmount(1)})
	require.ErrorIs(t, err, recur.ErrPlanNotFound)
}

func TestUpdateMerchantRoutesPayments(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	require.ErrorIs(t, h.engine.UpdateMerchant(h.ctx, owner, p.ID, types.ZeroAddress), recur.ErrInvalidMerchant)
	require.NoError(t, h.engine.UpdateMerchant(h.ctx, owner, p.ID, merchant2))

	h.clock.Set(t0.Add(30 * day))
	_, err = h.engine.ProcessPayment(h.ctx, alice, alice, p.ID)
	require.NoError(t, err)

	assert.Equal(t, types.Units(10, 18).String(), h.balance(t, merchant))
	assert.Equal(t, types.Units(10, 18).String(), h.balance(t, merchant2))
}

func TestDisabledPlanKeepsBillingExisting(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)
	h.fund(t, bob, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.DisablePlan(h.ctx, owner, p.ID))

	_, err = h.engine.Subscribe(h.ctx, bob, p.ID)
	require.ErrorIs(t, err, recur.ErrPlanInactive)

	h.clock.Set(t0.Add(30 * day))
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Subscribe & charge
// ──────────────────────────────────────────────────

func TestFixedPriceLifecycle(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	sub, err := h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, t0, sub.StartTime)
	assert.Equal(t, t0.Add(30*day), sub.NextPaymentDate)
	assert.Equal(t, types.Units(90, 18).String(), h.balance(t, alice))
	assert.Equal(t, types.Units(10, 18).String(), h.balance(t, merchant))

	h.clock.Set(t0.Add(29 * day))
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrPaymentNotDue)

	h.clock.Set(t0.Add(30 * day))
	c, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.KindRenewal, c.Kind)
	assert.Equal(t, t0.Add(30*day), c.PeriodStart)
	assert.Equal(t, t0.Add(60*day), c.NextPaymentDate)

	// A second call in the same period is rejected.
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrPaymentNotDue)

	assert.Equal(t, types.Units(80, 18).String(), h.balance(t, alice))
	assert.Equal(t, types.Units(20, 18).String(), h.balance(t, merchant))

	charges, err := h.engine.Charges(h.ctx, charge.ListOpts{Subscriber: alice})
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, charge.KindInitial, charges[0].Kind)

	assert.Equal(t, []event.Type{
		event.TypeInitialized,
		event.TypeOwnershipTransferred,
		event.TypePlanCreated,
		event.TypeSubscribed,
		event.TypePaymentProcessed,
	}, h.events.types())
}

func TestLatePaymentsAdvanceOneCycleAtATime(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	h.clock.Set(t0.Add(95 * day))
	for _, want := range []time.Duration{60 * day, 90 * day, 120 * day} {
		c, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(want), c.NextPaymentDate)
	}
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrPaymentNotDue)
}

func TestUSDPricedPlanFollowsOracle(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 1)

	p, err := h.engine.CreatePlan(h.ctx, owner, usdSpec())
	require.NoError(t, err)

	quote, err := h.engine.QuoteAmount(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", quote.String())

	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", h.balance(t, merchant))

	h.clock.Set(t0.Add(30 * day))
	h.feed.Set(big.NewInt(4000_00000000), t0.Add(30*day))
	c, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000", c.Amount.String())
	assert.Equal(t, "7500000000000000", h.balance(t, merchant))
}

func TestStalePriceBlocksCharge(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 1)

	p, err := h.engine.CreatePlan(h.ctx, owner, usdSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	h.clock.Set(t0.Add(30 * day))
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrStalePrice)
	assert.True(t, recur.IsRetryable(err))

	sub, err := h.engine.Subscription(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*day), sub.NextPaymentDate)
}

func TestSubscribeRejections(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	_, err := h.engine.Subscribe(h.ctx, alice, 42)
	require.ErrorIs(t, err, recur.ErrPlanNotFound)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrAlreadyActive)
	assert.Equal(t, types.Units(90, 18).String(), h.balance(t, alice))
}

func TestFailedTransferLeavesNoState(t *testing.T) {
	h := newHarness(t)
	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	// No allowance.
	require.NoError(t, h.token.Mint(alice, types.Units(100, 18)))
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrInsufficientAllowance)

	_, err = h.engine.Subscription(h.ctx, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrSubscriptionNotFound)

	// Allowance but no balance.
	h.token.Approve(bob, engineAddr, types.Units(100, 18))
	_, err = h.engine.Subscribe(h.ctx, bob, p.ID)
	require.ErrorIs(t, err, recur.ErrInsufficientBalance)
	assert.True(t, recur.IsLedgerError(err))
}

func TestCancelAndResubscribe(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	require.ErrorIs(t, h.engine.CancelSubscription(h.ctx, alice, p.ID), recur.ErrSubscriptionNotActive)

	first, err := h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	h.clock.Set(t0.Add(10 * day))
	require.NoError(t, h.engine.CancelSubscription(h.ctx, alice, p.ID))
	require.ErrorIs(t, h.engine.CancelSubscription(h.ctx, alice, p.ID), recur.ErrSubscriptionNotActive)

	sub, err := h.engine.Subscription(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, sub.State())
	require.NotNil(t, sub.CancelledAt)

	h.clock.Set(t0.Add(40 * day))
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrSubscriptionNotActive)

	again, err := h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, t0.Add(40*day), again.StartTime)
	assert.Equal(t, t0.Add(70*day), again.NextPaymentDate)
	assert.Nil(t, again.CancelledAt)
}

func TestProcessPaymentWithoutSubscription(t *testing.T) {
	h := newHarness(t)
	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrSubscriptionNotActive)

	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, 99)
	require.ErrorIs(t, err, recur.ErrPlanNotFound)
}

// ──────────────────────────────────────────────────
// Permit
// ──────────────────────────────────────────────────

func TestSubscribeWithPermit(t *testing.T) {
	h := newHarness(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := memtoken.AddressOf(pub)
	require.NoError(t, h.token.Mint(signer, types.Units(100, 18)))

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	deadline := t0.Add(time.Hour)
	permit := token.Permit{
		Owner:    signer,
		Spender:  engineAddr,
		Value:    types.Units(10, 18),
		Deadline: deadline,
	}
	sig := memtoken.SignPermit(priv, tokenAddr, "Test Token", permit, 0)

	t.Run("wrong amount", func(t *testing.T) {
		bad := permit
		bad.Value = types.Units(1, 18)
		badSig := memtoken.SignPermit(priv, tokenAddr, "Test Token", bad, 0)
		_, err := h.engine.SubscribeWithPermit(h.ctx, signer, p.ID, deadline, badSig)
		require.ErrorIs(t, err, recur.ErrInvalidPermitSignature)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := h.engine.SubscribeWithPermit(h.ctx, signer, p.ID, t0.Add(-time.Second), sig)
		require.ErrorIs(t, err, recur.ErrExpiredPermit)
	})

	sub, err := h.engine.SubscribeWithPermit(h.ctx, signer, p.ID, deadline, sig)
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, types.Units(90, 18).String(), h.balance(t, signer))
	assert.True(t, h.token.Allowance(signer, engineAddr).IsZero())
}

// The ledger is not rolled back with the engine call: a permit accepted
// before a failing transfer stays spent.
func TestSubscribeWithPermitFailedTransferKeepsPermit(t *testing.T) {
	h := newHarness(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := memtoken.AddressOf(pub)
	require.NoError(t, h.token.Mint(signer, types.Units(5, 18)))

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	deadline := t0.Add(time.Hour)
	sig := memtoken.SignPermit(priv, tokenAddr, "Test Token", token.Permit{
		Owner:    signer,
		Spender:  engineAddr,
		Value:    types.Units(10, 18),
		Deadline: deadline,
	}, 0)

	_, err = h.engine.SubscribeWithPermit(h.ctx, signer, p.ID, deadline, sig)
	require.ErrorIs(t, err, recur.ErrInsufficientBalance)

	_, err = h.engine.Subscription(h.ctx, signer, p.ID)
	require.ErrorIs(t, err, recur.ErrSubscriptionNotFound)
	assert.Equal(t, types.Units(5, 18).String(), h.balance(t, signer))

	assert.Equal(t, uint64(1), h.token.Nonce(signer))
	assert.Equal(t, types.Units(10, 18).String(), h.token.Allowance(signer, engineAddr).String())

	// Replaying the same signature fails: the nonce moved on.
	require.NoError(t, h.token.Mint(signer, types.Units(5, 18)))
	_, err = h.engine.SubscribeWithPermit(h.ctx, signer, p.ID, deadline, sig)
	require.ErrorIs(t, err, recur.ErrInvalidPermitSignature)
}

type plainLedger struct{ token.Ledger }

func TestSubscribeWithPermitUnsupported(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)
	h.tokens.Register(tokenAddr, plainLedger{h.token})

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	_, err = h.engine.SubscribeWithPermit(h.ctx, alice, p.ID, t0.Add(time.Hour), make([]byte, 96))
	require.ErrorIs(t, err, recur.ErrPermitNotSupported)
}

// ──────────────────────────────────────────────────
// Guards
// ──────────────────────────────────────────────────

func TestPauseBlocksBilling(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)
	h.fund(t, bob, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	require.NoError(t, h.engine.Pause(h.ctx, owner))
	require.NoError(t, h.engine.Pause(h.ctx, owner))
	paused, err := h.engine.Paused(h.ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = h.engine.Subscribe(h.ctx, bob, p.ID)
	require.ErrorIs(t, err, recur.ErrContractPaused)

	h.clock.Set(t0.Add(30 * day))
	_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
	require.ErrorIs(t, err, recur.ErrContractPaused)

	// Cancelling and administration still work while paused.
	require.NoError(t, h.engine.UpdateMerchant(h.ctx, owner, p.ID, merchant2))
	require.NoError(t, h.engine.CancelSubscription(h.ctx, alice, p.ID))

	require.NoError(t, h.engine.Unpause(h.ctx, owner))
	_, err = h.engine.Subscribe(h.ctx, bob, p.ID)
	require.NoError(t, err)

	var pauses int
	for _, typ := range h.events.types() {
		if typ == event.TypePaused {
			pauses++
		}
	}
	assert.Equal(t, 1, pauses)
}

// reentrantLedger calls back into the engine from inside a transfer, the way
// a hostile token contract would.
type reentrantLedger struct {
	token.Ledger
	engine *recur.Engine
	planID uint64
	errs   []error
}

func (l *reentrantLedger) TransferFrom(ctx context.Context, spender, from, to types.Address, amount types.Amount) error {
	l.errs = append(l.errs, l.engine.CancelSubscription(ctx, from, l.planID))
	_, err := l.engine.Subscribe(ctx, from, l.planID)
	l.errs = append(l.errs, err)
	_, err = l.engine.ProcessPayment(ctx, from, from, l.planID)
	l.errs = append(l.errs, err)
	return l.Ledger.TransferFrom(ctx, spender, from, to, amount)
}

func TestReentrantCallsRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)

	hostile := &reentrantLedger{Ledger: h.token, engine: h.engine, planID: p.ID}
	h.tokens.Register(tokenAddr, hostile)

	sub, err := h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.True(t, sub.Active)

	require.Len(t, hostile.errs, 3)
	for _, err := range hostile.errs {
		require.ErrorIs(t, err, recur.ErrReentrantCall)
	}

	// Only the outer charge happened.
	assert.Equal(t, types.Units(90, 18).String(), h.balance(t, alice))
	stored, err := h.engine.Subscription(h.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, t0.Add(30*day), stored.NextPaymentDate)
}

// callbackLedger runs callback before each transfer and fails the transfer
// with whatever the callback returns.
type callbackLedger struct {
	token.Ledger
	callback func(ctx context.Context, from types.Address) error
}

func (l *callbackLedger) TransferFrom(ctx context.Context, spender, from, to types.Address, amount types.Amount) error {
	if err := l.callback(ctx, from); err != nil {
		return err
	}
	return l.Ledger.TransferFrom(ctx, spender, from, to, amount)
}

// withDeadline fails the test instead of hanging when fn never returns.
func withDeadline(t *testing.T, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine call did not return")
		return nil
	}
}

func TestReentrantCallFailsOuterCall(t *testing.T) {
	contexts := map[string]func(ctx context.Context) context.Context{
		"caller context": func(ctx context.Context) context.Context { return ctx },
		"fresh context":  func(context.Context) context.Context { return context.Background() },
	}

	for name, callbackCtx := range contexts {
		t.Run("subscribe/"+name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(t, alice, 100)
			p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
			require.NoError(t, err)

			h.tokens.Register(tokenAddr, &callbackLedger{
				Ledger: h.token,
				callback: func(ctx context.Context, from types.Address) error {
					return h.engine.CancelSubscription(callbackCtx(ctx), from, p.ID)
				},
			})

			err = withDeadline(t, func() error {
				_, err := h.engine.Subscribe(h.ctx, alice, p.ID)
				return err
			})
			require.ErrorIs(t, err, recur.ErrReentrantCall)

			assert.Equal(t, types.Units(100, 18).String(), h.balance(t, alice))
			_, err = h.engine.Subscription(h.ctx, alice, p.ID)
			require.ErrorIs(t, err, recur.ErrSubscriptionNotFound)
		})

		t.Run("process payment/"+name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(t, alice, 100)
			p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
			require.NoError(t, err)
			_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
			require.NoError(t, err)

			h.tokens.Register(tokenAddr, &callbackLedger{
				Ledger: h.token,
				callback: func(ctx context.Context, from types.Address) error {
					_, err := h.engine.ProcessPayment(callbackCtx(ctx), from, from, p.ID)
					return err
				},
			})
			h.clock.Set(t0.Add(30 * day))

			err = withDeadline(t, func() error {
				_, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
				return err
			})
			require.ErrorIs(t, err, recur.ErrReentrantCall)

			assert.Equal(t, types.Units(90, 18).String(), h.balance(t, alice))
			stored, err := h.engine.Subscription(h.ctx, alice, p.ID)
			require.NoError(t, err)
			assert.True(t, stored.Active)
			assert.Equal(t, t0.Add(30*day), stored.NextPaymentDate)

			// The guard was released: a well-behaved ledger charges normally.
			h.tokens.Register(tokenAddr, h.token)
			_, err = h.engine.ProcessPayment(h.ctx, bob, alice, p.ID)
			require.NoError(t, err)
			assert.Equal(t, types.Units(80, 18).String(), h.balance(t, alice))
		})
	}
}

func TestRecoverERC20(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.token.Mint(engineAddr, types.NewAmount(500)))

	err := h.engine.RecoverERC20(h.ctx, owner, tokenAddr, types.NewAmount(600))
	require.ErrorIs(t, err, recur.ErrInsufficientBalance)

	require.NoError(t, h.engine.RecoverERC20(h.ctx, owner, tokenAddr, types.NewAmount(200)))
	assert.Equal(t, "300", h.balance(t, engineAddr))
	assert.Equal(t, "200", h.balance(t, owner))
}

func TestConcurrentChargesCollectOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, alice, 100)

	p, err := h.engine.CreatePlan(h.ctx, owner, fixedSpec())
	require.NoError(t, err)
	_, err = h.engine.Subscribe(h.ctx, alice, p.ID)
	require.NoError(t, err)

	h.clock.Set(t0.Add(30 * day))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.ProcessPayment(h.ctx, bob, alice, p.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, types.Units(80, 18).String(), h.balance(t, alice))
}
