package upgrade_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/recur"
	"github.com/xraph/recur/guard"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/store/memory"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/token/memtoken"
	"github.com/xraph/recur/types"
	"github.com/xraph/recur/upgrade"
)

const day = 24 * time.Hour

var (
	admin      = types.MustParseAddress("0x00000000000000000000000000000000000000ad")
	owner      = types.MustParseAddress("0x0000000000000000000000000000000000000001")
	merchant   = types.MustParseAddress("0x0000000000000000000000000000000000000002")
	alice      = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	engineAddr = types.MustParseAddress("0x00000000000000000000000000000000000000ee")
	tokenAddr  = types.MustParseAddress("0x0000000000000000000000000000000000000070")

	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// refund is a record type introduced by the second logic version.
type refund struct {
	Subscriber types.Address
	PlanID     uint64
	Amount     types.Amount
}

// engineV2 adds a storage slot and changes the version tag.
type engineV2 struct {
	*recur.Engine
}

func (engineV2) Version() string { return "2.0.0" }

func (engineV2) StorageLayout() store.Layout {
	return append(recur.StorageLayout(), store.SlotOf("refunds", refund{}))
}

// reorderedV2 swaps two slots, which would read plans as subscriptions.
type reorderedV2 struct {
	*recur.Engine
}

func (reorderedV2) Version() string { return "2.0.0-bad" }

func (reorderedV2) StorageLayout() store.Layout {
	l := recur.StorageLayout()
	l[1], l[2] = l[2], l[1]
	return l
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	guard *guard.Guard
	opts  []recur.Option
	token *memtoken.Token
	now   time.Time
	shell *upgrade.Shell
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		guard: guard.New(),
		now:   t0,
	}
	clock := func() time.Time { return f.now }

	f.token = memtoken.New(tokenAddr, "Test Token", memtoken.WithClock(clock))
	tokens := token.NewRegistry()
	tokens.Register(tokenAddr, f.token)

	f.opts = []recur.Option{
		recur.WithAddress(engineAddr),
		recur.WithTokens(tokens),
		recur.WithClock(clock),
		recur.WithGuard(f.guard),
	}

	shell, err := upgrade.New(f.ctx, f.store, recur.New(f.store, f.opts...), upgrade.WithAdmin(admin))
	require.NoError(t, err)
	require.NoError(t, shell.Initialize(f.ctx, owner))
	f.shell = shell
	return f
}

func (f *fixture) v1() *recur.Engine {
	return recur.New(f.store, f.opts...)
}

func TestDeployRecordsAdminAndVersion(t *testing.T) {
	f := newFixture(t)

	got, err := f.shell.Admin(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)
	assert.Equal(t, recur.Version, f.shell.Version())

	st, err := f.store.GetState(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, recur.Version, st.LogicVersion)
	assert.Equal(t, recur.StorageLayout(), st.Layout)
	assert.Equal(t, owner, st.Owner)
}

func TestDeployRequiresAdmin(t *testing.T) {
	s := memory.New()
	_, err := upgrade.New(context.Background(), s, recur.New(s))
	assert.True(t, recur.IsValidation(err))
}

func TestInitializeOnlyOnce(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.shell.Initialize(f.ctx, alice), recur.ErrAlreadyInitialized)

	// Still once after an upgrade.
	require.NoError(t, f.shell.UpgradeTo(f.ctx, admin, engineV2{f.v1()}))
	require.ErrorIs(t, f.shell.Initialize(f.ctx, alice), recur.ErrAlreadyInitialized)
}

func TestUpgradePreservesStateAndCadence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(alice, types.Units(100, 18)))
	f.token.Approve(alice, engineAddr, types.Units(100, 18))

	p, err := f.shell.CreatePlan(f.ctx, owner, plan.Spec{
		Merchant:      merchant,
		Token:         tokenAddr,
		TokenDecimals: 18,
		Price:         types.Units(10, 18),
		BillingCycle:  30 * day,
	})
	require.NoError(t, err)
	before, err := f.shell.Subscribe(f.ctx, alice, p.ID)
	require.NoError(t, err)
	require.NoError(t, f.shell.Pause(f.ctx, owner))

	require.NoError(t, f.shell.UpgradeTo(f.ctx, admin, engineV2{f.v1()}))
	assert.Equal(t, "2.0.0", f.shell.Version())

	// Plans, subscriptions and root flags read back unchanged.
	gotPlan, err := f.shell.Plan(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, gotPlan)

	after, err := f.shell.Subscription(f.ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	paused, err := f.shell.Paused(f.ctx)
	require.NoError(t, err)
	assert.True(t, paused)
	gotOwner, err := f.shell.Owner(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, gotOwner)

	require.NoError(t, f.shell.Unpause(f.ctx, owner))
	f.now = t0.Add(30 * day)
	c, err := f.shell.ProcessPayment(f.ctx, alice, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before.NextPaymentDate.Add(30*day), c.NextPaymentDate)

	st, err := f.store.GetState(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", st.LogicVersion)
	assert.Len(t, st.Layout, len(recur.StorageLayout())+1)
}

func TestUpgradeRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("owner is not admin", func(t *testing.T) {
		err := f.shell.UpgradeTo(f.ctx, owner, engineV2{f.v1()})
		require.ErrorIs(t, err, recur.ErrUnauthorized)
	})

	t.Run("reordered layout", func(t *testing.T) {
		err := f.shell.UpgradeTo(f.ctx, admin, reorderedV2{f.v1()})
		require.ErrorIs(t, err, recur.ErrIncompatibleLayout)
	})

	t.Run("separate guard", func(t *testing.T) {
		err := f.shell.UpgradeTo(f.ctx, admin, engineV2{recur.New(f.store)})
		require.ErrorIs(t, err, upgrade.ErrIncompatibleLogic)
	})

	assert.Equal(t, recur.Version, f.shell.Version())

	// Downgrading below an appended slot drops data and is refused.
	require.NoError(t, f.shell.UpgradeTo(f.ctx, admin, engineV2{f.v1()}))
	err := f.shell.UpgradeTo(f.ctx, admin, f.v1())
	require.ErrorIs(t, err, recur.ErrIncompatibleLayout)
}

func TestChangeAdmin(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.shell.ChangeAdmin(f.ctx, owner, owner), recur.ErrUnauthorized)
	require.NoError(t, f.shell.ChangeAdmin(f.ctx, admin, alice))

	require.ErrorIs(t, f.shell.UpgradeTo(f.ctx, admin, engineV2{f.v1()}), recur.ErrUnauthorized)
	require.NoError(t, f.shell.UpgradeTo(f.ctx, alice, engineV2{f.v1()}))
}

func TestAttachChecksLayout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.shell.UpgradeTo(f.ctx, admin, engineV2{f.v1()}))

	// A restarted process must come back with a compatible logic.
	_, err := upgrade.New(f.ctx, f.store, f.v1())
	require.ErrorIs(t, err, recur.ErrIncompatibleLayout)

	shell, err := upgrade.New(f.ctx, f.store, engineV2{f.v1()}, upgrade.WithAdmin(alice))
	require.NoError(t, err)
	got, err := shell.Admin(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)
}
