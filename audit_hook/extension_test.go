package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/recur/audit_hook"
	"github.com/xraph/recur/event"
	"github.com/xraph/recur/types"
)

var (
	alice = types.MustParseAddress("0x00000000000000000000000000000000000000a1")
	owner = types.MustParseAddress("0x0000000000000000000000000000000000000001")
	now   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func collect() (*[]*audithook.AuditEvent, audithook.RecorderFunc) {
	var got []*audithook.AuditEvent
	return &got, func(_ context.Context, e *audithook.AuditEvent) error {
		got = append(got, e)
		return nil
	}
}

func TestOnEventRecordsPayment(t *testing.T) {
	got, rec := collect()
	ext := audithook.New(rec)

	ev := &event.PaymentProcessed{
		Header:          event.NewHeader(event.TypePaymentProcessed, now),
		Subscriber:      alice,
		PlanID:          7,
		Amount:          types.NewAmount(10),
		NextPaymentDate: now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, ext.OnEvent(context.Background(), ev))

	require.Len(t, *got, 1)
	a := (*got)[0]
	assert.Equal(t, ev.ID.String(), a.ID)
	assert.Equal(t, audithook.ActionPaymentProcessed, a.Action)
	assert.Equal(t, audithook.ResourceSubscription, a.Resource)
	assert.Equal(t, audithook.CategoryPayment, a.Category)
	assert.Equal(t, alice.String()+"/7", a.ResourceID)
	assert.Equal(t, alice.String(), a.Actor)
	assert.Equal(t, "10", a.Metadata["amount"])
	assert.Equal(t, uint64(7), a.Metadata["plan_id"])
}

func TestOnEventAdministrative(t *testing.T) {
	got, rec := collect()
	ext := audithook.New(rec)

	ev := &event.OwnershipTransferred{
		Header:        event.NewHeader(event.TypeOwnershipTransferred, now),
		PreviousOwner: owner,
		NewOwner:      alice,
	}
	require.NoError(t, ext.OnEvent(context.Background(), ev))

	require.Len(t, *got, 1)
	a := (*got)[0]
	assert.Equal(t, audithook.ResourceEngine, a.Resource)
	assert.Equal(t, audithook.CategoryGovernance, a.Category)
	assert.Equal(t, audithook.SeverityCritical, a.Severity)
	assert.Equal(t, owner.String(), a.Actor)
	assert.Equal(t, alice.String(), a.Metadata["new_owner"])
}

func TestActionFilters(t *testing.T) {
	plan := &event.PlanDisabled{Header: event.NewHeader(event.TypePlanDisabled, now), PlanID: 1}
	pause := &event.Paused{Header: event.NewHeader(event.TypePaused, now), Account: owner}

	t.Run("enabled", func(t *testing.T) {
		got, rec := collect()
		ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionPaused))
		require.NoError(t, ext.OnEvent(context.Background(), plan))
		require.NoError(t, ext.OnEvent(context.Background(), pause))
		require.Len(t, *got, 1)
		assert.Equal(t, audithook.ActionPaused, (*got)[0].Action)
	})

	t.Run("disabled", func(t *testing.T) {
		got, rec := collect()
		ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionPaused))
		require.NoError(t, ext.OnEvent(context.Background(), plan))
		require.NoError(t, ext.OnEvent(context.Background(), pause))
		require.Len(t, *got, 1)
		assert.Equal(t, audithook.ActionPlanDisabled, (*got)[0].Action)
		assert.Equal(t, "1", (*got)[0].ResourceID)
	})
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	ev := &event.Unpaused{Header: event.NewHeader(event.TypeUnpaused, now), Account: owner}
	assert.NoError(t, ext.OnEvent(context.Background(), ev))
}
