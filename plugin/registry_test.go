package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/recur/event"
	"github.com/xraph/recur/plugin"
)

type recorder struct {
	name string

	mu         sync.Mutex
	subscribed []*event.Subscribed
	all        []event.Type
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnSubscribed(_ context.Context, e *event.Subscribed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, e)
	return nil
}

func (r *recorder) OnEvent(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, e.Meta().Type)
	return nil
}

type failing struct{}

func (failing) Name() string { return "failing" }
func (failing) OnEvent(context.Context, event.Event) error {
	return errors.New("boom")
}

type panicking struct{}

func (panicking) Name() string { return "panicking" }
func (panicking) OnEvent(context.Context, event.Event) error {
	panic("kaboom")
}

type slow struct{}

func (slow) Name() string { return "slow" }
func (slow) OnEvent(context.Context, event.Event) error {
	time.Sleep(time.Second)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestEmitDispatchesTypedAndCatchAll(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))

	now := time.Now()
	r.Emit(context.Background(), &event.Subscribed{Header: event.NewHeader(event.TypeSubscribed, now), PlanID: 1})
	r.Emit(context.Background(), &event.Paused{Header: event.NewHeader(event.TypePaused, now)})

	require.Len(t, rec.subscribed, 1)
	assert.Equal(t, uint64(1), rec.subscribed[0].PlanID)
	assert.Equal(t, []event.Type{event.TypeSubscribed, event.TypePaused}, rec.all)
}

func TestEmitSurvivesBadPlugins(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(failing{}))
	require.NoError(t, r.Register(panicking{}))
	require.NoError(t, r.Register(slow{}))
	require.NoError(t, r.Register(rec))

	start := time.Now()
	r.Emit(context.Background(), &event.Unpaused{Header: event.NewHeader(event.TypeUnpaused, start)})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []event.Type{event.TypeUnpaused}, rec.all)
}
