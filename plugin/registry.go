package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/recur/event"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Registry manages registered plugins and dispatches events to them.
// Hook lists are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration
	hooks   hooks
}

// hooks holds the per-interface plugin lists. It is copied by value to take
// a dispatch snapshot.
type hooks struct {
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onPlanCreated           []OnPlanCreated
	onPlanUpdated           []OnPlanUpdated
	onPlanDisabled          []OnPlanDisabled
	onMerchantUpdated       []OnMerchantUpdated
	onSubscribed            []OnSubscribed
	onPaymentProcessed      []OnPaymentProcessed
	onSubscriptionCancelled []OnSubscriptionCancelled
	onEvent                 []OnEvent
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.hooks.onInit = append(r.hooks.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.hooks.onShutdown = append(r.hooks.onShutdown, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.hooks.onPlanCreated = append(r.hooks.onPlanCreated, v)
	}
	if v, ok := p.(OnPlanUpdated); ok {
		r.hooks.onPlanUpdated = append(r.hooks.onPlanUpdated, v)
	}
	if v, ok := p.(OnPlanDisabled); ok {
		r.hooks.onPlanDisabled = append(r.hooks.onPlanDisabled, v)
	}
	if v, ok := p.(OnMerchantUpdated); ok {
		r.hooks.onMerchantUpdated = append(r.hooks.onMerchantUpdated, v)
	}
	if v, ok := p.(OnSubscribed); ok {
		r.hooks.onSubscribed = append(r.hooks.onSubscribed, v)
	}
	if v, ok := p.(OnPaymentProcessed); ok {
		r.hooks.onPaymentProcessed = append(r.hooks.onPaymentProcessed, v)
	}
	if v, ok := p.(OnSubscriptionCancelled); ok {
		r.hooks.onSubscriptionCancelled = append(r.hooks.onSubscriptionCancelled, v)
	}
	if v, ok := p.(OnEvent); ok {
		r.hooks.onEvent = append(r.hooks.onEvent, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnPlanCreated", reflect.TypeFor[OnPlanCreated]()},
	{"OnPlanUpdated", reflect.TypeFor[OnPlanUpdated]()},
	{"OnPlanDisabled", reflect.TypeFor[OnPlanDisabled]()},
	{"OnMerchantUpdated", reflect.TypeFor[OnMerchantUpdated]()},
	{"OnSubscribed", reflect.TypeFor[OnSubscribed]()},
	{"OnPaymentProcessed", reflect.TypeFor[OnPaymentProcessed]()},
	{"OnSubscriptionCancelled", reflect.TypeFor[OnSubscriptionCancelled]()},
	{"OnEvent", reflect.TypeFor[OnEvent]()},
}

func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Emission
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.hooks.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnInit", func() error { return p.OnInit(ctx, engine) })
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.hooks.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnShutdown", func() error { return p.OnShutdown(ctx) })
	}
}

// Emit delivers e to the matching typed hooks, then to every OnEvent sink.
// Hook failures are logged and otherwise ignored.
func (r *Registry) Emit(ctx context.Context, e event.Event) {
	r.mu.RLock()
	snap := r.hooks
	r.mu.RUnlock()

	switch ev := e.(type) {
	case *event.PlanCreated:
		for _, p := range snap.onPlanCreated {
			r.call(ctx, p.Name(), "OnPlanCreated", func() error { return p.OnPlanCreated(ctx, ev) })
		}
	case *event.PlanUpdated:
		for _, p := range snap.onPlanUpdated {
			r.call(ctx, p.Name(), "OnPlanUpdated", func() error { return p.OnPlanUpdated(ctx, ev) })
		}
	case *event.PlanDisabled:
		for _, p := range snap.onPlanDisabled {
			r.call(ctx, p.Name(), "OnPlanDisabled", func() error { return p.OnPlanDisabled(ctx, ev) })
		}
	case *event.MerchantUpdated:
		for _, p := range snap.onMerchantUpdated {
			r.call(ctx, p.Name(), "OnMerchantUpdated", func() error { return p.OnMerchantUpdated(ctx, ev) })
		}
	case *event.Subscribed:
		for _, p := range snap.onSubscribed {
			r.call(ctx, p.Name(), "OnSubscribed", func() error { return p.OnSubscribed(ctx, ev) })
		}
	case *event.PaymentProcessed:
		for _, p := range snap.onPaymentProcessed {
			r.call(ctx, p.Name(), "OnPaymentProcessed", func() error { return p.OnPaymentProcessed(ctx, ev) })
		}
	case *event.SubscriptionCancelled:
		for _, p := range snap.onSubscriptionCancelled {
			r.call(ctx, p.Name(), "OnSubscriptionCancelled", func() error { return p.OnSubscriptionCancelled(ctx, ev) })
		}
	}

	for _, p := range snap.onEvent {
		r.call(ctx, p.Name(), "OnEvent", func() error { return p.OnEvent(ctx, e) })
	}
}

func (r *Registry) call(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin hook failed",
			"plugin", pluginName,
			"hook", hook,
			"error", err,
		)
	}
}

// callWithTimeout runs fn in its own goroutine so a slow plugin cannot stall
// the engine past the registry timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
