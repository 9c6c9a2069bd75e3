package recur

import (
	"log/slog"
	"time"

	"github.com/xraph/recur/guard"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/token"
	"github.com/xraph/recur/types"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithAddress sets the engine's own account address. It is the spender the
// subscribers approve and the holder recoverERC20 drains.
func WithAddress(addr types.Address) Option {
	return func(e *Engine) {
		e.address = addr
	}
}

// WithTokens sets the provider resolving plan tokens to ledgers.
func WithTokens(p token.Provider) Option {
	return func(e *Engine) {
		e.tokens = p
	}
}

// WithFeeds sets the provider resolving price feed addresses.
func WithFeeds(p oracle.Provider) Option {
	return func(e *Engine) {
		e.feeds = p
	}
}

// WithMaxPriceAge overrides how old a feed reading may be.
func WithMaxPriceAge(d time.Duration) Option {
	return func(e *Engine) {
		e.maxPriceAge = d
	}
}

// WithClock sets the time source. Times are truncated to whole seconds.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithGuard shares a reentrancy guard between engines, as logic versions
// behind one upgrade shell must.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}

// WithoutMigrate stops Start from migrating the store. The schema is then
// the host's responsibility.
func WithoutMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}
