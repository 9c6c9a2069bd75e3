package extension

import (
	"time"

	"github.com/xraph/recur"
	"github.com/xraph/recur/keeper"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/token"
)

// Option configures the recur Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithTokens sets the provider resolving plan tokens to ledgers.
func WithTokens(p token.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, recur.WithTokens(p))
	}
}

// WithFeeds sets the provider resolving price feed addresses.
func WithFeeds(p oracle.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, recur.WithFeeds(p))
	}
}

// WithEngineOption passes a recur.Option through to the underlying engine.
func WithEngineOption(opt recur.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithKeeperOption passes a keeper.Option through to the payment keeper.
func WithKeeperOption(opt keeper.Option) Option {
	return func(e *Extension) {
		e.keeperOpts = append(e.keeperOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, recur.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableKeeper turns scheduled payment sweeps off.
func WithDisableKeeper() Option {
	return func(e *Extension) { e.config.DisableKeeper = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithEngineAddress sets the engine's own account address.
func WithEngineAddress(addr string) Option {
	return func(e *Extension) { e.config.EngineAddress = addr }
}

// WithAdmin sets the upgrade shell administrator for first deployment.
func WithAdmin(addr string) Option {
	return func(e *Extension) { e.config.Admin = addr }
}

// WithMaxPriceAge sets how old a price feed reading may be.
func WithMaxPriceAge(d time.Duration) Option {
	return func(e *Extension) { e.config.MaxPriceAge = d }
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithKeeperSchedule sets the cron expression driving payment sweeps.
func WithKeeperSchedule(spec string) Option {
	return func(e *Extension) { e.config.KeeperSchedule = spec }
}

// WithKeeperBatchSize sets how many due subscriptions a sweep reads per round.
func WithKeeperBatchSize(n int) Option {
	return func(e *Extension) { e.config.KeeperBatchSize = n }
}
