package extension

import (
	"time"

	"github.com/xraph/recur/keeper"
	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/plugin"
)

// Config holds the recur extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.recur" or "recur" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// EngineAddress is the engine's own account: the spender subscribers
	// approve and the holder recoverERC20 drains. 0x-prefixed hex.
	EngineAddress string `json:"engine_address" mapstructure:"engine_address" yaml:"engine_address"`

	// Admin is the upgrade shell administrator used on first deployment.
	// An admin already recorded in the store wins.
	Admin string `json:"admin" mapstructure:"admin" yaml:"admin"`

	// MaxPriceAge is how old a price feed reading may be (default: 1h).
	MaxPriceAge time.Duration `json:"max_price_age" mapstructure:"max_price_age" yaml:"max_price_age"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// KeeperSchedule is the cron expression driving payment sweeps
	// (default: every five minutes).
	KeeperSchedule string `json:"keeper_schedule" mapstructure:"keeper_schedule" yaml:"keeper_schedule"`

	// KeeperBatchSize is how many due subscriptions a sweep reads per round
	// (default: 100).
	KeeperBatchSize int `json:"keeper_batch_size" mapstructure:"keeper_batch_size" yaml:"keeper_batch_size"`

	// DisableKeeper turns scheduled sweeps off. Payments then rely on
	// external ProcessPayment calls.
	DisableKeeper bool `json:"disable_keeper" mapstructure:"disable_keeper" yaml:"disable_keeper"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPriceAge:     pricing.DefaultMaxPriceAge,
		PluginTimeout:   plugin.DefaultTimeout,
		KeeperSchedule:  keeper.DefaultSchedule,
		KeeperBatchSize: keeper.DefaultBatchSize,
	}
}
