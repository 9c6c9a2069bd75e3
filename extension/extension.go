// Package extension provides the Forge extension adapter for recur.
//
// It implements the forge.Extension interface to integrate the billing
// engine into a Forge application with DI registration and lifecycle
// management. When an admin is configured the engine runs behind an
// upgrade shell, and a keeper charges due subscriptions on a schedule.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.recur" or "recur" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/recur"
	"github.com/xraph/recur/keeper"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/store/memory"
	"github.com/xraph/recur/types"
	"github.com/xraph/recur/upgrade"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "recur"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Token-denominated recurring billing engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = recur.Version

// ErrNotStarted is returned when the upgrade shell is requested before Start.
var ErrNotStarted = errors.New("recur: extension not started")

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts recur as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *recur.Engine
	shell      *upgrade.Shell
	keeper     *keeper.Keeper
	store      store.Store
	engineOpts []recur.Option
	keeperOpts []keeper.Option

	engineAddr types.Address
	admin      types.Address
}

// New creates a new recur Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine. This is nil until Register is called.
func (e *Extension) Engine() *recur.Engine { return e.engine }

// Shell returns the upgrade shell. It is nil until Start, and stays nil when
// no admin is configured.
func (e *Extension) Shell() *upgrade.Shell { return e.shell }

// Keeper returns the payment keeper. It is nil until Start, and stays nil
// when the keeper is disabled.
func (e *Extension) Keeper() *keeper.Keeper { return e.keeper }

// Register implements [forge.Extension]. It loads configuration,
// builds the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}
	if err := e.parseAddresses(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = recur.New(e.store, e.buildEngineOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*recur.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*upgrade.Shell, error) {
		if e.shell == nil {
			return nil, ErrNotStarted
		}
		return e.shell, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("recur: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	var biller keeper.Biller = e.engine
	if !e.admin.IsZero() {
		shell, err := upgrade.New(ctx, e.store, e.engine, upgrade.WithAdmin(e.admin))
		if err != nil {
			return fmt.Errorf("recur: upgrade shell: %w", err)
		}
		e.shell = shell
		biller = shell
	}

	if !e.config.DisableKeeper {
		opts := append([]keeper.Option{
			keeper.WithCaller(e.engineAddr),
			keeper.WithSchedule(e.config.KeeperSchedule),
			keeper.WithBatchSize(e.config.KeeperBatchSize),
		}, e.keeperOpts...)

		k := keeper.New(biller, opts...)
		if err := k.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		e.keeper = k
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()

	var errs []error
	if e.keeper != nil {
		errs = append(errs, e.keeper.Stop(ctx))
	}
	if e.engine != nil {
		errs = append(errs, e.engine.Stop(ctx))
	}
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("recur: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs recur.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []recur.Option {
	opts := make([]recur.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		recur.WithAddress(e.engineAddr),
		recur.WithMaxPriceAge(e.config.MaxPriceAge),
		recur.WithPluginTimeout(e.config.PluginTimeout),
	)
	if e.config.DisableMigrate {
		opts = append(opts, recur.WithoutMigrate())
	}

	// Pass-through options go last so they can override config.
	return append(opts, e.engineOpts...)
}

func (e *Extension) parseAddresses() error {
	var err error
	if e.config.EngineAddress != "" {
		if e.engineAddr, err = types.ParseAddress(e.config.EngineAddress); err != nil {
			return fmt.Errorf("recur: engine_address: %w", err)
		}
	}
	if e.config.Admin != "" {
		if e.admin, err = types.ParseAddress(e.config.Admin); err != nil {
			return fmt.Errorf("recur: admin: %w", err)
		}
	}
	return nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("recur: configuration is required but not found in config files; " +
				"ensure 'extensions.recur' or 'recur' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("recur: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("engine_address", e.config.EngineAddress),
		forge.F("admin", e.config.Admin),
		forge.F("max_price_age", e.config.MaxPriceAge),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("keeper_schedule", e.config.KeeperSchedule),
		forge.F("keeper_batch_size", e.config.KeeperBatchSize),
		forge.F("disable_keeper", e.config.DisableKeeper),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.recur", "recur"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("recur: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("recur: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxPriceAge == 0 {
		cfg.MaxPriceAge = defaults.MaxPriceAge
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.KeeperSchedule == "" {
		cfg.KeeperSchedule = defaults.KeeperSchedule
	}
	if cfg.KeeperBatchSize == 0 {
		cfg.KeeperBatchSize = defaults.KeeperBatchSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableKeeper {
		yamlConfig.DisableKeeper = true
	}

	if yamlConfig.EngineAddress == "" {
		yamlConfig.EngineAddress = programmaticConfig.EngineAddress
	}
	if yamlConfig.Admin == "" {
		yamlConfig.Admin = programmaticConfig.Admin
	}
	if yamlConfig.KeeperSchedule == "" {
		yamlConfig.KeeperSchedule = programmaticConfig.KeeperSchedule
	}
	if yamlConfig.MaxPriceAge == 0 {
		yamlConfig.MaxPriceAge = programmaticConfig.MaxPriceAge
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}
	if yamlConfig.KeeperBatchSize == 0 {
		yamlConfig.KeeperBatchSize = programmaticConfig.KeeperBatchSize
	}

	return mergeWithDefaults(yamlConfig)
}
