// Package extension provides the Forge extension adapter for sponsor.
//
// It implements the forge.Extension interface to integrate the sponsor
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.sponsor" or "sponsor" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/chain/evm"
	"github.com/xraph/sponsor/chain/simulated"
	"github.com/xraph/sponsor/store"
	"github.com/xraph/sponsor/store/memory"
	"github.com/xraph/sponsor/store/mongo"
	"github.com/xraph/sponsor/store/postgres"
	"github.com/xraph/sponsor/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "sponsor"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Sponsor-funded bills reconciled against an on-chain ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// ErrNoLedger is returned by Register when neither a gateway nor a ledger
// endpoint is configured and the simulated ledger was not requested.
var ErrNoLedger = errors.New("sponsor: no ledger configured; set chain.rpc_url, " +
	"pass WithGateway, or enable simulated_ledger for development")

// dialTimeout bounds connecting to the ledger node during Register.
const dialTimeout = 30 * time.Second

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the sponsor engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *sponsor.Engine
	store      store.Store
	groveDB    *grove.DB
	gateway    chain.Gateway
	closeChain func()
	engineOpts []sponsor.Option
}

// New creates a new sponsor Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying sponsor engine.
// This is nil until Register is called.
func (e *Extension) Engine() *sponsor.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration, resolves
// the store and ledger gateway, and registers the engine in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	s, err := e.resolveStore()
	if err != nil {
		return err
	}
	e.store = s

	gw, err := e.resolveGateway()
	if err != nil {
		return err
	}
	e.gateway = gw

	e.engine = sponsor.New(e.store, e.gateway, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*sponsor.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("sponsor: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	defer e.MarkStopped()

	var err error
	if e.engine != nil {
		err = e.engine.Stop()
	}
	if e.closeChain != nil {
		e.closeChain()
	}
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("sponsor: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveStore picks the programmatic store, a grove-backed store, or the
// in-memory default, in that order.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.groveDB == nil {
		e.Logger().Warn("sponsor: no store configured, using in-memory store")
		return memory.New(), nil
	}
	return storeForDriver(e.config.GroveDriver, e.groveDB)
}

func storeForDriver(driver string, db *grove.DB) (store.Store, error) {
	switch driver {
	case DriverPostgres, "":
		return postgres.New(db), nil
	case DriverSQLite:
		return sqlite.New(db), nil
	case DriverMongo:
		return mongo.New(db), nil
	}
	return nil, fmt.Errorf("sponsor: unknown grove driver %q", driver)
}

// resolveGateway picks the programmatic gateway, dials Config.Chain, or
// uses the simulated ledger when Config.SimulatedLedger asks for it.
func (e *Extension) resolveGateway() (chain.Gateway, error) {
	if e.gateway != nil {
		return e.gateway, nil
	}
	if e.config.Chain.RPCURL == "" {
		if !e.config.SimulatedLedger {
			return nil, ErrNoLedger
		}
		e.Logger().Warn("sponsor: using simulated ledger, bills are not settled on any chain")
		return simulated.New(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	gw, err := evm.Dial(ctx, e.config.Chain)
	if err != nil {
		return nil, fmt.Errorf("sponsor: connect ledger: %w", err)
	}
	e.closeChain = gw.Close

	e.Logger().Info("sponsor: ledger connected",
		forge.F("rpc_url", e.config.Chain.RPCURL),
		forge.F("payment_contract", e.config.Chain.PaymentContract),
		forge.F("signer", gw.Signer()),
	)
	return gw, nil
}

// buildEngineOpts constructs sponsor.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []sponsor.Option {
	opts := make([]sponsor.Option, 0, len(e.engineOpts)+5)

	refresh := e.config.RefreshInterval
	if e.config.DisableRefresh {
		refresh = 0
	}
	opts = append(opts,
		sponsor.WithRefreshInterval(refresh),
		sponsor.WithSyncConcurrency(e.config.SyncConcurrency),
		sponsor.WithImportRetries(e.config.ImportRetries),
		sponsor.WithSweepBatchSize(e.config.SweepBatchSize),
		sponsor.WithMigrate(!e.config.DisableMigrate),
	)

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("sponsor: configuration is required but not found in config files; " +
				"ensure 'extensions.sponsor' or 'sponsor' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("sponsor: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_refresh", e.config.DisableRefresh),
		forge.F("refresh_interval", e.config.RefreshInterval),
		forge.F("sync_concurrency", e.config.SyncConcurrency),
		forge.F("grove_driver", e.config.GroveDriver),
		forge.F("rpc_url", e.config.Chain.RPCURL),
		forge.F("simulated_ledger", e.config.SimulatedLedger),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.sponsor", "sponsor"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("sponsor: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("sponsor: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.SyncConcurrency == 0 {
		cfg.SyncConcurrency = defaults.SyncConcurrency
	}
	if cfg.ImportRetries == 0 {
		cfg.ImportRetries = defaults.ImportRetries
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.GroveDriver == "" {
		cfg.GroveDriver = defaults.GroveDriver
	}
	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = defaults.Chain.Confirmations
	}
	if cfg.Chain.ConfirmTimeout == 0 {
		cfg.Chain.ConfirmTimeout = defaults.Chain.ConfirmTimeout
	}
	if cfg.Chain.PollInterval == 0 {
		cfg.Chain.PollInterval = defaults.Chain.PollInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableRefresh {
		yamlConfig.DisableRefresh = true
	}
	if programmaticConfig.SimulatedLedger {
		yamlConfig.SimulatedLedger = true
	}

	if yamlConfig.RefreshInterval == 0 {
		yamlConfig.RefreshInterval = programmaticConfig.RefreshInterval
	}
	if yamlConfig.SyncConcurrency == 0 {
		yamlConfig.SyncConcurrency = programmaticConfig.SyncConcurrency
	}
	if yamlConfig.ImportRetries == 0 {
		yamlConfig.ImportRetries = programmaticConfig.ImportRetries
	}
	if yamlConfig.SweepBatchSize == 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if yamlConfig.GroveDriver == "" {
		yamlConfig.GroveDriver = programmaticConfig.GroveDriver
	}

	// The ledger connection is taken whole from whichever source names an endpoint.
	if yamlConfig.Chain.RPCURL == "" && programmaticConfig.Chain.RPCURL != "" {
		yamlConfig.Chain = programmaticConfig.Chain
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
