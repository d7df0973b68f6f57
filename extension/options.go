package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/chain"
	"github.com/xraph/sponsor/observability"
	"github.com/xraph/sponsor/plugin"
	"github.com/xraph/sponsor/store"
)

// Option configures the sponsor Forge extension.
type Option func(*Extension)

// WithStore sets the store for the sponsor engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store around db. Config.GroveDriver selects the
// backend (postgres/sqlite/mongo). WithStore takes precedence.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithGateway sets the ledger gateway. It takes precedence over Config.Chain.
func WithGateway(gw chain.Gateway) Option {
	return func(e *Extension) {
		e.gateway = gw
	}
}

// WithSimulatedLedger runs the engine against an in-process ledger when no
// chain endpoint is configured. For development and tests only.
func WithSimulatedLedger() Option {
	return func(e *Extension) { e.config.SimulatedLedger = true }
}

// WithEngineOption passes a sponsor.Option through to the underlying engine.
func WithEngineOption(opt sponsor.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a sponsor plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, sponsor.WithPlugin(p))
	}
}

// WithMetrics registers the observability plugin backed by factory.
func WithMetrics(factory observability.MetricFactory) Option {
	return WithPlugin(observability.NewMetricsExtension(factory))
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableRefresh turns off the background status sweep.
func WithDisableRefresh() Option {
	return func(e *Extension) { e.config.DisableRefresh = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRefreshInterval sets how often pending bills are re-read from the ledger.
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.RefreshInterval = d }
}

// WithSyncConcurrency bounds concurrent ledger reads during reconciliation.
func WithSyncConcurrency(n int) Option {
	return func(e *Extension) { e.config.SyncConcurrency = n }
}

// WithGroveDriver selects the grove-backed store implementation.
func WithGroveDriver(driver string) Option {
	return func(e *Extension) { e.config.GroveDriver = driver }
}
