package extension

import (
	"time"

	"github.com/xraph/sponsor"
	"github.com/xraph/sponsor/chain/evm"
)

// Grove driver names accepted by Config.GroveDriver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the sponsor extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.sponsor" or "sponsor" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableRefresh turns off the background pending-status sweep.
	DisableRefresh bool `json:"disable_refresh" mapstructure:"disable_refresh" yaml:"disable_refresh"`

	// RefreshInterval is how often pushed PENDING bills are re-read from the
	// ledger (default: 1m).
	RefreshInterval time.Duration `json:"refresh_interval" mapstructure:"refresh_interval" yaml:"refresh_interval"`

	// SyncConcurrency bounds concurrent ledger reads in wallet syncs and
	// sweeps (default: 8).
	SyncConcurrency int `json:"sync_concurrency" mapstructure:"sync_concurrency" yaml:"sync_concurrency"`

	// ImportRetries bounds import retries after losing an insert race (default: 3).
	ImportRetries int `json:"import_retries" mapstructure:"import_retries" yaml:"import_retries"`

	// SweepBatchSize is the page size a sweep reads pending bills in (default: 500).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// GroveDriver selects the store built around the grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo" (default: "postgres").
	GroveDriver string `json:"grove_driver" mapstructure:"grove_driver" yaml:"grove_driver"`

	// Chain is the ledger connection. Register fails when RPCURL is empty,
	// no gateway was given programmatically and SimulatedLedger is off.
	Chain evm.Config `json:"chain" mapstructure:"chain" yaml:"chain"`

	// SimulatedLedger runs against an in-process ledger when Chain names no
	// endpoint. Bills minted there exist nowhere else; use it for local
	// development and tests only.
	SimulatedLedger bool `json:"simulated_ledger" mapstructure:"simulated_ledger" yaml:"simulated_ledger"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: sponsor.DefaultRefreshInterval,
		SyncConcurrency: sponsor.DefaultSyncConcurrency,
		ImportRetries:   sponsor.DefaultImportRetries,
		SweepBatchSize:  sponsor.DefaultSweepBatchSize,
		GroveDriver:     DriverPostgres,
		Chain:           evm.DefaultConfig(),
	}
}
