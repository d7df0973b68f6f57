package evm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config describes the ledger connection.
// Fields can be set programmatically or loaded from YAML configuration
// (under the extension's "chain" key).
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the node.
	RPCURL string `json:"rpc_url" mapstructure:"rpc_url" yaml:"rpc_url"`

	// ChainID is the EIP-155 chain id. Zero queries the node.
	ChainID int64 `json:"chain_id" mapstructure:"chain_id" yaml:"chain_id"`

	// PrivateKey is the hex signing key of the service account, with or
	// without a 0x prefix. Every write is sent from this account.
	PrivateKey string `json:"-" mapstructure:"private_key" yaml:"private_key"`

	// PaymentContract is the address of the bill payment contract.
	PaymentContract string `json:"payment_contract" mapstructure:"payment_contract" yaml:"payment_contract"`

	// TokenContract is the address of the value-token contract.
	TokenContract string `json:"token_contract" mapstructure:"token_contract" yaml:"token_contract"`

	// Confirmations is how many blocks, including the inclusion block, a
	// write waits for (default: 1).
	Confirmations uint64 `json:"confirmations" mapstructure:"confirmations" yaml:"confirmations"`

	// ConfirmTimeout bounds the wait for a submitted transaction (default: 2m).
	ConfirmTimeout time.Duration `json:"confirm_timeout" mapstructure:"confirm_timeout" yaml:"confirm_timeout"`

	// PollInterval is how often the head is polled for confirmations (default: 1s).
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval" yaml:"poll_interval"`

	// PaymentABI and TokenABI override the built-in ABIs. Either a raw JSON
	// array or a compiler artifact with an "abi" field is accepted.
	PaymentABI string `json:"payment_abi,omitempty" mapstructure:"payment_abi" yaml:"payment_abi"`
	TokenABI   string `json:"token_abi,omitempty" mapstructure:"token_abi" yaml:"token_abi"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Confirmations:  1,
		ConfirmTimeout: 2 * time.Minute,
		PollInterval:   time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Confirmations == 0 {
		c.Confirmations = d.Confirmations
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Validate reports the first missing or malformed field.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, errors.New("rpc_url is required"))
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		errs = append(errs, errors.New("private_key is required"))
	}
	if !common.IsHexAddress(c.PaymentContract) {
		errs = append(errs, fmt.Errorf("payment_contract %q is not an address", c.PaymentContract))
	}
	if !common.IsHexAddress(c.TokenContract) {
		errs = append(errs, fmt.Errorf("token_contract %q is not an address", c.TokenContract))
	}
	if c.ChainID < 0 {
		errs = append(errs, errors.New("chain_id must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("evm: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
