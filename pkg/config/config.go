// Package config loads the sidecar configuration from a YAML file.
//
// Secrets can be kept out of the file: BRIDGE_TX_PRIVATE_KEY overrides the transaction
// signing key and BRIDGE_KEYSTORE_PASSWORD the password of the BLS share keystore.
// Load applies defaults and validates the result, so a returned Config is ready to use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/aggregator"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/submitter"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/Layr-Labs/attestation-sidecar/pkg/util"
	"github.com/Layr-Labs/attestation-sidecar/pkg/watcher"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	EnvTxPrivateKey     = "BRIDGE_TX_PRIVATE_KEY"
	EnvKeystorePassword = "BRIDGE_KEYSTORE_PASSWORD"

	DefaultPendingTTL        = 10 * time.Minute
	DefaultMetricsListenAddr = ":9090"
	DefaultAWSRegion         = "us-east-1"
)

var (
	ErrNoChains          = errors.New("no chains configured")
	ErrDuplicateChain    = errors.New("duplicate chain id")
	ErrNoShareSource     = errors.New("no BLS share source configured")
	ErrManyShareSources  = errors.New("only one BLS share source can be configured")
	ErrManyTxSigners     = errors.New("cannot configure both a private key and a KMS key for transaction signing")
	ErrInvalidValidators = errors.New("invalid validator set")
)

type Config struct {
	Debug      bool                        `yaml:"debug"`
	Chains     []*chainManager.ChainConfig `yaml:"chains"`
	Signer     SignerConfig                `yaml:"signer"`
	TxSigner   TxSignerConfig              `yaml:"tx_signer"`
	Submitter  SubmitterConfig             `yaml:"submitter"`
	Aggregator AggregatorConfig            `yaml:"aggregator"`
	Watcher    WatcherConfig               `yaml:"watcher"`
	Metrics    MetricsConfig               `yaml:"metrics"`
}

// SignerConfig describes this validator's key share and the public sharing of the
// current epoch.
type SignerConfig struct {
	// ValidatorIndex is the 1-based index of this validator's share
	ValidatorIndex uint32 `yaml:"validator_index,omitempty"`
	Epoch          uint64 `yaml:"epoch,omitempty"`
	// Validators is the number of shares dealt for the epoch
	Validators uint32 `yaml:"validators,omitempty"`
	// FaultModel is n3f1 (default) or n2f1
	FaultModel string `yaml:"fault_model,omitempty"`
	// Commitments are the hex encoded compressed G2 coefficient commitments, constant term first
	Commitments []string `yaml:"commitments,omitempty"`
	DST         string   `yaml:"dst,omitempty"`

	// Exactly one share source must be set
	ShareFile     string `yaml:"share_file,omitempty"`
	KeystoreFile  string `yaml:"keystore_file,omitempty"`
	AWSSecretName string `yaml:"aws_secret_name,omitempty"`
	AWSRegion     string `yaml:"aws_region,omitempty"`

	KeystorePassword string `yaml:"-"`
}

// TxSignerConfig selects how destination transactions are signed. With neither key set
// the sidecar runs in simulation mode.
type TxSignerConfig struct {
	PrivateKey  string `yaml:"-"`
	AWSKMSKeyID string `yaml:"aws_kms_key_id"`
	AWSRegion   string `yaml:"aws_region"`
}

type SubmitterConfig struct {
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
}

type AggregatorConfig struct {
	VerifyPartials     bool          `yaml:"verify_partials"`
	CompletedCacheSize int           `yaml:"completed_cache_size"`
	PendingTTL         time.Duration `yaml:"pending_ttl"`
}

type WatcherConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// MaxElapsedTime bounds reconnect attempts, 0 retries forever
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`
	HealthyRun     time.Duration `yaml:"healthy_run"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeErrors.Config("config.load", fmt.Errorf("read config file [%s] error: %w", path, err))
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, bridgeErrors.Config("config.parse", fmt.Errorf("unmarshal config error: %w", err))
	}

	// override secrets from env
	if key := os.Getenv(EnvTxPrivateKey); key != "" {
		cfg.TxSigner.PrivateKey = key
	}
	if password := os.Getenv(EnvKeystorePassword); password != "" {
		cfg.Signer.KeystorePassword = password
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	for _, chain := range c.Chains {
		if chain == nil {
			continue
		}
		if chain.PollInterval == 0 {
			chain.PollInterval = chainManager.DefaultPollInterval
		}
	}
	if c.Signer.DST == "" {
		c.Signer.DST = threshold.DefaultDST
	}
	if c.Signer.AWSRegion == "" {
		c.Signer.AWSRegion = DefaultAWSRegion
	}
	if c.TxSigner.AWSRegion == "" {
		c.TxSigner.AWSRegion = DefaultAWSRegion
	}
	if c.Submitter.ReceiptTimeout == 0 {
		c.Submitter.ReceiptTimeout = submitter.DefaultReceiptTimeout
	}
	if c.Submitter.ReceiptPollInterval == 0 {
		c.Submitter.ReceiptPollInterval = submitter.DefaultReceiptPollInterval
	}
	if c.Aggregator.PendingTTL == 0 {
		c.Aggregator.PendingTTL = DefaultPendingTTL
	}
	if c.Aggregator.CompletedCacheSize == 0 {
		c.Aggregator.CompletedCacheSize = aggregator.DefaultCompletedCacheSize
	}
	defaults := watcher.DefaultSupervisorConfig()
	if c.Watcher.InitialBackoff == 0 {
		c.Watcher.InitialBackoff = defaults.InitialInterval
	}
	if c.Watcher.MaxBackoff == 0 {
		c.Watcher.MaxBackoff = defaults.MaxInterval
	}
	if c.Watcher.HealthyRun == 0 {
		c.Watcher.HealthyRun = defaults.HealthyRun
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsListenAddr
	}
}

// Validate returns a Config error describing the first problem found.
func (c *Config) Validate() error {
	if err := c.validateChains(); err != nil {
		return bridgeErrors.Config("config.validate", err)
	}
	if err := c.Signer.validate(); err != nil {
		return bridgeErrors.Config("config.validate", err)
	}
	if c.TxSigner.PrivateKey != "" && c.TxSigner.AWSKMSKeyID != "" {
		return bridgeErrors.Config("config.validate", ErrManyTxSigners)
	}

	durations := map[string]time.Duration{
		"submitter.receipt_timeout":       c.Submitter.ReceiptTimeout,
		"submitter.receipt_poll_interval": c.Submitter.ReceiptPollInterval,
		"aggregator.pending_ttl":          c.Aggregator.PendingTTL,
		"watcher.initial_backoff":         c.Watcher.InitialBackoff,
		"watcher.max_backoff":             c.Watcher.MaxBackoff,
	}
	for name, d := range durations {
		if d <= 0 {
			return bridgeErrors.Config("config.validate", fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Watcher.MaxElapsedTime < 0 {
		return bridgeErrors.Config("config.validate", errors.New("watcher.max_elapsed_time cannot be negative"))
	}
	if c.Aggregator.CompletedCacheSize < 0 {
		return bridgeErrors.Config("config.validate", errors.New("aggregator.completed_cache_size cannot be negative"))
	}
	return nil
}

func (c *Config) validateChains() error {
	if len(c.Chains) == 0 {
		return ErrNoChains
	}
	seen := make(map[uint64]struct{}, len(c.Chains))
	for i, chain := range c.Chains {
		if chain == nil {
			return fmt.Errorf("chain [%d] is empty", i)
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain [%d] has no chain_id", i)
		}
		if _, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateChain, chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		if strings.TrimSpace(chain.RPCUrl) == "" {
			return fmt.Errorf("chain [%d] has no rpc_url", chain.ChainID)
		}
		if chain.BridgeAddress == (common.Address{}) {
			return fmt.Errorf("chain [%d] has no bridge_address", chain.ChainID)
		}
		if chain.PollInterval < 0 {
			return fmt.Errorf("chain [%d] poll_interval cannot be negative", chain.ChainID)
		}
	}
	return nil
}

func (s *SignerConfig) validate() error {
	if s.Validators == 0 {
		return fmt.Errorf("%w: signer.validators must be set", ErrInvalidValidators)
	}
	if s.ValidatorIndex == 0 || s.ValidatorIndex > s.Validators {
		return fmt.Errorf("%w: validator_index %d outside 1..%d", ErrInvalidValidators, s.ValidatorIndex, s.Validators)
	}
	if _, err := s.Sharing(); err != nil {
		return err
	}

	sources := 0
	for _, v := range []string{s.ShareFile, s.KeystoreFile, s.AWSSecretName} {
		if v != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		return ErrNoShareSource
	case sources > 1:
		return ErrManyShareSources
	}
	return nil
}

// Sharing builds the public sharing of the configured epoch.
func (s *SignerConfig) Sharing() (*threshold.Sharing, error) {
	faults, err := threshold.ParseFaultModel(s.FaultModel)
	if err != nil {
		return nil, err
	}
	sharing, err := threshold.ParseSharing(s.Epoch, s.Validators, faults, s.Commitments)
	if err != nil {
		return nil, fmt.Errorf("signer.commitments: %w", err)
	}
	return sharing, nil
}

// ChainIDs lists the configured chains in file order.
func (c *Config) ChainIDs() []uint64 {
	return util.Map(c.Chains, func(chain *chainManager.ChainConfig, _ uint64) uint64 {
		return chain.ChainID
	})
}

// SupervisorConfig converts the watcher section for the reconnect supervisor.
func (c *Config) SupervisorConfig() *watcher.SupervisorConfig {
	return &watcher.SupervisorConfig{
		InitialInterval: c.Watcher.InitialBackoff,
		MaxInterval:     c.Watcher.MaxBackoff,
		MaxElapsedTime:  c.Watcher.MaxElapsedTime,
		HealthyRun:      c.Watcher.HealthyRun,
	}
}

// AggregatorConfig converts the aggregator section.
func (c *Config) AggregatorConfig() *aggregator.Config {
	return &aggregator.Config{
		DST:                c.Signer.DST,
		VerifyPartials:     c.Aggregator.VerifyPartials,
		CompletedCacheSize: c.Aggregator.CompletedCacheSize,
	}
}

// SubmitterConfig returns the submitter settings for one destination chain.
func (c *Config) SubmitterConfig(chain *chainManager.ChainConfig) *submitter.SubmitterConfig {
	return &submitter.SubmitterConfig{
		ChainID:             chain.ChainID,
		BridgeAddress:       chain.BridgeAddress,
		ReceiptTimeout:      c.Submitter.ReceiptTimeout,
		ReceiptPollInterval: c.Submitter.ReceiptPollInterval,
	}
}
