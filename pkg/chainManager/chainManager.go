// Package chainManager provides blockchain connection management for the bridge sidecar.
// It dials the source and destination chains named in configuration, checks that each
// endpoint serves the expected chain id, and keeps a registry of live clients that the
// watchers and submitters look up by chain id.
package chainManager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultPollInterval = 12 * time.Second
)

var (
	// ErrChainNotFound is returned when a requested chain ID is not found in the manager
	ErrChainNotFound = errors.New("chain not found")
	// ErrChainExists is returned when a chain ID is registered twice
	ErrChainExists = errors.New("chain already exists")
	// ErrChainIDMismatch is returned when an endpoint reports a different chain id than configured
	ErrChainIDMismatch = errors.New("chain id mismatch")
)

// IChainManager defines the interface for managing blockchain connections.
type IChainManager interface {
	// AddChain dials the chain and registers it under its chain ID
	AddChain(ctx context.Context, cfg *ChainConfig) error
	// GetChainForId retrieves a chain connection by its chain ID
	GetChainForId(chainId uint64) (*Chain, error)
	// Chains returns every registered chain
	Chains() []*Chain
	// Close releases all client connections
	Close()
}

// ChainConfig holds the configuration for one chain the bridge reads from or writes to.
type ChainConfig struct {
	// ChainID is the unique identifier for the blockchain network
	ChainID uint64 `yaml:"chain_id"`
	// Name is a human readable label used in logs and metrics
	Name string `yaml:"name"`
	// RPCUrl is the HTTP(S) endpoint used for calls, polling and transactions
	RPCUrl string `yaml:"rpc_url"`
	// WSUrl is an optional websocket endpoint; when set, watchers stream logs instead of polling
	WSUrl string `yaml:"ws_url"`
	// BridgeAddress is the bridge contract on this chain
	BridgeAddress common.Address `yaml:"bridge_address"`
	// FinalityBlocks is the number of confirmations before a polled block is considered safe
	FinalityBlocks uint64 `yaml:"finality_blocks"`
	// PollInterval is the polling cadence when no websocket endpoint is configured
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Label returns the chain name, falling back to its id.
func (c *ChainConfig) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("chain-%d", c.ChainID)
}

// Chain represents an active connection to a blockchain.
type Chain struct {
	Config *ChainConfig
	// RPCClient is the request/response client for this chain
	RPCClient EthClientInterface
	// StreamClient is the websocket client, nil when the chain is polled
	StreamClient EthClientInterface

	closers []func()
}

// ChainManager implements IChainManager and keeps a registry of chains keyed by chain ID.
// This implementation is thread-safe using sync.Map for concurrent access.
type ChainManager struct {
	chains      sync.Map // map[uint64]*Chain
	logger      *zap.Logger
	dialTimeout time.Duration
	dial        func(ctx context.Context, url string) (EthClientInterface, func(), error)
}

// NewChainManager creates a new ChainManager instance with an empty registry.
func NewChainManager(logger *zap.Logger) *ChainManager {
	return &ChainManager{
		logger:      logger,
		dialTimeout: DefaultDialTimeout,
		dial:        dialEthClient,
	}
}

func dialEthClient(ctx context.Context, url string) (EthClientInterface, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// AddChain dials the configured endpoints, verifies the chain id they report and stores
// the resulting chain connection.
//
// Parameters:
//   - ctx: Context bounding the dial and the chain id check
//   - cfg: The chain configuration
//
// Returns:
//   - error: A config error on duplicate or mismatched chains, an rpc error if dialing fails
func (cm *ChainManager) AddChain(ctx context.Context, cfg *ChainConfig) error {
	if _, exists := cm.chains.Load(cfg.ChainID); exists {
		return bridgeErrors.Config("chainManager.addChain", fmt.Errorf("%w: %d", ErrChainExists, cfg.ChainID))
	}

	ctx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	chain := &Chain{Config: cfg}
	rpcClient, closer, err := cm.dial(ctx, cfg.RPCUrl)
	if err != nil {
		return bridgeErrors.RPC("chainManager.addChain", fmt.Errorf("failed to connect to RPC URL %s: %w", cfg.RPCUrl, err))
	}
	chain.RPCClient = rpcClient
	chain.closers = append(chain.closers, closer)

	if cfg.WSUrl != "" {
		wsClient, wsCloser, err := cm.dial(ctx, cfg.WSUrl)
		if err != nil {
			chain.close()
			return bridgeErrors.RPC("chainManager.addChain", fmt.Errorf("failed to connect to websocket URL %s: %w", cfg.WSUrl, err))
		}
		chain.StreamClient = wsClient
		chain.closers = append(chain.closers, wsCloser)
	}

	if err := cm.checkChainID(ctx, chain); err != nil {
		chain.close()
		return err
	}

	if _, loaded := cm.chains.LoadOrStore(cfg.ChainID, chain); loaded {
		chain.close()
		return bridgeErrors.Config("chainManager.addChain", fmt.Errorf("%w: %d", ErrChainExists, cfg.ChainID))
	}

	cm.logger.Sugar().Infow("Connected to chain",
		zap.Uint64("chainId", cfg.ChainID),
		zap.String("name", cfg.Label()),
		zap.Bool("streaming", chain.StreamClient != nil),
	)
	return nil
}

func (cm *ChainManager) checkChainID(ctx context.Context, chain *Chain) error {
	clients := []EthClientInterface{chain.RPCClient}
	if chain.StreamClient != nil {
		clients = append(clients, chain.StreamClient)
	}
	for _, c := range clients {
		id, err := c.ChainID(ctx)
		if err != nil {
			return bridgeErrors.RPC("chainManager.checkChainId", fmt.Errorf("failed to get chain id: %w", err))
		}
		if !id.IsUint64() || id.Uint64() != chain.Config.ChainID {
			return bridgeErrors.Config("chainManager.checkChainId",
				fmt.Errorf("%w: configured %d, endpoint reports %s", ErrChainIDMismatch, chain.Config.ChainID, id))
		}
	}
	return nil
}

// GetChainForId retrieves a chain connection by its chain ID.
// This method is thread-safe and can be called concurrently.
//
// Parameters:
//   - chainId: The chain ID to look up
//
// Returns:
//   - *Chain: The chain connection if found
//   - error: ErrChainNotFound if the chain ID is not registered
func (cm *ChainManager) GetChainForId(chainId uint64) (*Chain, error) {
	value, exists := cm.chains.Load(chainId)
	if !exists {
		return nil, ErrChainNotFound
	}
	chain, ok := value.(*Chain)
	if !ok {
		return nil, fmt.Errorf("invalid chain type stored for ID %d", chainId)
	}
	return chain, nil
}

// Chains returns every registered chain in no particular order.
func (cm *ChainManager) Chains() []*Chain {
	var out []*Chain
	cm.chains.Range(func(_, value any) bool {
		if chain, ok := value.(*Chain); ok {
			out = append(out, chain)
		}
		return true
	})
	return out
}

// Close closes every client the manager dialed.
func (cm *ChainManager) Close() {
	cm.chains.Range(func(key, value any) bool {
		if chain, ok := value.(*Chain); ok {
			chain.close()
		}
		cm.chains.Delete(key)
		return true
	})
}

func (c *Chain) close() {
	for _, closer := range c.closers {
		if closer != nil {
			closer()
		}
	}
	c.closers = nil
}
