// Package submitter delivers recovered attestations to a destination chain bridge by calling
// write(sender, messageHash, originChainId, signature).
//
// Without a transaction signer the submitter runs in simulation mode: it performs a read-only
// call of write to detect would-be reverts and returns the zero hash. With a signer it builds,
// signs and sends an EIP-1559 transaction and waits a bounded time for its receipt.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeContract"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/eip2537"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/txSigner"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	DefaultReceiptTimeout      = 2 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second
)

var (
	FallbackGasTipCap = big.NewInt(15000000000)
)

// ISubmitter submits attestations to one destination chain.
type ISubmitter interface {
	// Submit sends msg with its group signature and returns the transaction hash, or the
	// zero hash in simulation mode.
	Submit(ctx context.Context, msg attestation.Message, signature attestation.AggregatedSignature) (common.Hash, error)
	ChainID() uint64
	HasSigner() bool
}

type SubmitterConfig struct {
	ChainID       uint64
	BridgeAddress common.Address
	// ReceiptTimeout bounds how long a live submission waits to be mined
	ReceiptTimeout time.Duration
	// ReceiptPollInterval is the delay between receipt lookups
	ReceiptPollInterval time.Duration
}

type Submitter struct {
	config   *SubmitterConfig
	client   chainManager.EthClientInterface
	txSigner txSigner.ITransactionSigner
	logger   *zap.Logger
	metrics  *metrics.ChainMetrics
}

// NewSubmitter creates a submitter for one destination chain. A nil signer selects simulation mode.
func NewSubmitter(
	cfg *SubmitterConfig,
	client chainManager.EthClientInterface,
	signer txSigner.ITransactionSigner,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*Submitter, error) {
	if cfg == nil {
		return nil, bridgeErrors.Config("submitter.new", errors.New("config cannot be nil"))
	}
	if client == nil {
		return nil, bridgeErrors.Config("submitter.new", errors.New("client cannot be nil"))
	}
	if cfg.BridgeAddress == (common.Address{}) {
		return nil, bridgeErrors.Config("submitter.new", fmt.Errorf("bridge address not set for chain %d", cfg.ChainID))
	}
	c := *cfg
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	return &Submitter{
		config:   &c,
		client:   client,
		txSigner: signer,
		logger:   logger,
		metrics:  m.ChainMetrics(c.ChainID),
	}, nil
}

func (s *Submitter) ChainID() uint64 {
	return s.config.ChainID
}

func (s *Submitter) HasSigner() bool {
	return s.txSigner != nil
}

func (s *Submitter) Submit(ctx context.Context, msg attestation.Message, signature attestation.AggregatedSignature) (common.Hash, error) {
	if msg.DestinationChainID != s.config.ChainID {
		return common.Hash{}, bridgeErrors.Config("submitter.submit",
			fmt.Errorf("message for chain %d sent to submitter for chain %d", msg.DestinationChainID, s.config.ChainID))
	}

	encoded, err := eip2537.G1ToEIP2537(signature.Signature)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := bridgeContract.PackWrite(msg, encoded[:])
	if err != nil {
		return common.Hash{}, bridgeErrors.Crypto("submitter.submit", err)
	}

	if s.txSigner == nil {
		return s.simulate(ctx, msg, data)
	}

	start := time.Now()
	txHash, err := s.send(ctx, msg, data)
	s.recordOutcome(err)
	if err == nil {
		s.metrics.SubmissionLatency(time.Since(start))
	}
	return txHash, err
}

func (s *Submitter) simulate(ctx context.Context, msg attestation.Message, data []byte) (common.Hash, error) {
	s.logger.Sugar().Debugw("Simulating attestation call",
		zap.Uint64("chainId", s.config.ChainID),
		zap.String("bridge", s.config.BridgeAddress.String()),
		msg.Field(),
	)

	to := s.config.BridgeAddress
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		err = classifyCallError("submitter.simulate", err)
		s.recordOutcome(err)
		return common.Hash{}, err
	}

	s.metrics.Submission(metrics.SubmissionSimulated)
	s.logger.Sugar().Debugw("Simulation successful",
		zap.Uint64("chainId", s.config.ChainID),
		zap.Int("resultLength", len(result)),
	)
	return common.Hash{}, nil
}

func (s *Submitter) send(ctx context.Context, msg attestation.Message, data []byte) (common.Hash, error) {
	chainID := new(big.Int).SetUint64(s.config.ChainID)
	opts, err := s.txSigner.GetTransactOpts(ctx, chainID)
	if err != nil {
		return common.Hash{}, bridgeErrors.Config("submitter.send", fmt.Errorf("failed to get transaction options: %w", err))
	}

	nonce, err := s.client.PendingNonceAt(ctx, opts.From)
	if err != nil {
		return common.Hash{}, bridgeErrors.RPC("submitter.send", fmt.Errorf("failed to get nonce: %w", err))
	}

	gasTipCap, gasFeeCap, err := s.estimateFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	to := s.config.BridgeAddress
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      opts.From,
		To:        &to,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, classifyCallError("submitter.estimateGas", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       addGasBuffer(gasLimit),
		To:        &to,
		Data:      data,
	})
	signedTx, err := opts.Signer(opts.From, tx)
	if err != nil {
		return common.Hash{}, bridgeErrors.Crypto("submitter.send", fmt.Errorf("failed to sign transaction: %w", err))
	}
	txHash := signedTx.Hash()

	s.logger.Sugar().Infow("Submitting attestation transaction",
		zap.Uint64("chainId", s.config.ChainID),
		zap.String("bridge", s.config.BridgeAddress.String()),
		zap.String("from", opts.From.String()),
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("gasTipCap", gasTipCap.String()),
		zap.String("gasFeeCap", gasFeeCap.String()),
		zap.Uint64("gasLimit", signedTx.Gas()),
		msg.Field(),
	)

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, classifyCallError("submitter.sendTransaction", err)
	}

	receipt, err := s.waitForReceipt(ctx, txHash)
	if err != nil {
		return txHash, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.logger.Sugar().Warnw("Attestation transaction reverted",
			zap.Uint64("chainId", s.config.ChainID),
			zap.String("txHash", txHash.Hex()),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return txHash, bridgeErrors.WithTx(bridgeErrors.KindSubmission, "submitter.receipt", txHash, bridgeErrors.ErrReverted)
	}

	s.logger.Sugar().Infow("Attestation confirmed on-chain",
		zap.Uint64("chainId", s.config.ChainID),
		zap.String("txHash", txHash.Hex()),
		zap.Any("blockNumber", receipt.BlockNumber),
	)
	return txHash, nil
}

func (s *Submitter) estimateFees(ctx context.Context) (*big.Int, *big.Int, error) {
	gasTipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		// not every backend implements eth_maxPriorityFeePerGas
		s.logger.Sugar().Debugw("Cannot get gasTipCap, using fallback",
			zap.Uint64("chainId", s.config.ChainID),
			zap.Error(err),
		)
		gasTipCap = new(big.Int).Set(FallbackGasTipCap)
	}

	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, bridgeErrors.RPC("submitter.estimateFees", fmt.Errorf("failed to get latest header: %w", err))
	}
	if header.BaseFee == nil {
		return nil, nil, bridgeErrors.Config("submitter.estimateFees", fmt.Errorf("chain %d does not support dynamic fee transactions", s.config.ChainID))
	}

	// basefee * 3/2 leaves room for a few full blocks before inclusion
	overestimatedBasefee := new(big.Int).Div(new(big.Int).Mul(header.BaseFee, big.NewInt(3)), big.NewInt(2))
	gasFeeCap := new(big.Int).Add(overestimatedBasefee, gasTipCap)
	return gasTipCap, gasFeeCap, nil
}

func addGasBuffer(gasLimit uint64) uint64 {
	return 6 * gasLimit / 5 // add 20% buffer to gas limit
}

// waitForReceipt polls for the receipt of txHash until it is mined, the receipt timeout
// elapses or ctx is cancelled. The latter two are reported as Timeout errors carrying the
// hash, since the transaction may still be mined later.
func (s *Submitter) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.logger.Sugar().Debugw("Failed to fetch receipt, retrying",
				zap.Uint64("chainId", s.config.ChainID),
				zap.String("txHash", txHash.Hex()),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, bridgeErrors.WithTx(bridgeErrors.KindTimeout, "submitter.waitForReceipt", txHash,
				fmt.Errorf("%w after %s: %v", bridgeErrors.ErrReceiptTimeout, s.config.ReceiptTimeout, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (s *Submitter) recordOutcome(err error) {
	switch {
	case err == nil:
		if s.HasSigner() {
			s.metrics.Submission(metrics.StatusSuccess)
		}
	case errors.Is(err, bridgeErrors.ErrReverted):
		s.metrics.Submission(metrics.SubmissionReverted)
	case bridgeErrors.Is(err, bridgeErrors.KindTimeout):
		s.metrics.Submission(metrics.SubmissionTimeout)
	default:
		s.metrics.Submission(metrics.StatusFailed)
	}
}
