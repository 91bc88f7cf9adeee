// Package watcher observes bridge contracts on source chains and turns MessageSent logs
// into attestation messages.
//
// A ChainWatcher streams logs over a websocket subscription when the chain has a stream
// client, and otherwise polls finalized block ranges over RPC. Transport failures are
// returned to the caller; a Supervisor restarts the watcher with exponential backoff.
package watcher

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeContract"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const logBufferSize = 128

// IChainWatcher is a restartable source of messages for one chain.
type IChainWatcher interface {
	// Run delivers messages to out until ctx is cancelled (nil), the subscription is closed
	// by the remote end (nil) or a transport error occurs (RPC error).
	Run(ctx context.Context, out chan<- attestation.Message) error
	ChainID() uint64
}

type ChainWatcher struct {
	config  *chainManager.ChainConfig
	client  chainManager.EthClientInterface
	stream  chainManager.EthClientInterface
	cache   *LogCache
	logger  *zap.Logger
	metrics *metrics.ChainMetrics

	// cursor is the last block whose logs were fully delivered in polling mode
	cursor      atomic.Uint64
	initialized atomic.Bool
}

// NewChainWatcher creates a watcher for the bridge contract on chain.
func NewChainWatcher(chain *chainManager.Chain, logger *zap.Logger, m *metrics.Metrics) (*ChainWatcher, error) {
	if chain == nil || chain.Config == nil {
		return nil, bridgeErrors.Config("watcher.new", errors.New("chain cannot be nil"))
	}
	if chain.Config.BridgeAddress == (common.Address{}) {
		return nil, bridgeErrors.Config("watcher.new", errors.New("bridge address not set for chain "+chain.Config.Label()))
	}
	if chain.RPCClient == nil && chain.StreamClient == nil {
		return nil, bridgeErrors.Config("watcher.new", errors.New("no client configured for chain "+chain.Config.Label()))
	}
	return &ChainWatcher{
		config:  chain.Config,
		client:  chain.RPCClient,
		stream:  chain.StreamClient,
		cache:   NewLogCache(),
		logger:  logger.With(zap.String("chain", chain.Config.Label()), zap.Uint64("chainId", chain.Config.ChainID)),
		metrics: m.ChainMetrics(chain.Config.ChainID),
	}, nil
}

func (w *ChainWatcher) ChainID() uint64 {
	return w.config.ChainID
}

// Cursor returns the last fully processed block in polling mode, or the highest block a
// log was streamed from in streaming mode.
func (w *ChainWatcher) Cursor() uint64 {
	if w.stream != nil {
		return w.cache.BlockNumber()
	}
	return w.cursor.Load()
}

func (w *ChainWatcher) Run(ctx context.Context, out chan<- attestation.Message) error {
	if w.stream != nil {
		return w.runStreaming(ctx, out)
	}
	return w.runPolling(ctx, out)
}

func (w *ChainWatcher) filterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{w.config.BridgeAddress},
		Topics:    [][]common.Hash{{bridgeContract.MessageSentEventID}},
	}
}

func (w *ChainWatcher) runStreaming(ctx context.Context, out chan<- attestation.Message) error {
	query := w.filterQuery()
	if from := w.cache.BlockNumber(); from > 0 {
		query.FromBlock = new(big.Int).SetUint64(from)
	}

	logs := make(chan types.Log, logBufferSize)
	sub, err := w.stream.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, rpc.ErrNotificationsUnsupported) && w.client != nil {
			w.logger.Sugar().Warnw("Stream endpoint does not support subscriptions, falling back to polling")
			return w.runPolling(ctx, out)
		}
		return bridgeErrors.RPC("watcher.subscribe", err)
	}
	defer sub.Unsubscribe()

	w.logger.Sugar().Infow("Subscribed to MessageSent events",
		zap.String("bridge", w.config.BridgeAddress.String()),
		zap.Any("fromBlock", query.FromBlock),
	)

	// nodes only push logs mined after the subscription, so the gap since the last
	// streamed block is fetched explicitly
	var backfilledTo uint64
	if query.FromBlock != nil {
		head, ok, err := w.backfill(ctx, query, out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
		backfilledTo = head
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				w.logger.Sugar().Infow("Log subscription closed")
				return nil
			}
			return bridgeErrors.RPC("watcher.subscription", err)
		case log := <-logs:
			if log.BlockNumber <= backfilledTo {
				continue
			}
			if !w.deliverStreamed(ctx, log, out) {
				return nil
			}
		}
	}
}

// backfill delivers the logs between query.FromBlock and the current head. It returns the
// head it covered, and false when ctx was cancelled during delivery.
func (w *ChainWatcher) backfill(ctx context.Context, query ethereum.FilterQuery, out chan<- attestation.Message) (uint64, bool, error) {
	client := w.client
	if client == nil {
		client = w.stream
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, false, bridgeErrors.RPC("watcher.blockNumber", err)
	}
	if head < query.FromBlock.Uint64() {
		return head, true, nil
	}
	query.ToBlock = new(big.Int).SetUint64(head)
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return 0, false, bridgeErrors.RPC("watcher.filterLogs", err)
	}
	w.logger.Sugar().Infow("Backfilled logs missed while disconnected",
		zap.Uint64("fromBlock", query.FromBlock.Uint64()),
		zap.Uint64("toBlock", head),
		zap.Int("logs", len(logs)),
	)
	for _, log := range logs {
		if !w.deliverStreamed(ctx, log, out) {
			return head, false, nil
		}
	}
	return head, true, nil
}

// deliverStreamed forwards log unless it was removed by a reorg or already delivered.
func (w *ChainWatcher) deliverStreamed(ctx context.Context, log types.Log, out chan<- attestation.Message) bool {
	if log.Removed {
		w.logger.Sugar().Debugw("Skipping removed log",
			zap.String("txHash", log.TxHash.Hex()),
			zap.Uint64("blockNumber", log.BlockNumber),
		)
		return true
	}
	if w.cache.Exists(log) {
		return true
	}
	if !w.forward(ctx, log, out) {
		return false
	}
	w.metrics.Cursor(log.BlockNumber)
	return true
}

func (w *ChainWatcher) runPolling(ctx context.Context, out chan<- attestation.Message) error {
	if w.client == nil {
		return bridgeErrors.Config("watcher.poll", errors.New("no RPC client for polling"))
	}

	if !w.initialized.Load() {
		head, err := w.client.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return bridgeErrors.RPC("watcher.blockNumber", err)
		}
		w.cursor.Store(saturatingSub(head, w.config.FinalityBlocks))
		w.initialized.Store(true)
	}

	interval := w.config.PollInterval
	if interval <= 0 {
		interval = chainManager.DefaultPollInterval
	}
	w.logger.Sugar().Infow("Starting polling mode",
		zap.Uint64("cursor", w.cursor.Load()),
		zap.Duration("interval", interval),
		zap.Uint64("finalityBlocks", w.config.FinalityBlocks),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := w.poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// poll delivers logs from the blocks that became final since the last poll.
func (w *ChainWatcher) poll(ctx context.Context, out chan<- attestation.Message) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return bridgeErrors.RPC("watcher.blockNumber", err)
	}
	safe := saturatingSub(head, w.config.FinalityBlocks)
	cursor := w.cursor.Load()
	if safe <= cursor {
		return nil
	}

	query := w.filterQuery()
	query.FromBlock = new(big.Int).SetUint64(cursor + 1)
	query.ToBlock = new(big.Int).SetUint64(safe)
	logs, err := w.client.FilterLogs(ctx, query)
	if err != nil {
		return bridgeErrors.RPC("watcher.filterLogs", err)
	}

	w.logger.Sugar().Debugw("Polled logs",
		zap.Uint64("fromBlock", cursor+1),
		zap.Uint64("toBlock", safe),
		zap.Int("logs", len(logs)),
	)
	for _, log := range logs {
		if log.Removed {
			continue
		}
		if !w.forward(ctx, log, out) {
			return nil
		}
	}

	w.cursor.Store(safe)
	w.metrics.Cursor(safe)
	return nil
}

// forward decodes log and sends it to out. It returns false only when ctx was cancelled
// before the message could be delivered; malformed logs are logged and skipped.
func (w *ChainWatcher) forward(ctx context.Context, log types.Log, out chan<- attestation.Message) bool {
	msg, err := DecodeMessageSent(log, w.config.ChainID)
	if err != nil {
		w.metrics.DecodeError()
		w.logger.Sugar().Warnw("Failed to decode MessageSent log",
			zap.String("txHash", log.TxHash.Hex()),
			zap.Uint("logIndex", log.Index),
			zap.Error(err),
		)
		return true
	}
	w.metrics.MessageObserved()
	w.logger.Sugar().Infow("Observed message",
		msg.Field(),
		zap.String("txHash", log.TxHash.Hex()),
		zap.Uint64("blockNumber", log.BlockNumber),
	)

	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
