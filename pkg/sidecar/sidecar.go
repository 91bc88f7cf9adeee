// Package sidecar runs the attestation pipeline of one validator: watchers observe
// MessageSent events on every source chain, the validator signs a partial for each message
// and exchanges it with its peers, the aggregator recovers the group signature once a
// quorum of partials is in, and a submitter delivers it to the destination chain.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/aggregator"
	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/blsSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/submitter"
	"github.com/Layr-Labs/attestation-sidecar/pkg/watcher"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPendingTTL          = 10 * time.Minute
	DefaultPruneInterval       = time.Minute
	DefaultMessageBuffer       = 256
	DefaultResultBuffer        = 64
	DefaultSubmitRetries       = 3
	DefaultSubmitRetryInterval = time.Second
)

type Config struct {
	// PendingTTL is how long an attestation may collect partials before it is dropped
	PendingTTL    time.Duration
	PruneInterval time.Duration
	MessageBuffer int
	// ResultBuffer is the queue length of recovered attestations per destination chain
	ResultBuffer int
	// SubmitRetries bounds resubmissions after transport errors
	SubmitRetries       uint64
	SubmitRetryInterval time.Duration
	Supervisor          *watcher.SupervisorConfig
}

func (c *Config) setDefaults() {
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	if c.MessageBuffer <= 0 {
		c.MessageBuffer = DefaultMessageBuffer
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
	if c.SubmitRetryInterval <= 0 {
		c.SubmitRetryInterval = DefaultSubmitRetryInterval
	}
	if c.Supervisor == nil {
		c.Supervisor = watcher.DefaultSupervisorConfig()
	}
}

// Deps are the components a sidecar drives. The caller owns the aggregator and closes it
// after Run returns.
type Deps struct {
	Watchers   []watcher.IChainWatcher
	Submitters []submitter.ISubmitter
	Signer     blsSigner.IBLSSigner
	Aggregator *aggregator.Aggregator
	Network    PartialNetwork
	Metrics    *metrics.Metrics
}

type Sidecar struct {
	config     *Config
	watchers   []watcher.IChainWatcher
	submitters map[uint64]submitter.ISubmitter
	signer     blsSigner.IBLSSigner
	aggregator *aggregator.Aggregator
	network    PartialNetwork
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func New(cfg *Config, deps *Deps, logger *zap.Logger) (*Sidecar, error) {
	if deps == nil {
		return nil, bridgeErrors.Config("sidecar.new", errors.New("deps cannot be nil"))
	}
	switch {
	case deps.Signer == nil:
		return nil, bridgeErrors.Config("sidecar.new", errors.New("BLS signer cannot be nil"))
	case deps.Aggregator == nil:
		return nil, bridgeErrors.Config("sidecar.new", errors.New("aggregator cannot be nil"))
	case deps.Network == nil:
		return nil, bridgeErrors.Config("sidecar.new", errors.New("partial network cannot be nil"))
	case len(deps.Watchers) == 0:
		return nil, bridgeErrors.Config("sidecar.new", errors.New("no source chains to watch"))
	}

	submitters := make(map[uint64]submitter.ISubmitter, len(deps.Submitters))
	for _, sub := range deps.Submitters {
		if _, ok := submitters[sub.ChainID()]; ok {
			return nil, bridgeErrors.Config("sidecar.new", fmt.Errorf("duplicate submitter for chain %d", sub.ChainID()))
		}
		submitters[sub.ChainID()] = sub
	}

	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	return &Sidecar{
		config:     &c,
		watchers:   deps.Watchers,
		submitters: submitters,
		signer:     deps.Signer,
		aggregator: deps.Aggregator,
		network:    deps.Network,
		logger:     logger,
		metrics:    deps.Metrics,
	}, nil
}

// Run blocks until ctx is cancelled (nil) or a component fails permanently, which stops
// every other component and is returned.
func (s *Sidecar) Run(ctx context.Context) error {
	if err := s.checkQuorumReachable(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)

	messages := make(chan attestation.Message, s.config.MessageBuffer)
	for _, w := range s.watchers {
		sup := watcher.NewSupervisor(w, s.config.Supervisor, s.logger, s.metrics)
		g.Go(func() error { return sup.Run(ctx, messages) })
	}

	queues := make(map[uint64]chan *attestation.Attestation, len(s.submitters))
	for chainID, sub := range s.submitters {
		q := make(chan *attestation.Attestation, s.config.ResultBuffer)
		queues[chainID] = q
		g.Go(func() error { return s.submitLoop(ctx, sub, q) })
	}

	g.Go(func() error { return s.messageLoop(ctx, messages, queues) })
	g.Go(func() error { return s.partialLoop(ctx, queues) })
	g.Go(func() error { return s.pruneLoop(ctx) })

	s.logger.Sugar().Infow("Sidecar started",
		zap.Int("watchers", len(s.watchers)),
		zap.Int("submitters", len(s.submitters)),
		zap.Uint32("validatorIndex", s.signer.ValidatorIndex()),
		zap.Uint64("epoch", s.signer.Epoch()),
	)

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Sugar().Errorw("Sidecar stopped", zap.Error(err))
		return err
	}
	s.logger.Sugar().Infow("Sidecar stopped")
	return nil
}

// checkQuorumReachable rejects a loopback network with fewer members than the signing
// threshold, where partials from the missing validators can never arrive.
func (s *Sidecar) checkQuorumReachable(ctx context.Context) error {
	loopback, ok := s.network.(*LoopbackNetwork)
	if !ok {
		return nil
	}
	required, err := s.aggregator.Threshold(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if members := len(loopback.hub.members()); uint32(members) < required {
		return bridgeErrors.Config("sidecar.run", fmt.Errorf(
			"%w: loopback network has %d member(s), signing threshold is %d", ErrQuorumUnreachable, members, required))
	}
	return nil
}

func (s *Sidecar) messageLoop(ctx context.Context, messages <-chan attestation.Message, queues map[uint64]chan *attestation.Attestation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			s.handleMessage(ctx, msg, queues)
		}
	}
}

// handleMessage signs our partial for an observed message, records it locally and shares it.
func (s *Sidecar) handleMessage(ctx context.Context, msg attestation.Message, queues map[uint64]chan *attestation.Attestation) {
	if _, ok := queues[msg.DestinationChainID]; !ok {
		s.logger.Sugar().Debugw("Skipping message for unconfigured destination", msg.Field())
		return
	}

	hash := msg.AttestationHash()
	partial, err := s.signer.SignPartial(hash)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to sign partial", msg.Field(), zap.Error(err))
		return
	}

	s.accept(ctx, hash, partial, msg, queues)

	if err := s.network.Broadcast(ctx, attestation.SignedPartial{Message: msg, Partial: partial}); err != nil && ctx.Err() == nil {
		s.logger.Sugar().Warnw("Failed to broadcast partial", msg.Field(), zap.Error(err))
	}
}

func (s *Sidecar) partialLoop(ctx context.Context, queues map[uint64]chan *attestation.Attestation) error {
	partials := s.network.Partials()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sp, ok := <-partials:
			if !ok {
				s.logger.Sugar().Warnw("Partial network closed, continuing with local partials only")
				partials = nil
				continue
			}
			if _, ok := queues[sp.Message.DestinationChainID]; !ok {
				continue
			}
			s.accept(ctx, sp.Hash(), sp.Partial, sp.Message, queues)
		}
	}
}

// accept adds a partial to the aggregator and queues the attestation when it completes a quorum.
func (s *Sidecar) accept(ctx context.Context, hash common.Hash, partial attestation.PartialSignature, msg attestation.Message, queues map[uint64]chan *attestation.Attestation) {
	att, err := s.aggregator.AddPartial(ctx, hash, partial, msg)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Sugar().Warnw("Partial rejected",
				msg.Field(),
				zap.Uint32("validatorIndex", partial.ValidatorIndex),
				zap.Uint64("epoch", partial.Epoch),
				zap.Stringer("kind", bridgeErrors.KindOf(err)),
				zap.Error(err),
			)
		}
		return
	}
	if att == nil {
		return
	}

	s.logger.Sugar().Infow("Recovered attestation",
		att.Message.Field(),
		zap.String("signature", att.Signature.String()),
	)
	select {
	case queues[att.Message.DestinationChainID] <- att:
	case <-ctx.Done():
	}
}

func (s *Sidecar) submitLoop(ctx context.Context, sub submitter.ISubmitter, queue <-chan *attestation.Attestation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case att := <-queue:
			s.submit(ctx, sub, att)
		}
	}
}

// submit delivers an attestation, retrying transport errors. A revert is taken to mean the
// bridge already accepted this message from another validator.
func (s *Sidecar) submit(ctx context.Context, sub submitter.ISubmitter, att *attestation.Attestation) {
	var txHash common.Hash
	operation := func() error {
		h, err := sub.Submit(ctx, att.Message, att.Signature)
		if err != nil {
			if bridgeErrors.Is(err, bridgeErrors.KindRPC) {
				return err
			}
			return backoff.Permanent(err)
		}
		txHash = h
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.SubmitRetryInterval
	notify := func(err error, wait time.Duration) {
		s.logger.Sugar().Warnw("Submission failed, retrying",
			att.Message.Field(),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, s.config.SubmitRetries), ctx), notify)

	fields := []interface{}{att.Message.Field(), zap.Uint64("destination", sub.ChainID())}
	if hash, ok := bridgeErrors.TxHashOf(err); ok {
		fields = append(fields, zap.String("txHash", hash.Hex()))
	}
	switch {
	case err == nil && !sub.HasSigner():
		s.logger.Sugar().Infow("Attestation simulated", fields...)
	case err == nil:
		s.logger.Sugar().Infow("Attestation delivered", append(fields, zap.String("txHash", txHash.Hex()))...)
	case ctx.Err() != nil:
	case errors.Is(err, bridgeErrors.ErrReverted):
		s.logger.Sugar().Infow("Bridge rejected attestation, treating as already delivered", append(fields, zap.Error(err))...)
	case bridgeErrors.Is(err, bridgeErrors.KindTimeout):
		s.logger.Sugar().Warnw("Attestation sent but not yet mined", append(fields, zap.Error(err))...)
	default:
		s.logger.Sugar().Errorw("Failed to submit attestation", append(fields, zap.Error(err))...)
	}
}

func (s *Sidecar) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := s.aggregator.Prune(ctx, s.config.PendingTTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if n > 0 {
			s.logger.Sugar().Infow("Pruned stale attestations",
				zap.Int("pruned", n),
				zap.Duration("ttl", s.config.PendingTTL),
			)
		}
	}
}
