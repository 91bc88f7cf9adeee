// Package aggregator collects partial signatures per attestation hash and recovers the
// group signature once a quorum of distinct validators has signed.
//
// The aggregator is an actor: a single goroutine owns all pending state and every
// operation is a message on its mailbox. Callers on any goroutine may use it concurrently,
// and each attestation hash yields at most one recovered signature.
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("aggregator closed")
	ErrEpochMismatch  = errors.New("partial signature epoch does not match active epoch")
	ErrInvalidIndex   = errors.New("validator index out of range")
	ErrInvalidPartial = errors.New("partial signature does not verify")
	ErrHashMismatch   = errors.New("attestation hash does not match message")
)

const (
	DefaultCompletedCacheSize = 1 << 14
	DefaultMailboxSize        = 256
)

type Config struct {
	// DST is the hash-to-curve domain separation tag partials are signed under
	DST string
	// VerifyPartials checks each partial against its share public key before recording it
	VerifyPartials bool
	// CompletedCacheSize bounds how many recovered hashes are remembered to ignore late partials
	CompletedCacheSize int
	// MailboxSize is the buffer of the actor mailbox
	MailboxSize int
	// Clock is used to timestamp pending attestations for pruning
	Clock func() time.Time
}

func (c *Config) setDefaults() {
	if c.DST == "" {
		c.DST = threshold.DefaultDST
	}
	if c.CompletedCacheSize <= 0 {
		c.CompletedCacheSize = DefaultCompletedCacheSize
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type Aggregator struct {
	logger  *zap.Logger
	mailbox chan func(*state)
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewAggregator starts an aggregator for the given sharing. Close must be called to stop it.
func NewAggregator(sharing *threshold.Sharing, cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*Aggregator, error) {
	if sharing == nil {
		return nil, bridgeErrors.Config("aggregator.new", errors.New("sharing cannot be nil"))
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	st, err := newState(sharing, &c, logger, m)
	if err != nil {
		return nil, bridgeErrors.Config("aggregator.new", err)
	}

	a := &Aggregator{
		logger:  logger,
		mailbox: make(chan func(*state), c.MailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run(st)
	return a, nil
}

func (a *Aggregator) run(st *state) {
	defer close(a.done)
	for {
		select {
		case fn := <-a.mailbox:
			fn(st)
		case <-a.quit:
			return
		}
	}
}

// Close stops the actor and waits for it to exit. Pending attestations are discarded.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.quit)
	})
	<-a.done
}

// call runs fn on the actor goroutine. Once fn has been accepted it always runs to
// completion, so its result is awaited even if ctx is cancelled in the meantime.
func call[T any](ctx context.Context, a *Aggregator, fn func(*state) T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case a.mailbox <- func(s *state) { reply <- fn(s) }:
	case <-a.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-a.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrClosed
		}
	}
}

type addResult struct {
	attestation *attestation.Attestation
	err         error
}

// AddPartial records a partial signature for hash. It returns the recovered attestation
// exactly once, on the call that completes the quorum, and nil otherwise. Duplicates from
// the same validator and partials for already recovered hashes are ignored without error.
func (a *Aggregator) AddPartial(ctx context.Context, hash common.Hash, partial attestation.PartialSignature, msg attestation.Message) (*attestation.Attestation, error) {
	r, err := call(ctx, a, func(s *state) addResult {
		att, err := s.addPartial(hash, partial, msg)
		return addResult{attestation: att, err: err}
	})
	if err != nil {
		return nil, err
	}
	return r.attestation, r.err
}

// Threshold returns the number of distinct partials required under the active sharing.
func (a *Aggregator) Threshold(ctx context.Context) (uint32, error) {
	return call(ctx, a, func(s *state) uint32 { return s.sharing.Required() })
}

// Epoch returns the active sharing epoch.
func (a *Aggregator) Epoch(ctx context.Context) (uint64, error) {
	return call(ctx, a, func(s *state) uint64 { return s.sharing.Epoch })
}

// SetSharing installs the sharing for a new epoch. Pending attestations collected under a
// different epoch are evicted, since their partials cannot combine with the new shares.
func (a *Aggregator) SetSharing(ctx context.Context, sharing *threshold.Sharing) error {
	if sharing == nil {
		return bridgeErrors.Config("aggregator.setSharing", errors.New("sharing cannot be nil"))
	}
	_, err := call(ctx, a, func(s *state) int { return s.rotate(sharing) })
	return err
}

// SetEpoch retags the active sharing with a new epoch, evicting pending attestations from other epochs.
func (a *Aggregator) SetEpoch(ctx context.Context, epoch uint64) error {
	_, err := call(ctx, a, func(s *state) int { return s.rotate(s.sharing.WithEpoch(epoch)) })
	return err
}

// PendingCount returns the number of attestations still collecting partials.
func (a *Aggregator) PendingCount(ctx context.Context) (int, error) {
	return call(ctx, a, func(s *state) int { return len(s.pending) })
}

// PartialCount returns how many partials are recorded for hash, 0 if none are pending.
func (a *Aggregator) PartialCount(ctx context.Context, hash common.Hash) (int, error) {
	return call(ctx, a, func(s *state) int { return s.partialCount(hash) })
}

// RemovePending drops the pending attestation for hash and reports whether one existed.
func (a *Aggregator) RemovePending(ctx context.Context, hash common.Hash) (bool, error) {
	return call(ctx, a, func(s *state) bool { return s.removePending(hash) })
}

// Prune drops pending attestations older than maxAge and returns how many were removed.
func (a *Aggregator) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	return call(ctx, a, func(s *state) int { return s.prune(maxAge) })
}
