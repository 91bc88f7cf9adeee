package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// pendingAttestation collects partials for one attestation hash until a quorum is reached.
type pendingAttestation struct {
	message   attestation.Message
	epoch     uint64
	createdAt time.Time
	partials  map[uint32]attestation.PartialSignature
}

func (p *pendingAttestation) sortedPartials() []attestation.PartialSignature {
	out := make([]attestation.PartialSignature, 0, len(p.partials))
	for _, partial := range p.partials {
		out = append(out, partial)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorIndex < out[j].ValidatorIndex })
	return out
}

// state is owned by the aggregator goroutine and never touched concurrently.
type state struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	sharing        *threshold.Sharing
	dst            []byte
	verifyPartials bool
	now            func() time.Time

	pending   map[common.Hash]*pendingAttestation
	completed *lru.Cache[common.Hash, struct{}]
}

func newState(sharing *threshold.Sharing, cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*state, error) {
	completed, err := lru.New[common.Hash, struct{}](cfg.CompletedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create completed cache: %w", err)
	}
	return &state{
		logger:         logger,
		metrics:        m,
		sharing:        sharing,
		dst:            []byte(cfg.DST),
		verifyPartials: cfg.VerifyPartials,
		now:            cfg.Clock,
		pending:        make(map[common.Hash]*pendingAttestation),
		completed:      completed,
	}, nil
}

func (s *state) addPartial(hash common.Hash, partial attestation.PartialSignature, msg attestation.Message) (*attestation.Attestation, error) {
	if s.completed.Contains(hash) {
		s.metrics.PartialReceived(metrics.PartialLate)
		return nil, nil
	}
	// a validator contributes once per hash, whatever else the repeated partial carries
	p, ok := s.pending[hash]
	if ok {
		if _, dup := p.partials[partial.ValidatorIndex]; dup {
			s.metrics.PartialReceived(metrics.PartialDuplicate)
			return nil, nil
		}
	}
	if partial.Epoch != s.sharing.Epoch {
		s.metrics.PartialReceived(metrics.PartialRejected)
		return nil, bridgeErrors.Aggregation("aggregator.addPartial",
			fmt.Errorf("%w: partial epoch %d, active epoch %d", ErrEpochMismatch, partial.Epoch, s.sharing.Epoch))
	}
	if partial.ValidatorIndex == 0 || partial.ValidatorIndex > s.sharing.Total {
		s.metrics.PartialReceived(metrics.PartialRejected)
		return nil, bridgeErrors.Aggregation("aggregator.addPartial",
			fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidIndex, partial.ValidatorIndex, s.sharing.Total))
	}
	if msg.AttestationHash() != hash {
		s.metrics.PartialReceived(metrics.PartialRejected)
		return nil, bridgeErrors.Aggregation("aggregator.addPartial", ErrHashMismatch)
	}

	if s.verifyPartials {
		if err := threshold.VerifyPartial(s.sharing, hash[:], partial, s.dst); err != nil {
			s.metrics.PartialReceived(metrics.PartialRejected)
			return nil, bridgeErrors.Aggregation("aggregator.addPartial", fmt.Errorf("%w: %v", ErrInvalidPartial, err))
		}
	}

	if !ok {
		p = &pendingAttestation{
			message:   msg,
			epoch:     s.sharing.Epoch,
			createdAt: s.now(),
			partials:  make(map[uint32]attestation.PartialSignature),
		}
		s.pending[hash] = p
	}
	p.partials[partial.ValidatorIndex] = partial
	s.metrics.PartialReceived(metrics.PartialAccepted)
	defer s.metrics.PendingAttestations(len(s.pending))

	s.logger.Sugar().Debugw("Recorded partial signature",
		zap.String("attestationHash", hash.Hex()),
		zap.Uint32("validatorIndex", partial.ValidatorIndex),
		zap.Int("partials", len(p.partials)),
		zap.Uint32("threshold", s.sharing.Required()),
	)

	if uint32(len(p.partials)) < s.sharing.Required() {
		return nil, nil
	}
	return s.tryRecover(hash, p), nil
}

func (s *state) tryRecover(hash common.Hash, p *pendingAttestation) *attestation.Attestation {
	sig, err := threshold.Recover(s.sharing, p.sortedPartials())
	if err == nil {
		err = threshold.VerifyGroup(s.sharing, hash[:], sig, s.dst)
	}
	if err != nil {
		s.metrics.Recovery(metrics.StatusFailed)
		s.logger.Sugar().Errorw("Failed to recover threshold signature",
			zap.String("attestationHash", hash.Hex()),
			zap.Int("partials", len(p.partials)),
			zap.Error(err),
		)
		s.dropInvalidPartials(hash, p)
		return nil
	}

	delete(s.pending, hash)
	s.completed.Add(hash, struct{}{})
	s.metrics.Recovery(metrics.StatusSuccess)
	s.logger.Sugar().Infow("Recovered threshold signature",
		zap.String("attestationHash", hash.Hex()),
		zap.Uint64("epoch", p.epoch),
		p.message.Field(),
	)
	return &attestation.Attestation{
		Hash:    hash,
		Message: p.message,
		Signature: attestation.AggregatedSignature{
			Signature: sig,
			Epoch:     p.epoch,
		},
	}
}

// dropInvalidPartials removes partials that do not verify on their own so that the next
// arriving partial gets a chance to complete the quorum with good shares only.
func (s *state) dropInvalidPartials(hash common.Hash, p *pendingAttestation) {
	for idx, partial := range p.partials {
		if err := threshold.VerifyPartial(s.sharing, hash[:], partial, s.dst); err != nil {
			s.logger.Sugar().Warnw("Dropping invalid partial signature",
				zap.String("attestationHash", hash.Hex()),
				zap.Uint32("validatorIndex", idx),
				zap.Error(err),
			)
			delete(p.partials, idx)
		}
	}
}

// rotate installs a new sharing and evicts pending attestations from other epochs.
func (s *state) rotate(sharing *threshold.Sharing) int {
	s.sharing = sharing
	evicted := 0
	for hash, p := range s.pending {
		if p.epoch != sharing.Epoch {
			delete(s.pending, hash)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Sugar().Infow("Evicted pending attestations from previous epoch",
			zap.Uint64("epoch", sharing.Epoch),
			zap.Int("evicted", evicted),
		)
	}
	s.metrics.PendingAttestations(len(s.pending))
	return evicted
}

func (s *state) removePending(hash common.Hash) bool {
	_, ok := s.pending[hash]
	delete(s.pending, hash)
	s.metrics.PendingAttestations(len(s.pending))
	return ok
}

func (s *state) partialCount(hash common.Hash) int {
	if p, ok := s.pending[hash]; ok {
		return len(p.partials)
	}
	return 0
}

func (s *state) prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	pruned := 0
	for hash, p := range s.pending {
		if p.createdAt.Before(cutoff) {
			s.logger.Sugar().Warnw("Pruning stale pending attestation",
				zap.String("attestationHash", hash.Hex()),
				zap.Int("partials", len(p.partials)),
				p.message.Field(),
			)
			delete(s.pending, hash)
			pruned++
		}
	}
	s.metrics.PendingAttestations(len(s.pending))
	return pruned
}
