package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var errSubscriptionClosed = errors.New("subscription closed by remote")

type SupervisorConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime stops reconnecting after this long without a healthy run, 0 retries forever
	MaxElapsedTime time.Duration
	// HealthyRun is how long a run must last for the backoff to start over
	HealthyRun time.Duration
}

func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		MaxElapsedTime:  0,
		HealthyRun:      time.Minute,
	}
}

// Supervisor keeps a watcher running, reconnecting with exponential backoff after transport
// failures or remote subscription closes. Configuration errors are returned immediately.
type Supervisor struct {
	watcher IChainWatcher
	config  *SupervisorConfig
	logger  *zap.Logger
	metrics *metrics.ChainMetrics
}

func NewSupervisor(w IChainWatcher, cfg *SupervisorConfig, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if cfg == nil {
		cfg = DefaultSupervisorConfig()
	}
	return &Supervisor{
		watcher: w,
		config:  cfg,
		logger:  logger.With(zap.Uint64("chainId", w.ChainID())),
		metrics: m.ChainMetrics(w.ChainID()),
	}
}

// Run blocks until ctx is cancelled (nil), a non-retryable error occurs, or the backoff
// gives up, in which case the last watcher error is returned.
func (s *Supervisor) Run(ctx context.Context, out chan<- attestation.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.MaxElapsedTime = s.config.MaxElapsedTime
	b.Reset()

	operation := func() error {
		start := time.Now()
		err := s.watcher.Run(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if s.config.HealthyRun > 0 && time.Since(start) >= s.config.HealthyRun {
			b.Reset()
		}
		if err == nil {
			return errSubscriptionClosed
		}
		if bridgeErrors.Is(err, bridgeErrors.KindConfig) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.metrics.WatcherReconnect()
		s.logger.Sugar().Warnw("Watcher stopped, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.logger.Sugar().Errorw("Watcher supervisor giving up", zap.Error(err))
	}
	return err
}
