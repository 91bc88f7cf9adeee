package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// NewHandler returns the metrics and health endpoints wrapped in request logging.
func NewHandler(gatherer prometheus.Gatherer, l *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return logger.HttpLoggerMiddleware(mux, l)
}

// Serve runs the metrics server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, listenAddr string, gatherer prometheus.Gatherer, l *zap.Logger) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(gatherer, l),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Sugar().Infow("metrics server listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Sugar().Errorw("failed graceful shutdown of metrics server", zap.Error(err))
		return err
	}
	l.Sugar().Infow("metrics server gracefully shutdown")
	return nil
}
