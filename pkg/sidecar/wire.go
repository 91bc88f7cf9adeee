package sidecar

import (
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/submitter"
	"github.com/Layr-Labs/attestation-sidecar/pkg/txSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/watcher"
	"go.uber.org/zap"
)

// NewWatchers creates a watcher for the bridge contract on every chain.
func NewWatchers(chains []*chainManager.Chain, logger *zap.Logger, m *metrics.Metrics) ([]watcher.IChainWatcher, error) {
	out := make([]watcher.IChainWatcher, 0, len(chains))
	for _, chain := range chains {
		w, err := watcher.NewChainWatcher(chain, logger, m)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// NewSubmitters creates a submitter for every chain. A nil signer puts all of them in
// simulation mode.
func NewSubmitters(
	chains []*chainManager.Chain,
	configFor func(*chainManager.ChainConfig) *submitter.SubmitterConfig,
	signer txSigner.ITransactionSigner,
	logger *zap.Logger,
	m *metrics.Metrics,
) ([]submitter.ISubmitter, error) {
	out := make([]submitter.ISubmitter, 0, len(chains))
	for _, chain := range chains {
		sub, err := submitter.NewSubmitter(configFor(chain.Config), chain.RPCClient, signer, logger, m)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}
