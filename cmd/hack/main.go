package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/aggregator"
	"github.com/Layr-Labs/attestation-sidecar/pkg/blsSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/logger"
	"github.com/Layr-Labs/attestation-sidecar/pkg/sidecar"
	"github.com/Layr-Labs/attestation-sidecar/pkg/submitter"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runs a small validator set in one process against two local anvil nodes, in simulation mode.
var (
	validators = uint32(3)
	faultModel = threshold.N2f1

	sourceChain = &chainManager.ChainConfig{
		ChainID:       31337,
		Name:          "anvil-source",
		RPCUrl:        "http://localhost:8545",
		WSUrl:         "ws://localhost:8545",
		BridgeAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	}
	destinationChain = &chainManager.ChainConfig{
		ChainID:       31338,
		Name:          "anvil-destination",
		RPCUrl:        "http://localhost:9545",
		BridgeAddress: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		PollInterval:  2 * time.Second,
	}
)

func main() {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: true})
	if err != nil {
		panic(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cm := chainManager.NewChainManager(l)
	defer cm.Close()
	for _, cfg := range []*chainManager.ChainConfig{sourceChain, destinationChain} {
		if err := cm.AddChain(ctx, cfg); err != nil {
			l.Sugar().Fatalf("Failed to add chain %d: %v", cfg.ChainID, err)
		}
	}

	sharing, shares, err := threshold.DealTrusted(nil, 1, validators, faultModel)
	if err != nil {
		l.Sugar().Fatalf("Failed to deal shares: %v", err)
	}
	groupKey := sharing.PublicKey()
	l.Sugar().Infow("Dealt devnet sharing",
		zap.Uint32("validators", validators),
		zap.Uint32("threshold", sharing.Required()),
		zap.String("groupPublicKey", common.Bytes2Hex(groupKey[:])),
	)

	// every member joins before any sidecar starts so the hub already spans the quorum
	hub := sidecar.NewLoopbackHub(0)
	networks := make([]*sidecar.LoopbackNetwork, len(shares))
	for i := range shares {
		networks[i] = hub.Join()
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, share := range shares {
		vl := l.With(zap.Uint32("validator", share.Index))

		signer, err := blsSigner.FromShare(share, sharing)
		if err != nil {
			l.Sugar().Fatalf("Failed to create signer %d: %v", share.Index, err)
		}
		agg, err := aggregator.NewAggregator(sharing, &aggregator.Config{VerifyPartials: true}, vl, nil)
		if err != nil {
			l.Sugar().Fatalf("Failed to create aggregator: %v", err)
		}
		defer agg.Close()

		// every validator watches the source chain and delivers to the destination chain
		source, err := cm.GetChainForId(sourceChain.ChainID)
		if err != nil {
			l.Sugar().Fatalf("Failed to get chain: %v", err)
		}
		destination, err := cm.GetChainForId(destinationChain.ChainID)
		if err != nil {
			l.Sugar().Fatalf("Failed to get chain: %v", err)
		}
		watchers, err := sidecar.NewWatchers([]*chainManager.Chain{source}, vl, nil)
		if err != nil {
			l.Sugar().Fatalf("Failed to create watcher: %v", err)
		}
		submitters, err := sidecar.NewSubmitters([]*chainManager.Chain{destination},
			func(c *chainManager.ChainConfig) *submitter.SubmitterConfig {
				return &submitter.SubmitterConfig{ChainID: c.ChainID, BridgeAddress: c.BridgeAddress}
			}, nil, vl, nil)
		if err != nil {
			l.Sugar().Fatalf("Failed to create submitter: %v", err)
		}

		s, err := sidecar.New(&sidecar.Config{PendingTTL: time.Minute}, &sidecar.Deps{
			Watchers:   watchers,
			Submitters: submitters,
			Signer:     signer,
			Aggregator: agg,
			Network:    networks[i],
		}, vl)
		if err != nil {
			l.Sugar().Fatalf("Failed to create sidecar: %v", err)
		}
		g.Go(func() error { return s.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		l.Sugar().Fatalf("Devnet stopped: %v", err)
	}
}
