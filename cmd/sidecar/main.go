package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Layr-Labs/attestation-sidecar/pkg/aggregator"
	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/blsSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/blsSigner/awsSMBLSSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/config"
	"github.com/Layr-Labs/attestation-sidecar/pkg/eip2537"
	"github.com/Layr-Labs/attestation-sidecar/pkg/logger"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/sidecar"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/Layr-Labs/attestation-sidecar/pkg/txSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	app := &cli.App{
		Name:  "sidecar",
		Usage: "Cross-chain attestation bridge sidecar",
		Description: `The sidecar watches bridge contracts on the configured chains, signs a partial
BLS signature for every MessageSent event, aggregates partials from a quorum of validators
and submits the group signature to the destination bridge.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "bridge-sidecar.yaml",
				EnvVars: []string{"BRIDGE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the bridge sidecar",
				Description: `Connect to every configured chain, watch for MessageSent events and
deliver attestations until interrupted. Without a transaction signer the sidecar only
simulates the bridge call on the destination chain.`,
				Action: runAction,
			},
			{
				Name:   "pubkey",
				Usage:  "Print the validator share public key and the group public key",
				Action: pubkeyAction,
			},
			{
				Name:  "attestation-hash",
				Usage: "Compute the attestation hash validators sign for a message",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sender", Usage: "Message sender address", Required: true},
					&cli.StringFlag{Name: "message-hash", Usage: "32 byte message hash", Required: true},
					&cli.Uint64Flag{Name: "origin", Usage: "Origin chain id", Required: true},
					&cli.Uint64Flag{Name: "destination", Usage: "Destination chain id", Required: true},
				},
				Action: attestationHashAction,
			},
			{
				Name:  "deal",
				Usage: "Generate a trusted-dealer sharing for a devnet",
				Description: `Generate key shares for every validator and print the signer section
with the public commitments. Shares are written as hex files into the output directory.
Production keys come from the consensus DKG; this is for devnets and tests only.`,
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "validators", Aliases: []string{"n"}, Usage: "Number of validators", Required: true},
					&cli.Uint64Flag{Name: "epoch", Usage: "Sharing epoch", Value: 1},
					&cli.StringFlag{Name: "fault-model", Usage: "n3f1 or n2f1", Value: "n3f1"},
					&cli.StringFlag{Name: "out", Usage: "Directory to write share files to", Value: "."},
				},
				Action: dealAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context, cfg *config.Config) (*zap.Logger, error) {
	debug := c.Bool("debug")
	if cfg != nil {
		debug = debug || cfg.Debug
	}
	return logger.NewLogger(&logger.LoggerConfig{
		Debug: debug,
	})
}

func setupChainManager(ctx context.Context, cfg *config.Config, l *zap.Logger) (*chainManager.ChainManager, error) {
	cm := chainManager.NewChainManager(l)
	for _, chainConfig := range cfg.Chains {
		if err := cm.AddChain(ctx, chainConfig); err != nil {
			cm.Close()
			return nil, fmt.Errorf("failed to add chain %d: %w", chainConfig.ChainID, err)
		}
	}
	return cm, nil
}

// setupTransactionSigner returns nil when no signing key is configured, which selects
// simulation mode.
func setupTransactionSigner(ctx context.Context, cfg *config.Config) (txSigner.ITransactionSigner, error) {
	if cfg.TxSigner.PrivateKey != "" {
		return txSigner.NewPrivateKeySigner(cfg.TxSigner.PrivateKey)
	}
	if cfg.TxSigner.AWSKMSKeyID != "" {
		return txSigner.NewAWSKMSSigner(ctx, cfg.TxSigner.AWSKMSKeyID, cfg.TxSigner.AWSRegion)
	}
	return nil, nil
}

func setupBLSSigner(ctx context.Context, cfg *config.Config, sharing *threshold.Sharing, l *zap.Logger) (*blsSigner.InMemoryBLSSigner, error) {
	sc := cfg.Signer
	opts := []blsSigner.Option{blsSigner.WithDST(sc.DST)}

	if sc.AWSSecretName != "" {
		loader, err := awsSMBLSSigner.NewAWSSMBLSSigner(&awsSMBLSSigner.AWSSMBLSSignerConfig{
			Region:           sc.AWSRegion,
			SecretName:       sc.AWSSecretName,
			KeystorePassword: sc.KeystorePassword,
			ValidatorIndex:   sc.ValidatorIndex,
		}, l)
		if err != nil {
			return nil, err
		}
		return loader.LoadSigner(ctx, sharing, opts...)
	}

	var share *threshold.Share
	var err error
	if sc.KeystoreFile != "" {
		share, err = blsSigner.LoadShareFromKeystoreFile(sc.KeystoreFile, sc.KeystorePassword, sc.ValidatorIndex)
	} else {
		share, err = blsSigner.LoadShareFile(sc.ShareFile)
	}
	if err != nil {
		return nil, err
	}
	if share.Index != sc.ValidatorIndex {
		return nil, fmt.Errorf("share index %d does not match configured validator index %d", share.Index, sc.ValidatorIndex)
	}
	return blsSigner.FromShare(share, sharing, opts...)
}

func setupMetrics(ctx context.Context, cfg *config.Config, l *zap.Logger) (*metrics.Metrics, error) {
	m := metrics.NewMetrics()
	if !cfg.Metrics.Enabled {
		return m, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Init(reg, prometheus.Labels{"validator": fmt.Sprint(cfg.Signer.ValidatorIndex)}); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg, l); err != nil {
			l.Sugar().Errorw("Metrics server failed", zap.Error(err))
		}
	}()
	return m, nil
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	l, err := setupLogger(c, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sharing, err := cfg.Signer.Sharing()
	if err != nil {
		return fmt.Errorf("failed to build sharing: %w", err)
	}
	blsSig, err := setupBLSSigner(ctx, cfg, sharing, l)
	if err != nil {
		return fmt.Errorf("failed to setup BLS signer: %w", err)
	}
	txSig, err := setupTransactionSigner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup transaction signer: %w", err)
	}
	m, err := setupMetrics(ctx, cfg, l)
	if err != nil {
		return err
	}

	cm, err := setupChainManager(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to setup chain manager: %w", err)
	}
	defer cm.Close()

	chains := cm.Chains()
	watchers, err := sidecar.NewWatchers(chains, l, m)
	if err != nil {
		return fmt.Errorf("failed to create watchers: %w", err)
	}
	submitters, err := sidecar.NewSubmitters(chains, cfg.SubmitterConfig, txSig, l, m)
	if err != nil {
		return fmt.Errorf("failed to create submitters: %w", err)
	}

	agg, err := aggregator.NewAggregator(sharing, cfg.AggregatorConfig(), l, m)
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}
	defer agg.Close()

	s, err := sidecar.New(&sidecar.Config{
		PendingTTL:    cfg.Aggregator.PendingTTL,
		SubmitRetries: sidecar.DefaultSubmitRetries,
		Supervisor:    cfg.SupervisorConfig(),
	}, &sidecar.Deps{
		Watchers:   watchers,
		Submitters: submitters,
		Signer:     blsSig,
		Aggregator: agg,
		Network:    sidecar.NewLoopbackHub(0).Join(),
		Metrics:    m,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to create sidecar: %w", err)
	}

	l.Sugar().Infow("Starting bridge sidecar",
		zap.Strings("chains", util.Map(cfg.Chains, func(chain *chainManager.ChainConfig, _ uint64) string {
			return chain.Label()
		})),
		zap.Uint64s("chainIds", cfg.ChainIDs()),
		zap.Int("streamingChains", len(util.Filter(cfg.Chains, func(chain *chainManager.ChainConfig) bool {
			return chain.WSUrl != ""
		}))),
		zap.Uint64("epoch", sharing.Epoch),
		zap.Uint32("validatorIndex", blsSig.ValidatorIndex()),
		zap.Uint32("threshold", sharing.Required()),
		zap.Bool("simulation", txSig == nil),
	)
	return s.Run(ctx)
}

func pubkeyAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	l, err := setupLogger(c, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	sharing, err := cfg.Signer.Sharing()
	if err != nil {
		return err
	}
	blsSig, err := setupBLSSigner(c.Context, cfg, sharing, l)
	if err != nil {
		return fmt.Errorf("failed to setup BLS signer: %w", err)
	}
	sharePK, err := blsSig.GetPublicKey()
	if err != nil {
		return err
	}
	expected, err := sharing.PartialPublicKey(blsSig.ValidatorIndex())
	if err != nil {
		return err
	}
	if sharePK != expected {
		return fmt.Errorf("share %d does not belong to the configured sharing", blsSig.ValidatorIndex())
	}
	groupPK := sharing.PublicKey()
	groupPKEIP2537, err := eip2537.G2ToEIP2537(groupPK)
	if err != nil {
		return fmt.Errorf("failed to encode group public key: %w", err)
	}

	fmt.Printf("validator_index: %d\n", blsSig.ValidatorIndex())
	fmt.Printf("epoch: %d\n", sharing.Epoch)
	fmt.Printf("threshold: %d of %d\n", sharing.Required(), sharing.Total)
	fmt.Printf("share_public_key: 0x%s\n", hex.EncodeToString(sharePK[:]))
	fmt.Printf("group_public_key: 0x%s\n", hex.EncodeToString(groupPK[:]))
	fmt.Printf("group_public_key_eip2537: 0x%s\n", hex.EncodeToString(groupPKEIP2537[:]))
	return nil
}

func attestationHashAction(c *cli.Context) error {
	sender := c.String("sender")
	if !common.IsHexAddress(sender) {
		return fmt.Errorf("invalid sender address: %s", sender)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(c.String("message-hash"), "0x"))
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("message hash must be 32 hex encoded bytes")
	}
	msg := attestation.Message{
		Sender:             common.HexToAddress(sender),
		MessageHash:        common.BytesToHash(raw),
		OriginChainID:      c.Uint64("origin"),
		DestinationChainID: c.Uint64("destination"),
	}
	fmt.Println(msg.AttestationHash().Hex())
	return nil
}

func dealAction(c *cli.Context) error {
	faults, err := threshold.ParseFaultModel(c.String("fault-model"))
	if err != nil {
		return err
	}
	sharing, shares, err := threshold.DealTrusted(nil, c.Uint64("epoch"), uint32(c.Uint("validators")), faults)
	if err != nil {
		return fmt.Errorf("failed to deal shares: %w", err)
	}

	out := c.String("out")
	if err := os.MkdirAll(out, 0o700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, share := range shares {
		path := filepath.Join(out, fmt.Sprintf("share-%d.hex", share.Index))
		if err := os.WriteFile(path, []byte("0x"+hex.EncodeToString(share.Encode())+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write share %d: %w", share.Index, err)
		}
	}

	section := map[string]config.SignerConfig{
		"signer": {
			Epoch:       sharing.Epoch,
			Validators:  sharing.Total,
			FaultModel:  faults.String(),
			Commitments: sharing.Commitments(),
		},
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(section); err != nil {
		return err
	}
	return enc.Close()
}
