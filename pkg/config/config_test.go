package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/submitter"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
debug: true
chains:
  - chain_id: 1
    name: source
    rpc_url: http://localhost:8545
    ws_url: ws://localhost:8546
    bridge_address: "0x00000000000000000000000000000000000b41d9"
    finality_blocks: 12
  - chain_id: 10
    name: destination
    rpc_url: http://localhost:9545
    bridge_address: "0x00000000000000000000000000000000000b41da"
    poll_interval: 3s
signer:
  validator_index: 2
  epoch: 4
  validators: 5
  fault_model: n2f1
  share_file: /etc/sidecar/share.hex
  commitments:
COMMITMENTS
submitter:
  receipt_timeout: 90s
aggregator:
  verify_partials: true
  pending_ttl: 5m
metrics:
  enabled: true
`

func commitmentsYAML(t *testing.T, epoch uint64, n uint32, faults threshold.FaultModel) string {
	t.Helper()
	sharing, _, err := threshold.DealTrusted(rand.New(rand.NewSource(11)), epoch, n, faults)
	require.NoError(t, err)
	lines := make([]string, 0, sharing.Required())
	for _, c := range sharing.Commitments() {
		lines = append(lines, `    - "`+c+`"`)
	}
	return strings.Join(lines, "\n")
}

func validYAML(t *testing.T) string {
	return strings.Replace(baseConfig, "COMMITMENTS", commitmentsYAML(t, 4, 5, threshold.N2f1), 1)
}

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML(t)))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, []uint64{1, 10}, cfg.ChainIDs())

	source := cfg.Chains[0]
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000b41d9"), source.BridgeAddress)
	assert.Equal(t, uint64(12), source.FinalityBlocks)
	assert.Equal(t, chainManager.DefaultPollInterval, source.PollInterval)
	assert.Equal(t, "ws://localhost:8546", source.WSUrl)
	assert.Equal(t, 3*time.Second, cfg.Chains[1].PollInterval)

	sharing, err := cfg.Signer.Sharing()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), sharing.Epoch)
	assert.Equal(t, uint32(3), sharing.Required())
	assert.Equal(t, threshold.DefaultDST, cfg.Signer.DST)

	assert.Equal(t, 90*time.Second, cfg.Submitter.ReceiptTimeout)
	assert.Equal(t, submitter.DefaultReceiptPollInterval, cfg.Submitter.ReceiptPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Aggregator.PendingTTL)
	assert.Equal(t, DefaultMetricsListenAddr, cfg.Metrics.ListenAddr)

	aggCfg := cfg.AggregatorConfig()
	assert.True(t, aggCfg.VerifyPartials)
	assert.Equal(t, threshold.DefaultDST, aggCfg.DST)

	subCfg := cfg.SubmitterConfig(cfg.Chains[1])
	assert.Equal(t, uint64(10), subCfg.ChainID)
	assert.Equal(t, 90*time.Second, subCfg.ReceiptTimeout)

	supCfg := cfg.SupervisorConfig()
	assert.Equal(t, time.Second, supCfg.InitialInterval)
	assert.Equal(t, time.Duration(0), supCfg.MaxElapsedTime)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvTxPrivateKey, "0xabc")
	t.Setenv(EnvKeystorePassword, "hunter2")

	cfg, err := Parse([]byte(validYAML(t)))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cfg.TxSigner.PrivateKey)
	assert.Equal(t, "hunter2", cfg.Signer.KeystorePassword)
}

func TestParse_Invalid(t *testing.T) {
	valid := validYAML(t)
	tests := []struct {
		name    string
		yaml    string
		want    error
		message string
	}{
		{
			name: "no chains",
			yaml: "signer:\n  validators: 1\n",
			want: ErrNoChains,
		},
		{
			name: "duplicate chain",
			yaml: strings.Replace(valid, "chain_id: 10", "chain_id: 1", 1),
			want: ErrDuplicateChain,
		},
		{
			name:    "missing bridge address",
			yaml:    strings.Replace(valid, `bridge_address: "0x00000000000000000000000000000000000b41da"`, "", 1),
			message: "has no bridge_address",
		},
		{
			name:    "missing rpc url",
			yaml:    strings.Replace(valid, "rpc_url: http://localhost:9545", "", 1),
			message: "has no rpc_url",
		},
		{
			name: "validator index out of range",
			yaml: strings.Replace(valid, "validator_index: 2", "validator_index: 6", 1),
			want: ErrInvalidValidators,
		},
		{
			name: "commitments do not match fault model",
			yaml: strings.Replace(valid, "fault_model: n2f1", "fault_model: n3f1", 1),
			want: threshold.ErrInvalidSharing,
		},
		{
			name: "no share source",
			yaml: strings.Replace(valid, "share_file: /etc/sidecar/share.hex", "", 1),
			want: ErrNoShareSource,
		},
		{
			name: "two share sources",
			yaml: strings.Replace(valid, "share_file: /etc/sidecar/share.hex", "share_file: a\n  keystore_file: b", 1),
			want: ErrManyShareSources,
		},
		{
			name: "two tx signers",
			yaml: valid + "tx_signer:\n  aws_kms_key_id: alias/bridge\n",
			want: ErrManyTxSigners,
		},
		{
			name:    "negative timeout",
			yaml:    strings.Replace(valid, "receipt_timeout: 90s", "receipt_timeout: -1s", 1),
			message: "submitter.receipt_timeout must be positive",
		},
		{
			name:    "malformed yaml",
			yaml:    "chains: [",
			message: "unmarshal config error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == ErrManyTxSigners {
				t.Setenv(EnvTxPrivateKey, "0xabc")
			}
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML(t)), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.Signer.ValidatorIndex)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))
}
