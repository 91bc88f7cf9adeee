package submitter

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeContract"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/chainManager"
	"github.com/Layr-Labs/attestation-sidecar/pkg/eip2537"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/Layr-Labs/attestation-sidecar/pkg/txSigner"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	bridgeAddress = common.HexToAddress("0x00000000000000000000000000000000000b41d9")
	writeSelector = crypto.Keccak256([]byte("write(address,bytes32,uint64,bytes)"))[:4]
)

func testMessage() attestation.Message {
	return attestation.Message{
		Sender:             common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		MessageHash:        common.HexToHash("0xfeed"),
		OriginChainID:      1,
		DestinationChainID: 10,
	}
}

func testSignature(t *testing.T, msg attestation.Message) attestation.AggregatedSignature {
	t.Helper()
	sharing, shares, err := threshold.DealTrusted(rand.New(rand.NewSource(3)), 2, 4, threshold.N3f1)
	require.NoError(t, err)

	hash := msg.AttestationHash()
	partials := make([]attestation.PartialSignature, 0, len(shares))
	for _, share := range shares {
		sig, err := share.Sign(hash[:], []byte(threshold.DefaultDST))
		require.NoError(t, err)
		partials = append(partials, attestation.PartialSignature{ValidatorIndex: share.Index, Epoch: 2, Signature: sig})
	}
	sig, err := threshold.Recover(sharing, partials)
	require.NoError(t, err)
	return attestation.AggregatedSignature{Signature: sig, Epoch: 2}
}

type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

func revertWithReason(t *testing.T, reason string) error {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return &revertError{data: hexutil.Encode(append(selector, packed...))}
}

func isWriteCall(call ethereum.CallMsg) bool {
	return call.To != nil && *call.To == bridgeAddress && bytes.Equal(call.Data[:4], writeSelector)
}

func newTestSubmitter(t *testing.T, client chainManager.EthClientInterface, signer txSigner.ITransactionSigner, cfg *SubmitterConfig) *Submitter {
	t.Helper()
	if cfg == nil {
		cfg = &SubmitterConfig{}
	}
	cfg.ChainID = 10
	cfg.BridgeAddress = bridgeAddress
	s, err := NewSubmitter(cfg, client, signer, zap.NewNop(), metrics.NewMetrics())
	require.NoError(t, err)
	return s
}

func TestSubmitter_SimulationSuccess(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	msg := testMessage()
	sig := testSignature(t, msg)
	encoded, err := eip2537.G1ToEIP2537(sig.Signature)
	require.NoError(t, err)
	expectedData, err := bridgeContract.PackWrite(msg, encoded[:])
	require.NoError(t, err)

	client.On("CallContract", mock.Anything, mock.MatchedBy(func(call ethereum.CallMsg) bool {
		return isWriteCall(call) && bytes.Equal(call.Data, expectedData)
	}), (*big.Int)(nil)).Return([]byte{}, nil).Once()

	s := newTestSubmitter(t, client, nil, nil)
	assert.False(t, s.HasSigner())
	assert.Equal(t, uint64(10), s.ChainID())

	hash, err := s.Submit(context.Background(), msg, sig)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
}

func TestSubmitter_SimulationErrors(t *testing.T) {
	msg := testMessage()
	sig := testSignature(t, msg)

	tests := []struct {
		name       string
		callErr    error
		kind       bridgeErrors.Kind
		reverted   bool
		wantReason string
	}{
		{name: "revert with reason", callErr: revertWithReason(t, "already delivered"), kind: bridgeErrors.KindSubmission, reverted: true, wantReason: "already delivered"},
		{name: "revert without data", callErr: errors.New("execution reverted"), kind: bridgeErrors.KindSubmission, reverted: true},
		{name: "transport failure", callErr: errors.New("connection refused"), kind: bridgeErrors.KindRPC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := chainManager.NewMockEthClientInterface(t)
			client.On("CallContract", mock.Anything, mock.MatchedBy(isWriteCall), (*big.Int)(nil)).Return(nil, tt.callErr).Once()

			s := newTestSubmitter(t, client, nil, nil)
			hash, err := s.Submit(context.Background(), msg, sig)
			require.Error(t, err)
			assert.Equal(t, common.Hash{}, hash)
			assert.Equal(t, tt.kind, bridgeErrors.KindOf(err))
			assert.Equal(t, tt.reverted, errors.Is(err, bridgeErrors.ErrReverted))
			if tt.wantReason != "" {
				assert.Contains(t, err.Error(), tt.wantReason)
			}
		})
	}
}

func TestSubmitter_RejectsBadInput(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	s := newTestSubmitter(t, client, nil, nil)
	msg := testMessage()

	other := msg
	other.DestinationChainID = 11
	_, err := s.Submit(context.Background(), other, testSignature(t, other))
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))

	_, err = s.Submit(context.Background(), msg, attestation.AggregatedSignature{})
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindCrypto))
	client.AssertNotCalled(t, "CallContract", mock.Anything, mock.Anything, mock.Anything)
}

func expectLiveSetup(client *chainManager.MockEthClientInterface, from common.Address) {
	client.On("PendingNonceAt", mock.Anything, from).Return(uint64(7), nil).Once()
	client.On("SuggestGasTipCap", mock.Anything).Return(nil, errors.New("method not found")).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil).Once()
	client.On("EstimateGas", mock.Anything, mock.MatchedBy(isWriteCall)).Return(uint64(100_000), nil).Once()
}

func TestSubmitter_LiveSuccess(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	from, _ := signer.GetAddress()

	msg := testMessage()
	sig := testSignature(t, msg)

	expectLiveSetup(client, from)
	var sent *types.Transaction
	client.On("SendTransaction", mock.Anything, mock.AnythingOfType("*types.Transaction")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*types.Transaction) }).
		Return(nil).Once()
	client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound).Once()
	client.On("TransactionReceipt", mock.Anything, mock.Anything).
		Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)}, nil).Once()

	s := newTestSubmitter(t, client, signer, &SubmitterConfig{ReceiptPollInterval: 5 * time.Millisecond})
	assert.True(t, s.HasSigner())

	hash, err := s.Submit(context.Background(), msg, sig)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, sent.Hash(), hash)

	assert.Equal(t, uint8(types.DynamicFeeTxType), sent.Type())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, uint64(120_000), sent.Gas())
	assert.Zero(t, FallbackGasTipCap.Cmp(sent.GasTipCap()))
	// 1.5 * 10 gwei basefee + 15 gwei tip
	assert.Zero(t, big.NewInt(30_000_000_000).Cmp(sent.GasFeeCap()))
	assert.Equal(t, bridgeAddress, *sent.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(10)), sent)
	require.NoError(t, err)
	assert.Equal(t, from, sender)
}

func TestSubmitter_LiveRevertedReceipt(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	from, _ := signer.GetAddress()
	msg := testMessage()

	expectLiveSetup(client, from)
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil).Once()
	client.On("TransactionReceipt", mock.Anything, mock.Anything).
		Return(&types.Receipt{Status: types.ReceiptStatusFailed}, nil).Once()

	s := newTestSubmitter(t, client, signer, nil)
	hash, err := s.Submit(context.Background(), msg, testSignature(t, msg))
	require.Error(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindSubmission))
	assert.ErrorIs(t, err, bridgeErrors.ErrReverted)

	txHash, ok := bridgeErrors.TxHashOf(err)
	require.True(t, ok)
	assert.Equal(t, hash, txHash)
}

func TestSubmitter_LiveReceiptTimeout(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	from, _ := signer.GetAddress()
	msg := testMessage()

	expectLiveSetup(client, from)
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil).Once()
	client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound)

	s := newTestSubmitter(t, client, signer, &SubmitterConfig{
		ReceiptTimeout:      50 * time.Millisecond,
		ReceiptPollInterval: 5 * time.Millisecond,
	})
	hash, err := s.Submit(context.Background(), msg, testSignature(t, msg))
	require.Error(t, err)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindTimeout))
	assert.ErrorIs(t, err, bridgeErrors.ErrReceiptTimeout)
	assert.False(t, errors.Is(err, bridgeErrors.ErrReverted))
	assert.True(t, bridgeErrors.IsRetryable(err))

	txHash, ok := bridgeErrors.TxHashOf(err)
	require.True(t, ok)
	assert.Equal(t, hash, txHash)
}

func TestSubmitter_LiveEstimateGasRevert(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	from, _ := signer.GetAddress()
	msg := testMessage()

	client.On("PendingNonceAt", mock.Anything, from).Return(uint64(1), nil).Once()
	client.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(1), nil).Once()
	client.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(2)}, nil).Once()
	client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), revertWithReason(t, "replay")).Once()

	s := newTestSubmitter(t, client, signer, nil)
	_, err = s.Submit(context.Background(), msg, testSignature(t, msg))
	require.Error(t, err)
	assert.ErrorIs(t, err, bridgeErrors.ErrReverted)
	assert.Contains(t, err.Error(), "replay")
	client.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestNewSubmitter_Validation(t *testing.T) {
	client := chainManager.NewMockEthClientInterface(t)

	_, err := NewSubmitter(nil, client, nil, zap.NewNop(), nil)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))

	_, err = NewSubmitter(&SubmitterConfig{ChainID: 1, BridgeAddress: bridgeAddress}, nil, nil, zap.NewNop(), nil)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))

	_, err = NewSubmitter(&SubmitterConfig{ChainID: 1}, client, nil, zap.NewNop(), nil)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))

	s, err := NewSubmitter(&SubmitterConfig{ChainID: 1, BridgeAddress: bridgeAddress}, client, nil, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultReceiptTimeout, s.config.ReceiptTimeout)
	assert.Equal(t, DefaultReceiptPollInterval, s.config.ReceiptPollInterval)
}
