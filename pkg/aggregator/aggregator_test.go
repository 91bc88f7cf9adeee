package aggregator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/metrics"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testDST = []byte(threshold.DefaultDST)

func testMessage(nonce byte) attestation.Message {
	return attestation.Message{
		Sender:             common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		MessageHash:        common.BytesToHash([]byte{nonce}),
		OriginChainID:      1,
		DestinationChainID: 10,
	}
}

type fixture struct {
	sharing *threshold.Sharing
	shares  []*threshold.Share
	agg     *Aggregator
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	sharing, shares, err := threshold.DealTrusted(rand.New(rand.NewSource(42)), 1, 5, threshold.N2f1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), sharing.Required())

	agg, err := NewAggregator(sharing, cfg, zap.NewNop(), metrics.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(agg.Close)
	return &fixture{sharing: sharing, shares: shares, agg: agg}
}

func (f *fixture) partial(t *testing.T, validator int, hash common.Hash) attestation.PartialSignature {
	t.Helper()
	share := f.shares[validator-1]
	sig, err := share.Sign(hash[:], testDST)
	require.NoError(t, err)
	return attestation.PartialSignature{ValidatorIndex: share.Index, Epoch: f.sharing.Epoch, Signature: sig}
}

func TestAggregator_RecoversOnQuorum(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(1)
	hash := msg.AttestationHash()

	required, err := f.agg.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), required)

	res, err := f.agg.AddPartial(ctx, hash, f.partial(t, 1, hash), msg)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.agg.AddPartial(ctx, hash, f.partial(t, 3, hash), msg)
	require.NoError(t, err)
	assert.Nil(t, res)

	count, err := f.agg.PartialCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	res, err = f.agg.AddPartial(ctx, hash, f.partial(t, 5, hash), msg)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, hash, res.Hash)
	assert.Equal(t, msg, res.Message)
	assert.Equal(t, uint64(1), res.Signature.Epoch)
	require.NoError(t, threshold.VerifyGroup(f.sharing, hash[:], res.Signature.Signature, testDST))

	// late partial after completion is ignored
	res, err = f.agg.AddPartial(ctx, hash, f.partial(t, 2, hash), msg)
	require.NoError(t, err)
	assert.Nil(t, res)

	pending, err := f.agg.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestAggregator_DuplicatePartialIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(2)
	hash := msg.AttestationHash()
	p := f.partial(t, 2, hash)

	for i := 0; i < 3; i++ {
		res, err := f.agg.AddPartial(ctx, hash, p, msg)
		require.NoError(t, err)
		assert.Nil(t, res)
	}

	// a repeat from the same validator is ignored even when its epoch is stale
	stale := p
	stale.Epoch = 7
	res, err := f.agg.AddPartial(ctx, hash, stale, msg)
	require.NoError(t, err)
	assert.Nil(t, res)

	count, err := f.agg.PartialCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAggregator_RejectsBadPartials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(3)
	hash := msg.AttestationHash()

	wrongEpoch := f.partial(t, 1, hash)
	wrongEpoch.Epoch = 7

	outOfRange := f.partial(t, 1, hash)
	outOfRange.ValidatorIndex = 6

	zeroIndex := f.partial(t, 1, hash)
	zeroIndex.ValidatorIndex = 0

	tests := []struct {
		name    string
		hash    common.Hash
		partial attestation.PartialSignature
		want    error
	}{
		{name: "epoch mismatch", hash: hash, partial: wrongEpoch, want: ErrEpochMismatch},
		{name: "index above total", hash: hash, partial: outOfRange, want: ErrInvalidIndex},
		{name: "zero index", hash: hash, partial: zeroIndex, want: ErrInvalidIndex},
		{name: "hash does not match message", hash: common.HexToHash("0xdead"), partial: f.partial(t, 1, hash), want: ErrHashMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.agg.AddPartial(ctx, tt.hash, tt.partial, msg)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindAggregation))
		})
	}

	pending, err := f.agg.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestAggregator_VerifyPartialsRejectsForgery(t *testing.T) {
	f := newFixture(t, &Config{VerifyPartials: true})
	ctx := context.Background()
	msg := testMessage(4)
	hash := msg.AttestationHash()

	other := testMessage(5).AttestationHash()
	forged := f.partial(t, 1, other)

	_, err := f.agg.AddPartial(ctx, hash, forged, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPartial)

	count, err := f.agg.PartialCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAggregator_BadPartialDroppedAfterFailedRecovery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(6)
	hash := msg.AttestationHash()

	forged := f.partial(t, 1, testMessage(7).AttestationHash())

	res, err := f.agg.AddPartial(ctx, hash, forged, msg)
	require.NoError(t, err)
	assert.Nil(t, res)
	_, err = f.agg.AddPartial(ctx, hash, f.partial(t, 2, hash), msg)
	require.NoError(t, err)

	// quorum reached but recovery fails verification; the entry stays pending
	res, err = f.agg.AddPartial(ctx, hash, f.partial(t, 3, hash), msg)
	require.NoError(t, err)
	assert.Nil(t, res)

	count, err := f.agg.PartialCount(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	res, err = f.agg.AddPartial(ctx, hash, f.partial(t, 4, hash), msg)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NoError(t, threshold.VerifyGroup(f.sharing, hash[:], res.Signature.Signature, testDST))
}

func TestAggregator_ConcurrentPartialsYieldOneResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(8)
	hash := msg.AttestationHash()

	partials := make([]attestation.PartialSignature, 5)
	for i := range partials {
		partials[i] = f.partial(t, i+1, hash)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*attestation.Attestation
	)
	for _, p := range partials {
		wg.Add(1)
		go func(p attestation.PartialSignature) {
			defer wg.Done()
			res, err := f.agg.AddPartial(ctx, hash, p, msg)
			assert.NoError(t, err)
			if res != nil {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	require.Len(t, results, 1)
	require.NoError(t, threshold.VerifyGroup(f.sharing, hash[:], results[0].Signature.Signature, testDST))
}

func TestAggregator_SetEpochEvictsPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := testMessage(9)
	hash := msg.AttestationHash()

	_, err := f.agg.AddPartial(ctx, hash, f.partial(t, 1, hash), msg)
	require.NoError(t, err)

	require.NoError(t, f.agg.SetEpoch(ctx, 2))

	pending, err := f.agg.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	epoch, err := f.agg.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), epoch)

	_, err = f.agg.AddPartial(ctx, hash, f.partial(t, 2, hash), msg)
	assert.ErrorIs(t, err, ErrEpochMismatch)

	next := f.partial(t, 2, hash)
	next.Epoch = 2
	res, err := f.agg.AddPartial(ctx, hash, next, msg)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAggregator_SetSharing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sharing, _, err := threshold.DealTrusted(rand.New(rand.NewSource(7)), 3, 7, threshold.N3f1)
	require.NoError(t, err)
	require.NoError(t, f.agg.SetSharing(ctx, sharing))

	required, err := f.agg.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), required)

	assert.Error(t, f.agg.SetSharing(ctx, nil))
}

func TestAggregator_PruneAndRemove(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, &Config{Clock: clock})
	ctx := context.Background()

	oldMsg := testMessage(10)
	oldHash := oldMsg.AttestationHash()
	_, err := f.agg.AddPartial(ctx, oldHash, f.partial(t, 1, oldHash), oldMsg)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()

	newMsg := testMessage(11)
	newHash := newMsg.AttestationHash()
	_, err = f.agg.AddPartial(ctx, newHash, f.partial(t, 1, newHash), newMsg)
	require.NoError(t, err)

	pruned, err := f.agg.Prune(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	removed, err := f.agg.RemovePending(ctx, newHash)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.agg.RemovePending(ctx, newHash)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAggregator_Closed(t *testing.T) {
	sharing, _, err := threshold.DealTrusted(rand.New(rand.NewSource(1)), 1, 4, threshold.N3f1)
	require.NoError(t, err)
	agg, err := NewAggregator(sharing, nil, zap.NewNop(), nil)
	require.NoError(t, err)

	agg.Close()
	agg.Close()

	_, err = agg.PendingCount(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestAggregator_CancelledContext(t *testing.T) {
	f := newFixture(t, &Config{MailboxSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the mailbox may still accept the call; either outcome is valid but it must not hang
	_, err := f.agg.PendingCount(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestNewAggregator_NilSharing(t *testing.T) {
	_, err := NewAggregator(nil, nil, zap.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, bridgeErrors.Is(err, bridgeErrors.KindConfig))
}
