package awsSMBLSSigner

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSecretsManager struct {
	secretsmanageriface.SecretsManagerAPI
	mock.Mock
}

func (m *mockSecretsManager) GetSecretValueWithContext(ctx aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func TestAWSSMBLSSigner_LoadSigner(t *testing.T) {
	sharing, shares, err := threshold.DealTrusted(rand.New(rand.NewSource(21)), 4, 4, threshold.N3f1)
	require.NoError(t, err)

	client := &mockSecretsManager{}
	client.On("GetSecretValueWithContext", mock.Anything, mock.MatchedBy(func(in *secretsmanager.GetSecretValueInput) bool {
		return aws.StringValue(in.SecretId) == "bridge/share" && aws.StringValue(in.VersionStage) == "AWSCURRENT"
	})).Return(&secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(hexutil.Encode(shares[2].Encode())),
	}, nil)

	loader := NewAWSSMBLSSignerWithClient(&AWSSMBLSSignerConfig{
		Region:         "us-east-1",
		SecretName:     "bridge/share",
		ValidatorIndex: 3,
	}, client, zap.NewNop())

	signer, err := loader.LoadSigner(context.Background(), sharing)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), signer.ValidatorIndex())
	assert.Equal(t, uint64(4), signer.Epoch())
	client.AssertExpectations(t)
}

func TestAWSSMBLSSigner_Errors(t *testing.T) {
	sharing, shares, err := threshold.DealTrusted(rand.New(rand.NewSource(22)), 1, 4, threshold.N3f1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		output *secretsmanager.GetSecretValueOutput
		err    error
	}{
		{"client error", nil, errors.New("access denied")},
		{"nil secret string", &secretsmanager.GetSecretValueOutput{}, nil},
		{"garbage secret", &secretsmanager.GetSecretValueOutput{SecretString: aws.String("garbage")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSecretsManager{}
			client.On("GetSecretValueWithContext", mock.Anything, mock.Anything).Return(tt.output, tt.err)
			loader := NewAWSSMBLSSignerWithClient(&AWSSMBLSSignerConfig{SecretName: "s"}, client, zap.NewNop())

			_, err := loader.LoadSigner(context.Background(), sharing)
			require.Error(t, err)
			assert.Equal(t, bridgeErrors.KindConfig, bridgeErrors.KindOf(err))
		})
	}

	t.Run("share from another sharing", func(t *testing.T) {
		other, _, err := threshold.DealTrusted(rand.New(rand.NewSource(23)), 1, 4, threshold.N3f1)
		require.NoError(t, err)
		client := &mockSecretsManager{}
		client.On("GetSecretValueWithContext", mock.Anything, mock.Anything).Return(&secretsmanager.GetSecretValueOutput{
			SecretString: aws.String(hexutil.Encode(shares[0].Encode())),
		}, nil)
		loader := NewAWSSMBLSSignerWithClient(&AWSSMBLSSignerConfig{SecretName: "s"}, client, zap.NewNop())

		_, err = loader.LoadSigner(context.Background(), other)
		assert.Equal(t, bridgeErrors.KindConfig, bridgeErrors.KindOf(err))
	})
}
