// Package awsSMBLSSigner loads a validator's BLS key share from AWS Secrets Manager.
// The secret holds either an EIP-2335 keystore or a hex encoded share. The share is
// fetched once and then signs in memory like any other share.
package awsSMBLSSigner

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/attestation-sidecar/pkg/blsSigner"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"go.uber.org/zap"
)

// AWSSMBLSSignerConfig holds the location of the share secret.
type AWSSMBLSSignerConfig struct {
	// Region specifies the AWS region where the secret is stored
	Region string
	// SecretName is the name or ARN of the secret holding the share
	SecretName string
	// VersionStage selects the secret version, defaulting to AWSCURRENT
	VersionStage string
	// KeystorePassword decrypts the secret when it is an EIP-2335 keystore
	KeystorePassword string
	// ValidatorIndex is the 1-based index of the share
	ValidatorIndex uint32
}

// AWSSMBLSSigner fetches a key share from AWS Secrets Manager.
type AWSSMBLSSigner struct {
	logger *zap.Logger
	config *AWSSMBLSSignerConfig
	client secretsmanageriface.SecretsManagerAPI
}

// NewAWSSMBLSSigner creates a loader backed by a new AWS session in the configured region.
func NewAWSSMBLSSigner(cfg *AWSSMBLSSignerConfig, logger *zap.Logger) (*AWSSMBLSSigner, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return nil, bridgeErrors.Config("awsSMBLSSigner.new", fmt.Errorf("failed to create AWS session: %w", err))
	}
	return NewAWSSMBLSSignerWithClient(cfg, secretsmanager.New(sess), logger), nil
}

// NewAWSSMBLSSignerWithClient creates a loader over an existing Secrets Manager client.
func NewAWSSMBLSSignerWithClient(cfg *AWSSMBLSSignerConfig, client secretsmanageriface.SecretsManagerAPI, logger *zap.Logger) *AWSSMBLSSigner {
	return &AWSSMBLSSigner{
		logger: logger,
		config: cfg,
		client: client,
	}
}

// getSecret retrieves the share from Secrets Manager.
func (a *AWSSMBLSSigner) getSecret(ctx context.Context) (*threshold.Share, error) {
	stage := a.config.VersionStage
	if stage == "" {
		stage = "AWSCURRENT"
	}
	result, err := a.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(a.config.SecretName),
		VersionStage: aws.String(stage),
	})
	if err != nil {
		return nil, bridgeErrors.Config("awsSMBLSSigner.getSecret", fmt.Errorf("failed to get secret %s: %w", a.config.SecretName, err))
	}
	if result.SecretString == nil {
		return nil, bridgeErrors.Config("awsSMBLSSigner.getSecret", fmt.Errorf("secret string is nil"))
	}
	return blsSigner.ParseShareSecret(*result.SecretString, a.config.KeystorePassword, a.config.ValidatorIndex)
}

// LoadSigner fetches the share and returns an in-memory signer bound to sharing.
//
// Parameters:
//   - ctx: Context for the Secrets Manager call
//   - sharing: The public sharing the share must belong to
//   - opts: Options forwarded to the in-memory signer
//
// Returns:
//   - *blsSigner.InMemoryBLSSigner: A signer over the fetched share
//   - error: A config error if the secret cannot be fetched, parsed or matched to the sharing
func (a *AWSSMBLSSigner) LoadSigner(ctx context.Context, sharing *threshold.Sharing, opts ...blsSigner.Option) (*blsSigner.InMemoryBLSSigner, error) {
	share, err := a.getSecret(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Sugar().Infow("Loaded BLS key share from AWS Secrets Manager",
		zap.String("secretName", a.config.SecretName),
		zap.Uint32("validatorIndex", share.Index),
		zap.Uint64("epoch", sharing.Epoch),
	)
	return blsSigner.FromShare(share, sharing, opts...)
}
