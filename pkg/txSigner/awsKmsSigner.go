package txSigner

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// AWSKMSSigner implements ITransactionSigner using an asymmetric ECC_SECG_P256K1 key held in AWS KMS
type AWSKMSSigner struct {
	kmsClient kmsiface.KMSAPI
	keyID     string
	address   common.Address
}

// NewAWSKMSSigner creates a new AWSKMSSigner with the specified KMS key ID and AWS region.
// This constructor establishes a connection to AWS KMS and derives the Ethereum address
// from the public key associated with the specified KMS key.
//
// Parameters:
//   - ctx: Context for the public key lookup
//   - keyID: The AWS KMS key ID or ARN for signing operations
//   - region: The AWS region where the KMS key is located
//
// Returns:
//   - *AWSKMSSigner: A new AWS KMS signer instance
//   - error: An error if the AWS session cannot be created or the key is invalid
func NewAWSKMSSigner(ctx context.Context, keyID, region string) (*AWSKMSSigner, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewAWSKMSSignerWithClient(ctx, kms.New(sess), keyID)
}

// NewAWSKMSSignerWithClient creates an AWSKMSSigner around an existing KMS client.
func NewAWSKMSSignerWithClient(ctx context.Context, client kmsiface.KMSAPI, keyID string) (*AWSKMSSigner, error) {
	if keyID == "" {
		return nil, errors.New("KMS key ID is required")
	}
	address, err := getAddressFromKMSKey(ctx, client, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address from KMS key: %w", err)
	}
	return &AWSKMSSigner{
		kmsClient: client,
		keyID:     keyID,
		address:   address,
	}, nil
}

// GetTransactOpts returns bind.TransactOpts whose Signer calls out to AWS KMS.
func (a *AWSKMSSigner) GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil {
		return nil, errors.New("chain ID cannot be nil")
	}
	signer := types.LatestSignerForChainID(chainID)

	return &bind.TransactOpts{
		From:    a.address,
		Context: ctx,
		Signer: func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if address != a.address {
				return nil, fmt.Errorf("address mismatch: expected %s, got %s", a.address.Hex(), address.Hex())
			}
			signature, err := a.signHash(ctx, signer.Hash(tx).Bytes())
			if err != nil {
				return nil, fmt.Errorf("failed to sign transaction with KMS: %w", err)
			}
			return tx.WithSignature(signer, signature)
		},
	}, nil
}

// GetAddress returns the Ethereum address associated with this KMS key.
func (a *AWSKMSSigner) GetAddress() (common.Address, error) {
	return a.address, nil
}

// signHash returns a 65 byte [R || S || V] signature with V in {0, 1}.
func (a *AWSKMSSigner) signHash(ctx context.Context, hash []byte) ([]byte, error) {
	result, err := a.kmsClient.SignWithContext(ctx, &kms.SignInput{
		KeyId:            aws.String(a.keyID),
		Message:          hash,
		MessageType:      aws.String(kms.MessageTypeDigest),
		SigningAlgorithm: aws.String(kms.SigningAlgorithmSpecEcdsaSha256),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS signing failed: %w", err)
	}

	r, s, err := parseASN1Signature(result.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KMS signature: %w", err)
	}
	// Ethereum only accepts the lower of the two valid s values
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	signature := make([]byte, crypto.SignatureLength)
	r.FillBytes(signature[0:32])
	s.FillBytes(signature[32:64])

	for v := byte(0); v < 2; v++ {
		signature[crypto.RecoveryIDOffset] = v
		recovered, err := crypto.SigToPub(hash, signature)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*recovered) == a.address {
			return signature, nil
		}
	}
	return nil, errors.New("failed to determine recovery ID")
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// getAddressFromKMSKey derives the Ethereum address from the DER encoded public key KMS returns.
func getAddressFromKMSKey(ctx context.Context, client kmsiface.KMSAPI, keyID string) (common.Address, error) {
	result, err := client.GetPublicKeyWithContext(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get public key from KMS: %w", err)
	}

	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(result.PublicKey, &spki); err != nil {
		return common.Address{}, fmt.Errorf("failed to decode public key info: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(spki.PublicKey.Bytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

// parseASN1Signature parses an ASN.1 DER encoded ECDSA signature into r and s values
func parseASN1Signature(der []byte) (*big.Int, *big.Int, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, errors.New("trailing data after signature")
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil, nil, errors.New("signature values must be positive")
	}
	if sig.R.Cmp(secp256k1N) >= 0 || sig.S.Cmp(secp256k1N) >= 0 {
		return nil, nil, errors.New("signature values out of range")
	}
	return sig.R, sig.S, nil
}
