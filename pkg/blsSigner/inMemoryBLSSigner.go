package blsSigner

import (
	"fmt"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/ethereum/go-ethereum/common"
)

// InMemoryBLSSigner implements IBLSSigner using a key share held in process memory.
// The share and its epoch are read from the injected signing material on every call,
// so a host that rotates material on epoch change is picked up without rebuilding the signer.
type InMemoryBLSSigner struct {
	material threshold.SigningMaterial
	dst      []byte
}

// Option customises an InMemoryBLSSigner.
type Option func(*InMemoryBLSSigner)

// WithDST overrides the hash-to-curve domain separation tag.
func WithDST(dst string) Option {
	return func(s *InMemoryBLSSigner) {
		s.dst = []byte(dst)
	}
}

// NewInMemoryBLSSigner creates a signer over the given signing material.
//
// Parameters:
//   - material: The key share and sharing supplied by the host
//   - opts: Optional overrides such as WithDST
//
// Returns:
//   - *InMemoryBLSSigner: A new signer instance
//   - error: A config error if the material is nil or carries no share
func NewInMemoryBLSSigner(material threshold.SigningMaterial, opts ...Option) (*InMemoryBLSSigner, error) {
	if material == nil || material.Share() == nil || material.Sharing() == nil {
		return nil, bridgeErrors.Config("blsSigner.new", fmt.Errorf("signing material cannot be nil"))
	}
	s := &InMemoryBLSSigner{
		material: material,
		dst:      []byte(threshold.DefaultDST),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FromShare builds a signer from a share and the sharing it belongs to.
func FromShare(share *threshold.Share, sharing *threshold.Sharing, opts ...Option) (*InMemoryBLSSigner, error) {
	material, err := threshold.NewStaticMaterial(share, sharing)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.fromShare", err)
	}
	return NewInMemoryBLSSigner(material, opts...)
}

// FromIndexAndScalar builds a signer from a 1-based participant index and a 32 byte
// big-endian secret scalar.
func FromIndexAndScalar(index uint32, scalar []byte, sharing *threshold.Sharing, opts ...Option) (*InMemoryBLSSigner, error) {
	share, err := threshold.NewShare(index, scalar)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.fromIndexAndScalar", err)
	}
	return FromShare(share, sharing, opts...)
}

// SignPartial signs hash with the current share. Signing is deterministic: the same
// share and hash always give the same partial.
func (s *InMemoryBLSSigner) SignPartial(hash common.Hash) (attestation.PartialSignature, error) {
	share := s.material.Share()
	sig, err := share.Sign(hash[:], s.dst)
	if err != nil {
		return attestation.PartialSignature{}, bridgeErrors.Crypto("blsSigner.sign", err)
	}
	return attestation.PartialSignature{
		ValidatorIndex: share.Index,
		Epoch:          s.material.Sharing().Epoch,
		Signature:      sig,
	}, nil
}

// GetPublicKey returns the compressed public key of the current share.
func (s *InMemoryBLSSigner) GetPublicKey() ([attestation.G2CompressedSize]byte, error) {
	pk, err := s.material.Share().PublicKey()
	if err != nil {
		return pk, bridgeErrors.Crypto("blsSigner.publicKey", err)
	}
	return pk, nil
}

func (s *InMemoryBLSSigner) ValidatorIndex() uint32 {
	return s.material.Share().Index
}

func (s *InMemoryBLSSigner) Epoch() uint64 {
	return s.material.Sharing().Epoch
}
