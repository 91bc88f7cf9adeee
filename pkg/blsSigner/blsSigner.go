// Package blsSigner provides the validator-side BLS signing used for bridge attestations.
// A signer holds one validator's key share on BLS12-381 and produces partial signatures
// over attestation hashes; partials from a quorum of validators are later combined into
// the group signature the destination bridge verifies.
package blsSigner

import (
	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/ethereum/go-ethereum/common"
)

// IBLSSigner defines the interface for producing partial signatures over attestation hashes.
type IBLSSigner interface {
	// SignPartial signs the attestation hash with the validator's key share.
	// The result is tagged with the validator index and the epoch of the share.
	SignPartial(hash common.Hash) (attestation.PartialSignature, error)

	// GetPublicKey returns the compressed G2 public key of the validator's share.
	// This is for diagnostics; the bridge verifies against the group key only.
	GetPublicKey() ([attestation.G2CompressedSize]byte, error)

	// ValidatorIndex returns the 1-based index of the share.
	ValidatorIndex() uint32

	// Epoch returns the sharing epoch the share belongs to.
	Epoch() uint64
}
