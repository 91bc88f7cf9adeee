package attestation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PartialSignature is one validator's signature share over an attestation hash.
type PartialSignature struct {
	// ValidatorIndex is the 1-based evaluation point of the signer's key share
	ValidatorIndex uint32
	// Epoch is the sharing epoch the share belongs to
	Epoch uint64
	// Signature is the compressed G1 signature share
	Signature [G1CompressedSize]byte
}

// SignedPartial is a partial together with the message it attests to, as exchanged
// between validators.
type SignedPartial struct {
	Message Message
	Partial PartialSignature
}

// Hash returns the attestation hash of the carried message.
func (s SignedPartial) Hash() common.Hash {
	return s.Message.AttestationHash()
}

// AggregatedSignature is the group signature recovered from a quorum of partials.
type AggregatedSignature struct {
	// Signature is the compressed G1 group signature
	Signature [G1CompressedSize]byte
	// Epoch is the sharing epoch whose group key verifies the signature
	Epoch uint64
}

func (a AggregatedSignature) String() string {
	return hexutil.Encode(a.Signature[:])
}

// Attestation is the outcome of aggregation for a single message.
type Attestation struct {
	Hash      common.Hash
	Message   Message
	Signature AggregatedSignature
}
