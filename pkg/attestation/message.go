// Package attestation defines the bridge message model and the attestation hash that
// validators threshold-sign. The hash layout is fixed and must match what the destination
// bridge contract recomputes before verifying the aggregated signature.
package attestation

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// G1CompressedSize is the size of a compressed BLS12-381 G1 point (a signature)
	G1CompressedSize = 48
	// G2CompressedSize is the size of a compressed BLS12-381 G2 point (a public key)
	G2CompressedSize = 96

	hashPreimageSize = common.HashLength + common.AddressLength + common.HashLength + 8 + 8
)

// AttestationDomain separates attestation hashes from any other keccak commitment over the
// same fields. It is keccak256("BRIDGE_ATTESTATION_V1").
var AttestationDomain = crypto.Keccak256Hash([]byte("BRIDGE_ATTESTATION_V1"))

// Message is a cross-chain message observed on a source chain.
type Message struct {
	// Sender is the account that emitted the message on the origin chain
	Sender common.Address
	// MessageHash is the 32-byte payload commitment supplied by the sender
	MessageHash common.Hash
	// OriginChainID is the chain the message was observed on
	OriginChainID uint64
	// DestinationChainID is the chain the message must be delivered to
	DestinationChainID uint64
}

// AttestationHash returns the digest validators sign for this message:
//
//	keccak256(AttestationDomain ‖ sender ‖ messageHash ‖ uint64be(origin) ‖ uint64be(destination))
//
// which is keccak256(abi.encodePacked(domain, sender, messageHash, originChainId, destinationChainId))
// in Solidity with both chain ids typed uint64.
func (m Message) AttestationHash() common.Hash {
	var buf [hashPreimageSize]byte
	off := copy(buf[:], AttestationDomain[:])
	off += copy(buf[off:], m.Sender[:])
	off += copy(buf[off:], m.MessageHash[:])
	binary.BigEndian.PutUint64(buf[off:], m.OriginChainID)
	binary.BigEndian.PutUint64(buf[off+8:], m.DestinationChainID)
	return crypto.Keccak256Hash(buf[:])
}

// MarshalLogObject lets messages be logged with zap.Object.
func (m Message) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("sender", m.Sender.Hex())
	enc.AddString("messageHash", m.MessageHash.Hex())
	enc.AddUint64("originChainId", m.OriginChainID)
	enc.AddUint64("destinationChainId", m.DestinationChainID)
	return nil
}

// Field is shorthand for zap.Object("message", m).
func (m Message) Field() zap.Field {
	return zap.Object("message", m)
}
