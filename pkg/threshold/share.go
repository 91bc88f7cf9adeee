package threshold

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	blst "github.com/supranational/blst/bindings/go"
)

// ShareEncodedSize is the size of an encoded share: 4-byte big-endian index followed by
// the 32-byte big-endian scalar.
const ShareEncodedSize = 4 + fr.Bytes

// Share is one validator's secret evaluation of the sharing polynomial.
type Share struct {
	// Index is the 1-based evaluation point
	Index  uint32
	Scalar fr.Element
}

// NewShare builds a share from its index and big-endian scalar bytes. The scalar must be
// canonical (below the group order) and non-zero.
func NewShare(index uint32, scalar []byte) (*Share, error) {
	if index == 0 {
		return nil, fmt.Errorf("%w: index must be at least 1", ErrInvalidShare)
	}
	var s fr.Element
	if err := s.SetBytesCanonical(scalar); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	if s.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidShare)
	}
	return &Share{Index: index, Scalar: s}, nil
}

// DecodeShare parses the index ‖ scalar encoding produced by Encode.
func DecodeShare(b []byte) (*Share, error) {
	if len(b) != ShareEncodedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidShare, ShareEncodedSize, len(b))
	}
	return NewShare(binary.BigEndian.Uint32(b[:4]), b[4:])
}

// DecodeShareHex parses a hex encoded share, with or without 0x prefix.
func DecodeShareHex(s string) (*Share, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return DecodeShare(b)
}

// Encode returns index ‖ scalar.
func (s *Share) Encode() []byte {
	out := make([]byte, ShareEncodedSize)
	binary.BigEndian.PutUint32(out[:4], s.Index)
	scalar := s.Scalar.Bytes()
	copy(out[4:], scalar[:])
	return out
}

func (s *Share) secretKey() (*blst.SecretKey, error) {
	b := s.Scalar.Bytes()
	sk := new(blst.SecretKey).Deserialize(b[:])
	if sk == nil {
		return nil, ErrInvalidShare
	}
	return sk, nil
}

// Sign produces this share's partial signature over msg under dst.
func (s *Share) Sign(msg, dst []byte) ([attestation.G1CompressedSize]byte, error) {
	var out [attestation.G1CompressedSize]byte
	sk, err := s.secretKey()
	if err != nil {
		return out, err
	}
	defer sk.Zeroize()

	sig := new(blst.P1Affine).Sign(sk, msg, dst)
	if sig == nil {
		return out, fmt.Errorf("failed to sign with share %d", s.Index)
	}
	copy(out[:], sig.Compress())
	return out, nil
}

// PublicKey returns the compressed G2 public key of this share.
func (s *Share) PublicKey() ([attestation.G2CompressedSize]byte, error) {
	var out [attestation.G2CompressedSize]byte
	sk, err := s.secretKey()
	if err != nil {
		return out, err
	}
	defer sk.Zeroize()

	copy(out[:], new(blst.P2Affine).From(sk).Compress())
	return out, nil
}

// Verify checks a compressed G1 signature over msg against a compressed G2 public key.
// Both points are subgroup checked; an identity public key never verifies.
func Verify(publicKey []byte, msg []byte, signature []byte, dst []byte) bool {
	pk := new(blst.P2Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}
	sig := new(blst.P1Affine).Uncompress(signature)
	if sig == nil {
		return false
	}
	return sig.Verify(true, pk, true, msg, dst)
}
