package threshold

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Sharing is the public side of a threshold key for one epoch: the G2 commitments to the
// coefficients of the secret polynomial. Commitment 0 is the group public key, and the
// public key of share i is the commitment polynomial evaluated at i.
type Sharing struct {
	Epoch  uint64
	Total  uint32
	Faults FaultModel

	commitments []bls12381.G2Affine
}

// NewSharing validates commitments against the participant count and fault model. The
// number of commitments (polynomial degree + 1) must equal the quorum.
func NewSharing(epoch uint64, total uint32, faults FaultModel, commitments []bls12381.G2Affine) (*Sharing, error) {
	if total == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidSharing)
	}
	required := faults.Quorum(total)
	if uint32(len(commitments)) != required {
		return nil, fmt.Errorf("%w: %d commitments for quorum %d of %d", ErrInvalidSharing, len(commitments), required, total)
	}
	for i := range commitments {
		if commitments[i].IsInfinity() || !commitments[i].IsInSubGroup() {
			return nil, fmt.Errorf("%w: commitment %d", ErrInvalidPoint, i)
		}
	}
	c := make([]bls12381.G2Affine, len(commitments))
	copy(c, commitments)
	return &Sharing{Epoch: epoch, Total: total, Faults: faults, commitments: c}, nil
}

// ParseSharing decodes hex encoded compressed G2 commitments, constant term first.
func ParseSharing(epoch uint64, total uint32, faults FaultModel, commitmentsHex []string) (*Sharing, error) {
	commitments := make([]bls12381.G2Affine, len(commitmentsHex))
	for i, h := range commitmentsHex {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: commitment %d: %v", ErrInvalidPoint, i, err)
		}
		if len(b) != attestation.G2CompressedSize {
			return nil, fmt.Errorf("%w: commitment %d has %d bytes", ErrInvalidPoint, i, len(b))
		}
		if _, err := commitments[i].SetBytes(b); err != nil {
			return nil, fmt.Errorf("%w: commitment %d: %v", ErrInvalidPoint, i, err)
		}
	}
	return NewSharing(epoch, total, faults, commitments)
}

// WithEpoch returns a copy of the sharing tagged with a different epoch.
func (s *Sharing) WithEpoch(epoch uint64) *Sharing {
	c := *s
	c.Epoch = epoch
	return &c
}

// Required is the number of distinct partial signatures needed for recovery.
func (s *Sharing) Required() uint32 {
	return uint32(len(s.commitments))
}

// Commitments returns the hex encoded compressed commitments, constant term first.
func (s *Sharing) Commitments() []string {
	out := make([]string, len(s.commitments))
	for i := range s.commitments {
		b := s.commitments[i].Bytes()
		out[i] = "0x" + hex.EncodeToString(b[:])
	}
	return out
}

// PublicKey returns the compressed group public key.
func (s *Sharing) PublicKey() [attestation.G2CompressedSize]byte {
	return s.commitments[0].Bytes()
}

// PartialPublicKey returns the compressed public key of the share at index.
func (s *Sharing) PartialPublicKey(index uint32) ([attestation.G2CompressedSize]byte, error) {
	if err := s.checkIndex(index); err != nil {
		return [attestation.G2CompressedSize]byte{}, err
	}
	p := s.evaluate(index)
	return p.Bytes(), nil
}

func (s *Sharing) checkIndex(index uint32) error {
	if index == 0 || index > s.Total {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidIndex, index, s.Total)
	}
	return nil
}

// evaluate computes sum_j C_j * x^j by Horner's rule.
func (s *Sharing) evaluate(index uint32) bls12381.G2Affine {
	var x fr.Element
	x.SetUint64(uint64(index))
	xBig := x.BigInt(new(big.Int))

	var acc bls12381.G2Jac
	last := len(s.commitments) - 1
	acc.FromAffine(&s.commitments[last])
	for j := last - 1; j >= 0; j-- {
		acc.ScalarMultiplication(&acc, xBig)
		acc.AddMixed(&s.commitments[j])
	}

	var out bls12381.G2Affine
	out.FromJacobian(&acc)
	return out
}
