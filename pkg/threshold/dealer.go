package threshold

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// DealTrusted generates a fresh sharing and all n shares from a single trusted dealer.
// Production keys come from the consensus DKG; this exists for devnets, tooling and tests.
// A nil reader uses crypto/rand.
func DealTrusted(r io.Reader, epoch uint64, n uint32, faults FaultModel) (*Sharing, []*Share, error) {
	if n == 0 {
		return nil, nil, fmt.Errorf("%w: no participants", ErrInvalidSharing)
	}
	if r == nil {
		r = rand.Reader
	}

	t := faults.Quorum(n)
	coeffs := make([]fr.Element, t)
	for i := range coeffs {
		if err := randomScalar(r, &coeffs[i]); err != nil {
			return nil, nil, err
		}
	}

	_, _, _, g2 := bls12381.Generators()
	commitments := make([]bls12381.G2Affine, t)
	for i := range coeffs {
		commitments[i].ScalarMultiplication(&g2, coeffs[i].BigInt(new(big.Int)))
	}

	shares := make([]*Share, n)
	for i := uint32(1); i <= n; i++ {
		var x, y fr.Element
		x.SetUint64(uint64(i))
		// Horner over the secret coefficients
		y.Set(&coeffs[t-1])
		for j := int(t) - 2; j >= 0; j-- {
			y.Mul(&y, &x)
			y.Add(&y, &coeffs[j])
		}
		if y.IsZero() {
			return nil, nil, fmt.Errorf("%w: zero share at index %d", ErrInvalidShare, i)
		}
		shares[i-1] = &Share{Index: i, Scalar: y}
	}

	sharing, err := NewSharing(epoch, n, faults, commitments)
	if err != nil {
		return nil, nil, err
	}
	return sharing, shares, nil
}

func randomScalar(r io.Reader, out *fr.Element) error {
	// 48 bytes reduced mod r keeps the bias negligible
	var buf [48]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fmt.Errorf("failed to read randomness: %w", err)
		}
		out.SetBytes(buf[:])
		if !out.IsZero() {
			return nil
		}
	}
}
