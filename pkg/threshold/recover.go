package threshold

import (
	"fmt"
	"sort"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/consensys/gnark-crypto/ecc"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// LagrangeCoefficients returns, for each x in indices, the Lagrange basis polynomial for
// that point evaluated at zero: prod_{j != i} x_j / (x_j - x_i). Indices must be distinct
// and non-zero.
func LagrangeCoefficients(indices []uint32) ([]fr.Element, error) {
	xs := make([]fr.Element, len(indices))
	seen := make(map[uint32]struct{}, len(indices))
	for i, idx := range indices {
		if idx == 0 {
			return nil, fmt.Errorf("%w: 0", ErrInvalidIndex)
		}
		if _, ok := seen[idx]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, idx)
		}
		seen[idx] = struct{}{}
		xs[i].SetUint64(uint64(idx))
	}

	coeffs := make([]fr.Element, len(xs))
	for i := range xs {
		num := fr.One()
		den := fr.One()
		for j := range xs {
			if i == j {
				continue
			}
			var diff fr.Element
			diff.Sub(&xs[j], &xs[i])
			num.Mul(&num, &xs[j])
			den.Mul(&den, &diff)
		}
		den.Inverse(&den)
		coeffs[i].Mul(&num, &den)
	}
	return coeffs, nil
}

// Recover interpolates the group signature at zero from partial signatures. Exactly
// sharing.Required() partials are used, chosen in ascending index order; extra partials
// are ignored. Partials must carry distinct, in-range indices. The result is not verified;
// use VerifyGroup for that.
func Recover(sharing *Sharing, partials []attestation.PartialSignature) ([attestation.G1CompressedSize]byte, error) {
	var out [attestation.G1CompressedSize]byte

	required := int(sharing.Required())
	if len(partials) < required {
		return out, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(partials), required)
	}

	sorted := make([]attestation.PartialSignature, len(partials))
	copy(sorted, partials)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidatorIndex < sorted[j].ValidatorIndex })
	sorted = sorted[:required]

	indices := make([]uint32, required)
	points := make([]bls12381.G1Affine, required)
	for i, p := range sorted {
		if err := sharing.checkIndex(p.ValidatorIndex); err != nil {
			return out, err
		}
		indices[i] = p.ValidatorIndex
		if _, err := points[i].SetBytes(p.Signature[:]); err != nil {
			return out, fmt.Errorf("%w: partial from validator %d: %v", ErrInvalidPoint, p.ValidatorIndex, err)
		}
	}

	coeffs, err := LagrangeCoefficients(indices)
	if err != nil {
		return out, err
	}

	var sig bls12381.G1Affine
	if _, err := sig.MultiExp(points, coeffs, ecc.MultiExpConfig{}); err != nil {
		return out, fmt.Errorf("failed to interpolate signature: %w", err)
	}
	if sig.IsInfinity() {
		return out, fmt.Errorf("%w: recovered identity", ErrInvalidSignature)
	}
	return sig.Bytes(), nil
}

// VerifyPartial checks a partial signature against the share public key derived from the sharing.
func VerifyPartial(sharing *Sharing, msg []byte, partial attestation.PartialSignature, dst []byte) error {
	pk, err := sharing.PartialPublicKey(partial.ValidatorIndex)
	if err != nil {
		return err
	}
	if !Verify(pk[:], msg, partial.Signature[:], dst) {
		return fmt.Errorf("%w: partial from validator %d", ErrInvalidSignature, partial.ValidatorIndex)
	}
	return nil
}

// VerifyGroup checks a recovered signature against the group public key.
func VerifyGroup(sharing *Sharing, msg []byte, signature [attestation.G1CompressedSize]byte, dst []byte) error {
	pk := sharing.PublicKey()
	if !Verify(pk[:], msg, signature[:], dst) {
		return ErrInvalidSignature
	}
	return nil
}
