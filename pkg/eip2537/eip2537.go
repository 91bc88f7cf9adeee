// Package eip2537 converts compressed BLS12-381 points into the uncompressed, padded
// layout the EIP-2537 precompiles expect.
//
// Every 48-byte base-field element is right-aligned in a 64-byte word whose first 16
// bytes are zero. A G1 point is x ‖ y (128 bytes). A G2 point is x.c1 ‖ x.c0 ‖ y.c1 ‖ y.c0
// (256 bytes), the same component order as the ZCash serialization.
package eip2537

import (
	"errors"
	"fmt"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	blst "github.com/supranational/blst/bindings/go"
)

const (
	FieldElementSize = 48
	PaddedFieldSize  = 64
	PaddingSize      = PaddedFieldSize - FieldElementSize

	G1CompressedSize = 48
	G2CompressedSize = 96
	G1Size           = 2 * PaddedFieldSize
	G2Size           = 4 * PaddedFieldSize
)

var (
	ErrInvalidLength = errors.New("invalid point length")
	ErrDecompression = errors.New("point decompression failed")
	ErrNotInSubgroup = errors.New("point not in prime-order subgroup")
	ErrIdentity      = errors.New("point at infinity")
	ErrBadPadding    = errors.New("non-zero padding")
)

const infinityFlag = 0x40

// G1ToEIP2537 decompresses a G1 point and encodes it for the precompiles.
func G1ToEIP2537(compressed [G1CompressedSize]byte) ([G1Size]byte, error) {
	var out [G1Size]byte
	if compressed[0]&infinityFlag != 0 {
		return out, bridgeErrors.Crypto("eip2537.g1", ErrIdentity)
	}
	p := new(blst.P1Affine).Uncompress(compressed[:])
	if p == nil {
		return out, bridgeErrors.Crypto("eip2537.g1", ErrDecompression)
	}
	if !p.InG1() {
		return out, bridgeErrors.Crypto("eip2537.g1", ErrNotInSubgroup)
	}
	pad(out[:], p.Serialize())
	return out, nil
}

// G2ToEIP2537 decompresses a G2 point and encodes it for the precompiles.
func G2ToEIP2537(compressed [G2CompressedSize]byte) ([G2Size]byte, error) {
	var out [G2Size]byte
	if compressed[0]&infinityFlag != 0 {
		return out, bridgeErrors.Crypto("eip2537.g2", ErrIdentity)
	}
	p := new(blst.P2Affine).Uncompress(compressed[:])
	if p == nil {
		return out, bridgeErrors.Crypto("eip2537.g2", ErrDecompression)
	}
	if !p.InG2() {
		return out, bridgeErrors.Crypto("eip2537.g2", ErrNotInSubgroup)
	}
	pad(out[:], p.Serialize())
	return out, nil
}

// G1FromEIP2537 parses a precompile-encoded G1 point back into compressed form.
func G1FromEIP2537(encoded []byte) ([G1CompressedSize]byte, error) {
	var out [G1CompressedSize]byte
	if len(encoded) != G1Size {
		return out, bridgeErrors.Crypto("eip2537.g1", fmt.Errorf("%w: %d", ErrInvalidLength, len(encoded)))
	}
	raw, err := unpad(encoded)
	if err != nil {
		return out, bridgeErrors.Crypto("eip2537.g1", err)
	}
	p := new(blst.P1Affine).Deserialize(raw)
	if p == nil {
		return out, bridgeErrors.Crypto("eip2537.g1", ErrDecompression)
	}
	if !p.InG1() {
		return out, bridgeErrors.Crypto("eip2537.g1", ErrNotInSubgroup)
	}
	copy(out[:], p.Compress())
	return out, nil
}

// pad copies consecutive 48-byte field elements from raw into 64-byte words of dst.
func pad(dst []byte, raw []byte) {
	for i := 0; i*FieldElementSize < len(raw); i++ {
		copy(dst[i*PaddedFieldSize+PaddingSize:(i+1)*PaddedFieldSize], raw[i*FieldElementSize:(i+1)*FieldElementSize])
	}
}

func unpad(encoded []byte) ([]byte, error) {
	words := len(encoded) / PaddedFieldSize
	raw := make([]byte, words*FieldElementSize)
	for i := 0; i < words; i++ {
		word := encoded[i*PaddedFieldSize : (i+1)*PaddedFieldSize]
		for _, b := range word[:PaddingSize] {
			if b != 0 {
				return nil, ErrBadPadding
			}
		}
		copy(raw[i*FieldElementSize:], word[PaddingSize:])
	}
	return raw, nil
}
