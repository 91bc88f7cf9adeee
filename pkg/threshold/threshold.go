// Package threshold implements the BLS12-381 threshold primitives used by the bridge:
// key shares, the public sharing polynomial committed in G2, quorum sizes, signing and
// verification in the MinSig variant (signatures in G1, public keys in G2), and recovery
// of a group signature from partial signatures by Lagrange interpolation at zero.
//
// Signing and verification use blst. Polynomial arithmetic and multi-scalar
// multiplication use gnark-crypto. Both libraries share the ZCash compressed point
// encoding, which is the only representation that crosses between them.
package threshold

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDST is the hash-to-curve domain separation tag for bridge attestations. It must
// differ from the tag consensus signs with so a bridge signature can never be replayed as
// a consensus vote or vice versa.
const DefaultDST = "BRIDGE_BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"

var (
	ErrInvalidShare       = errors.New("invalid key share")
	ErrInvalidIndex       = errors.New("validator index out of range")
	ErrInvalidPoint       = errors.New("invalid curve point")
	ErrInvalidSharing     = errors.New("invalid sharing")
	ErrInsufficientShares = errors.New("insufficient partial signatures")
	ErrDuplicateIndex     = errors.New("duplicate validator index")
	ErrInvalidSignature   = errors.New("signature does not verify")
)

// FaultModel determines how many validators may be faulty and therefore how many
// partial signatures are required to recover a group signature.
type FaultModel int

const (
	// N3f1 tolerates f = floor((n-1)/3) byzantine validators and requires n - f partials.
	// This is the model consensus uses for its own threshold key.
	N3f1 FaultModel = iota
	// N2f1 tolerates f = floor((n-1)/2) faulty validators and requires n - f partials.
	N2f1
)

func (f FaultModel) String() string {
	switch f {
	case N3f1:
		return "n3f1"
	case N2f1:
		return "n2f1"
	default:
		return fmt.Sprintf("FaultModel(%d)", int(f))
	}
}

// ParseFaultModel parses the configuration name of a fault model. An empty name selects N3f1.
func ParseFaultModel(s string) (FaultModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n3f1", "bft":
		return N3f1, nil
	case "n2f1", "majority":
		return N2f1, nil
	default:
		return 0, fmt.Errorf("unknown fault model %q", s)
	}
}

// MaxFaults returns the number of faulty validators tolerated among n.
func (f FaultModel) MaxFaults(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	switch f {
	case N2f1:
		return (n - 1) / 2
	default:
		return (n - 1) / 3
	}
}

// Quorum returns the number of distinct partial signatures needed among n validators.
func (f FaultModel) Quorum(n uint32) uint32 {
	return n - f.MaxFaults(n)
}
