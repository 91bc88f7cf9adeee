package blsSigner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/Layr-Labs/attestation-sidecar/pkg/threshold"
	"github.com/Layr-Labs/crypto-libs/pkg/bls381"
	"github.com/Layr-Labs/crypto-libs/pkg/keystore"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/ethereum/go-ethereum/common"
)

// LoadShareFile reads a hex encoded share (index ‖ scalar) from path.
func LoadShareFile(path string) (*threshold.Share, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadShareFile", fmt.Errorf("failed to read share file: %w", err))
	}
	share, err := threshold.DecodeShareHex(string(raw))
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadShareFile", err)
	}
	return share, nil
}

// LoadShareFromKeystoreFile decrypts an EIP-2335 keystore holding a BLS12-381 share scalar.
// Keystores carry no evaluation point, so the validator index is supplied by configuration.
func LoadShareFromKeystoreFile(path, password string, index uint32) (*threshold.Share, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadKeystore", fmt.Errorf("failed to read keystore: %w", err))
	}
	return LoadShareFromKeystoreJSON(string(raw), password, index)
}

// LoadShareFromKeystoreJSON decrypts an EIP-2335 keystore JSON document.
func LoadShareFromKeystoreJSON(keystoreJSON, password string, index uint32) (*threshold.Share, error) {
	ks, err := keystore.ParseKeystoreJSON(keystoreJSON)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadKeystore", fmt.Errorf("failed to parse keystore JSON: %w", err))
	}
	pk, err := ks.GetPrivateKey(password, bls381.NewScheme())
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadKeystore", fmt.Errorf("failed to decrypt keystore: %w", err))
	}
	// keystores store the scalar without leading zero bytes
	scalar := pk.Bytes()
	if len(scalar) > fr.Bytes {
		return nil, bridgeErrors.Config("blsSigner.loadKeystore",
			fmt.Errorf("keystore scalar is %d bytes, expected at most %d", len(scalar), fr.Bytes))
	}
	share, err := threshold.NewShare(index, common.LeftPadBytes(scalar, fr.Bytes))
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.loadKeystore", err)
	}
	return share, nil
}

// ParseShareSecret accepts either an EIP-2335 keystore document or a hex encoded share,
// which is how shares are stored in secret managers.
func ParseShareSecret(secret, password string, index uint32) (*threshold.Share, error) {
	trimmed := strings.TrimSpace(secret)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return LoadShareFromKeystoreJSON(trimmed, password, index)
	}
	share, err := threshold.DecodeShareHex(trimmed)
	if err != nil {
		return nil, bridgeErrors.Config("blsSigner.parseShareSecret", err)
	}
	if index != 0 && share.Index != index {
		return nil, bridgeErrors.Config("blsSigner.parseShareSecret",
			fmt.Errorf("share index %d does not match configured validator index %d", share.Index, index))
	}
	return share, nil
}
