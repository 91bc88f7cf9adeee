package submitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// classifyCallError separates execution reverts, which are Submission errors wrapping
// ErrReverted, from transport failures, which are RPC errors.
func classifyCallError(op string, err error) error {
	if reason, ok := revertReason(err); ok {
		if reason != "" {
			return bridgeErrors.New(bridgeErrors.KindSubmission, op, fmt.Errorf("%w: %s", bridgeErrors.ErrReverted, reason))
		}
		return bridgeErrors.New(bridgeErrors.KindSubmission, op, fmt.Errorf("%w: %v", bridgeErrors.ErrReverted, err))
	}
	return bridgeErrors.RPC(op, err)
}

// revertReason reports whether err is an execution revert and decodes its Error(string)
// reason when the node returned revert data.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
		return "", true
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return "", true
	}
	return "", false
}
