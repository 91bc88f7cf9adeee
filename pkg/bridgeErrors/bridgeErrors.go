// Package bridgeErrors defines the error taxonomy shared by the sidecar components.
// Every error that crosses a component boundary is wrapped in an *Error carrying a Kind,
// so callers can decide between retrying, skipping and aborting without string matching.
package bridgeErrors

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies an error by the subsystem that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig is an invalid configuration or unloadable key material. Never retried.
	KindConfig
	// KindRPC is a transport or provider failure talking to a chain.
	KindRPC
	// KindDecode is a malformed event log.
	KindDecode
	// KindCrypto is an invalid key, point or signature encoding.
	KindCrypto
	// KindAggregation is a rejected partial or a failed signature recovery.
	KindAggregation
	// KindSubmission is a transaction that was mined (or simulated) and reverted.
	KindSubmission
	// KindTimeout is a transaction that was sent but whose receipt did not arrive in time.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindRPC:
		return "rpc"
	case KindDecode:
		return "decode"
	case KindCrypto:
		return "crypto"
	case KindAggregation:
		return "aggregation"
	case KindSubmission:
		return "submission"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	// ErrReverted is wrapped by submission errors when the bridge call reverted
	ErrReverted = errors.New("transaction reverted")
	// ErrReceiptTimeout is wrapped by timeout errors when no receipt arrived before the deadline
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")
)

// Error is the classified error returned across component boundaries.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "watcher.poll" or "submitter.write"
	Op string
	// TxHash is set for submission and timeout errors once a transaction hash is known
	TxHash common.Hash
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.TxHash != (common.Hash{}) {
		msg = fmt.Sprintf("%s (tx %s)", msg, e.TxHash.Hex())
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithTx wraps err with the given kind, operation name and transaction hash.
func WithTx(kind Kind, op string, txHash common.Hash, err error) *Error {
	return &Error{Kind: kind, Op: op, TxHash: txHash, Err: err}
}

func Config(op string, err error) *Error      { return New(KindConfig, op, err) }
func RPC(op string, err error) *Error         { return New(KindRPC, op, err) }
func Decode(op string, err error) *Error      { return New(KindDecode, op, err) }
func Crypto(op string, err error) *Error      { return New(KindCrypto, op, err) }
func Aggregation(op string, err error) *Error { return New(KindAggregation, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// TxHashOf returns the transaction hash attached to err, if any.
func TxHashOf(err error) (common.Hash, bool) {
	var e *Error
	if errors.As(err, &e) && e.TxHash != (common.Hash{}) {
		return e.TxHash, true
	}
	return common.Hash{}, false
}

// IsRetryable reports whether the operation that produced err may succeed when retried.
// Transport failures and receipt timeouts are retryable; everything else is not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRPC, KindTimeout:
		return true
	default:
		return false
	}
}
