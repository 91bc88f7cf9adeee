// Package txSigner signs destination-chain transactions for the submitter.
// Signing is backed either by a raw secp256k1 private key or by an AWS KMS key.
package txSigner

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ITransactionSigner provides transaction options for a single submitting account.
type ITransactionSigner interface {
	// GetTransactOpts returns bind.TransactOpts whose Signer produces transactions
	// valid for chainID. Both legacy and dynamic fee transactions are supported.
	//
	// Parameters:
	//   - ctx: Context attached to the returned options
	//   - chainID: The chain ID for the target blockchain
	//
	// Returns:
	//   - *bind.TransactOpts: Configured transaction options for the signer
	//   - error: An error if transaction options cannot be created
	GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)

	// GetAddress returns the account that pays for and sends submissions.
	GetAddress() (common.Address, error)
}
