// Package bridgeContract holds the ABI surface of the bridge contract the sidecar talks to:
// the MessageSent event it watches on source chains and the write function it calls on
// destination chains.
package bridgeContract

import (
	"fmt"
	"strings"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const BridgeABIJson = `[
	{
		"type": "function",
		"name": "write",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "sender", "type": "address"},
			{"name": "messageHash", "type": "bytes32"},
			{"name": "originChainId", "type": "uint64"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "MessageSent",
		"anonymous": false,
		"inputs": [
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "messageHash", "type": "bytes32", "indexed": true},
			{"name": "destinationChainId", "type": "uint64", "indexed": true}
		]
	}
]`

const (
	WriteMethod      = "write"
	MessageSentEvent = "MessageSent"
)

var bridgeABI abi.ABI

// MessageSentEventID is topic0 of every MessageSent log.
var MessageSentEventID common.Hash

func init() {
	parsed, err := abi.JSON(strings.NewReader(BridgeABIJson))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge ABI: %v", err))
	}
	bridgeABI = parsed
	MessageSentEventID = parsed.Events[MessageSentEvent].ID
}

// PackWrite ABI-encodes write(sender, messageHash, originChainId, signature) for msg.
// signature must be the 128 byte EIP-2537 encoding of the group signature.
func PackWrite(msg attestation.Message, signature []byte) ([]byte, error) {
	data, err := bridgeABI.Pack(WriteMethod, msg.Sender, [32]byte(msg.MessageHash), msg.OriginChainID, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack write call: %w", err)
	}
	return data, nil
}
