package watcher

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeContract"
	"github.com/Layr-Labs/attestation-sidecar/pkg/bridgeErrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrTooFewTopics       = errors.New("log has too few topics")
	ErrUnexpectedEvent    = errors.New("log is not a MessageSent event")
	ErrInvalidDestination = errors.New("destination chain id topic does not fit in uint64")
)

// DecodeMessageSent builds a Message from a MessageSent log observed on originChainID.
// The event has three indexed fields: topic1 holds the sender, topic2 the message hash and
// topic3 the destination chain id as a left-padded uint64.
func DecodeMessageSent(log types.Log, originChainID uint64) (attestation.Message, error) {
	if len(log.Topics) < 4 {
		return attestation.Message{}, bridgeErrors.Decode("watcher.decode",
			fmt.Errorf("%w: got %d, want 4", ErrTooFewTopics, len(log.Topics)))
	}
	if log.Topics[0] != bridgeContract.MessageSentEventID {
		return attestation.Message{}, bridgeErrors.Decode("watcher.decode",
			fmt.Errorf("%w: topic0 %s", ErrUnexpectedEvent, log.Topics[0].Hex()))
	}

	destination := log.Topics[3]
	for _, b := range destination[:common.HashLength-8] {
		if b != 0 {
			return attestation.Message{}, bridgeErrors.Decode("watcher.decode",
				fmt.Errorf("%w: %s", ErrInvalidDestination, destination.Hex()))
		}
	}

	return attestation.Message{
		Sender:             common.BytesToAddress(log.Topics[1][common.HashLength-common.AddressLength:]),
		MessageHash:        log.Topics[2],
		OriginChainID:      originChainID,
		DestinationChainID: binary.BigEndian.Uint64(destination[common.HashLength-8:]),
	}, nil
}
