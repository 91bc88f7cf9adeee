package bridgeContract

import (
	"bytes"
	"testing"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageSentEventID(t *testing.T) {
	expected := crypto.Keccak256Hash([]byte("MessageSent(address,bytes32,uint64)"))
	assert.Equal(t, expected, MessageSentEventID)
}

func TestPackWrite(t *testing.T) {
	msg := attestation.Message{
		Sender:             common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		MessageHash:        common.HexToHash("0x1234"),
		OriginChainID:      1,
		DestinationChainID: 10,
	}
	sig := bytes.Repeat([]byte{0x07}, 128)

	data, err := PackWrite(msg, sig)
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("write(address,bytes32,uint64,bytes)"))[:4]
	assert.Equal(t, selector, data[:4])
	// 4 static words, a length word and 4 words of signature data
	assert.Len(t, data, 4+32*4+32+128)

	args, err := bridgeABI.Methods[WriteMethod].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, msg.Sender, args[0].(common.Address))
	assert.Equal(t, [32]byte(msg.MessageHash), args[1].([32]byte))
	assert.Equal(t, uint64(1), args[2].(uint64))
	assert.Equal(t, sig, args[3].([]byte))
}
