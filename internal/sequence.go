package internal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const coreBridgeEventsABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
		{"indexed": false, "internalType": "uint64", "name": "sequence", "type": "uint64"},
		{"indexed": false, "internalType": "uint32", "name": "nonce", "type": "uint32"},
		{"indexed": false, "internalType": "bytes", "name": "payload", "type": "bytes"},
		{"indexed": false, "internalType": "uint8", "name": "consistencyLevel", "type": "uint8"}
	],
	"name": "LogMessagePublished",
	"type": "event"
}]`

var coreBridgeABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(coreBridgeEventsABI))
	if err != nil {
		panic(fmt.Sprintf("core bridge ABI: %v", err))
	}
	return parsed
}()

// LogMessagePublishedEvent is the core bridge event carrying the sequence.
var LogMessagePublishedEvent = coreBridgeABI.Events["LogMessagePublished"]

// solanaSequenceLog is printed by the core bridge program when a message is posted.
const solanaSequenceLog = "Program log: Sequence: "

// ExtractMessageKey finds the Wormhole message emitted by the token bridge in
// a finalized source receipt. It performs no I/O.
func ExtractMessageKey(receipt *FinalizedReceipt, bridge BridgeConfig) (MessageKey, error) {
	if receipt == nil {
		return MessageKey{}, fmt.Errorf("%w: no receipt", ErrMalformedReceipt)
	}
	switch bridge.Kind {
	case ChainKindEVM:
		return extractEVMMessageKey(receipt, bridge)
	case ChainKindSolana:
		return extractSolanaMessageKey(receipt, bridge)
	}
	return MessageKey{}, fmt.Errorf("%w: unsupported chain kind %s", ErrMalformedReceipt, bridge.Kind)
}

func extractEVMMessageKey(receipt *FinalizedReceipt, bridge BridgeConfig) (MessageKey, error) {
	core := common.HexToAddress(bridge.CoreBridge)
	tokenBridge := common.HexToAddress(bridge.TokenBridge)
	emitterTopic := common.BytesToHash(tokenBridge.Bytes())

	for _, log := range receipt.Logs {
		if log == nil || log.Address != core || len(log.Topics) < 2 {
			continue
		}
		if log.Topics[0] != LogMessagePublishedEvent.ID || log.Topics[1] != emitterTopic {
			continue
		}

		values, err := LogMessagePublishedEvent.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return MessageKey{}, fmt.Errorf("%w: unpack LogMessagePublished in %s: %v", ErrMalformedReceipt, receipt.TxID, err)
		}
		sequence, ok := values[0].(uint64)
		if !ok {
			return MessageKey{}, fmt.Errorf("%w: unexpected sequence type %T", ErrMalformedReceipt, values[0])
		}

		var emitter vaaLib.Address
		copy(emitter[:], emitterTopic[:])
		return MessageKey{
			EmitterChain:   receipt.Chain,
			EmitterAddress: emitter,
			Sequence:       sequence,
		}, nil
	}

	return MessageKey{}, fmt.Errorf("%w: no LogMessagePublished from token bridge %s in %s", ErrMalformedReceipt, tokenBridge.Hex(), receipt.TxID)
}

func extractSolanaMessageKey(receipt *FinalizedReceipt, bridge BridgeConfig) (MessageKey, error) {
	emitter, err := SolanaEmitterAddress(bridge.TokenBridge)
	if err != nil {
		return MessageKey{}, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}

	for _, line := range receipt.ProgramLogs {
		if !strings.HasPrefix(line, solanaSequenceLog) {
			continue
		}
		sequence, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, solanaSequenceLog)), 10, 64)
		if err != nil {
			return MessageKey{}, fmt.Errorf("%w: bad sequence log %q in %s", ErrMalformedReceipt, line, receipt.TxID)
		}
		return MessageKey{
			EmitterChain:   receipt.Chain,
			EmitterAddress: emitter,
			Sequence:       sequence,
		}, nil
	}

	return MessageKey{}, fmt.Errorf("%w: no sequence log in %s", ErrMalformedReceipt, receipt.TxID)
}

// SolanaEmitterAddress derives the emitter PDA of a Solana token bridge program.
func SolanaEmitterAddress(tokenBridgeProgram string) (vaaLib.Address, error) {
	var addr vaaLib.Address
	programID, err := solana.PublicKeyFromBase58(tokenBridgeProgram)
	if err != nil {
		return addr, fmt.Errorf("invalid token bridge program %q: %v", tokenBridgeProgram, err)
	}
	emitter, _, err := solana.FindProgramAddress([][]byte{[]byte("emitter")}, programID)
	if err != nil {
		return addr, fmt.Errorf("derive emitter PDA: %v", err)
	}
	copy(addr[:], emitter[:])
	return addr, nil
}
