package internal

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const (
	vaaHeaderLen    = 6
	vaaSignatureLen = 66
	vaaBodyMinLen   = 51
)

// ParseVAAPermissive parses v1 and v2 VAAs without verifying signatures.
// Signature verification belongs to the destination ledger.
func ParseVAAPermissive(data []byte) (*vaaLib.VAA, error) {
	body, err := vaaBody(data)
	if err != nil {
		return nil, err
	}

	signatureCount := int(data[5])
	signatures := make([]*vaaLib.Signature, signatureCount)
	for i := 0; i < signatureCount; i++ {
		start := vaaHeaderLen + i*vaaSignatureLen
		var sig [65]byte
		copy(sig[:], data[start+1:start+vaaSignatureLen])
		signatures[i] = &vaaLib.Signature{Index: data[start], Signature: sig}
	}

	var emitter vaaLib.Address
	copy(emitter[:], body[10:42])

	return &vaaLib.VAA{
		Version:          data[0],
		GuardianSetIndex: binary.BigEndian.Uint32(data[1:5]),
		Signatures:       signatures,
		Timestamp:        time.Unix(int64(binary.BigEndian.Uint32(body[0:4])), 0),
		Nonce:            binary.BigEndian.Uint32(body[4:8]),
		EmitterChain:     vaaLib.ChainID(binary.BigEndian.Uint16(body[8:10])),
		EmitterAddress:   emitter,
		Sequence:         binary.BigEndian.Uint64(body[42:50]),
		ConsistencyLevel: body[50],
		Payload:          body[51:],
	}, nil
}

// vaaBody returns the signed body of a VAA:
// version(1) guardianSet(4) sigCount(1) sigs(66 each) | timestamp(4) nonce(4)
// emitterChain(2) emitter(32) sequence(8) consistency(1) payload.
func vaaBody(data []byte) ([]byte, error) {
	if len(data) < vaaHeaderLen {
		return nil, fmt.Errorf("VAA too short: %d bytes", len(data))
	}
	if data[0] != 1 && data[0] != 2 {
		return nil, fmt.Errorf("unsupported VAA version: %d", data[0])
	}
	bodyStart := vaaHeaderLen + int(data[5])*vaaSignatureLen
	if len(data) < bodyStart+vaaBodyMinLen {
		return nil, fmt.Errorf("VAA body too short for %d signatures", data[5])
	}
	return data[bodyStart:], nil
}

// VAABodyHash is keccak256 of the VAA body. Solana derives PostedVAA accounts from it.
func VAABodyHash(data []byte) ([32]byte, error) {
	body, err := vaaBody(data)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(body), nil
}

// VAADigest is the double keccak256 of the body, the hash EVM bridges use for
// replay protection.
func VAADigest(data []byte) ([32]byte, error) {
	bodyHash, err := VAABodyHash(data)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(bodyHash[:]), nil
}

// VerifyAttestationKey checks that a VAA was emitted for key.
func VerifyAttestationKey(attestation Attestation, key MessageKey) error {
	v, err := ParseVAAPermissive(attestation)
	if err != nil {
		return err
	}
	if v.EmitterChain != key.EmitterChain || v.EmitterAddress != key.EmitterAddress || v.Sequence != key.Sequence {
		got := MessageKey{EmitterChain: v.EmitterChain, EmitterAddress: v.EmitterAddress, Sequence: v.Sequence}
		return fmt.Errorf("VAA is for %s, requested %s", got, key)
	}
	return nil
}

// TokenTransfer is the header of a token bridge transfer payload (types 1 and 3).
type TokenTransfer struct {
	PayloadID   uint8
	Amount      *big.Int
	OriginToken vaaLib.Address
	OriginChain vaaLib.ChainID
	To          vaaLib.Address
	ToChain     vaaLib.ChainID
}

// DecodeTokenTransfer decodes the fixed 101-byte header of a transfer payload:
// id(1) amount(32) token(32) tokenChain(2) to(32) toChain(2).
func DecodeTokenTransfer(payload []byte) (*TokenTransfer, error) {
	if len(payload) < 101 {
		return nil, fmt.Errorf("transfer payload too short: %d bytes", len(payload))
	}
	if payload[0] != 1 && payload[0] != 3 {
		return nil, fmt.Errorf("not a token transfer payload: type %d", payload[0])
	}
	t := &TokenTransfer{
		PayloadID:   payload[0],
		Amount:      new(big.Int).SetBytes(payload[1:33]),
		OriginChain: vaaLib.ChainID(binary.BigEndian.Uint16(payload[65:67])),
		ToChain:     vaaLib.ChainID(binary.BigEndian.Uint16(payload[99:101])),
	}
	copy(t.OriginToken[:], payload[33:65])
	copy(t.To[:], payload[67:99])
	return t, nil
}

// LogVAAFull logs every field of a VAA at debug level.
func LogVAAFull(logger *zap.Logger, vaa *vaaLib.VAA, rawBytes []byte) {
	logger.Debug("VAA details",
		zap.Uint8("version", vaa.Version),
		zap.Uint32("guardianSetIndex", vaa.GuardianSetIndex),
		zap.Int("signatureCount", len(vaa.Signatures)),
		zap.Time("timestamp", vaa.Timestamp),
		zap.Uint32("nonce", vaa.Nonce),
		zap.Uint64("sequence", vaa.Sequence),
		zap.Uint8("consistencyLevel", vaa.ConsistencyLevel),
		zap.Uint16("emitterChain", uint16(vaa.EmitterChain)),
		zap.String("emitterAddress", hex.EncodeToString(vaa.EmitterAddress[:])),
		zap.Int("payloadLength", len(vaa.Payload)),
		zap.Int("rawBytesLength", len(rawBytes)),
	)

	if transfer, err := DecodeTokenTransfer(vaa.Payload); err == nil {
		logger.Debug("Token transfer payload",
			zap.Uint8("payloadID", transfer.PayloadID),
			zap.String("amount", transfer.Amount.String()),
			zap.Uint16("originChain", uint16(transfer.OriginChain)),
			zap.String("originToken", hex.EncodeToString(transfer.OriginToken[:])),
			zap.Uint16("toChain", uint16(transfer.ToChain)),
			zap.String("to", hex.EncodeToString(transfer.To[:])))
	}
}
