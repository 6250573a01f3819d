package submitter

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/wormhole-demo/portal-transfer/internal"
	"go.uber.org/zap"
)

// Ledger adapters implement both sides of a route so that one instance per
// chain serves both directions.
var (
	_ internal.SourceLedger      = (*EVMLedger)(nil)
	_ internal.DestinationLedger = (*EVMLedger)(nil)
	_ internal.SourceLedger      = (*SolanaLedger)(nil)
	_ internal.DestinationLedger = (*SolanaLedger)(nil)
)

// inclusionPolicy bounds the wait for a helper transaction (approval, VAA
// posting) to land before the main transaction is sent.
var inclusionPolicy = internal.RetryPolicy{
	MaxAttempts:    10,
	AttemptTimeout: 30 * time.Second,
	InitialBackoff: 3 * time.Second,
	MaxBackoff:     15 * time.Second,
}

// transferNonce returns the Wormhole message nonce of a new transfer.
func transferNonce() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(b[:])
}

// logRetry adapts a logger to internal.RetryNotify.
func logRetry(logger *zap.Logger, msg string) internal.RetryNotify {
	return func(attempt int, err error, wait time.Duration) {
		logger.Info(msg,
			zap.Int("attempt", attempt),
			zap.Duration("nextRetry", wait),
			zap.Error(err))
	}
}

// decodeTransfer parses a VAA and its token transfer payload, checking that
// it targets chain.
func decodeTransfer(attestation internal.Attestation, chain uint16) (*transferVAA, error) {
	v, err := internal.ParseVAAPermissive(attestation)
	if err != nil {
		return nil, fmt.Errorf("failed to parse VAA: %w", err)
	}
	transfer, err := internal.DecodeTokenTransfer(v.Payload)
	if err != nil {
		return nil, err
	}
	if uint16(transfer.ToChain) != chain {
		return nil, fmt.Errorf("VAA targets chain %d, not %d", uint16(transfer.ToChain), chain)
	}
	return &transferVAA{
		emitterChain: uint16(v.EmitterChain),
		emitter:      v.EmitterAddress,
		sequence:     v.Sequence,
		transfer:     transfer,
	}, nil
}

type transferVAA struct {
	emitterChain uint16
	emitter      [32]byte
	sequence     uint64
	transfer     *internal.TokenTransfer
}

var errAmountOverflow = errors.New("amount does not fit in 64 bits")
