package internal

import (
	"context"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Signer signs one payload per call. EVM signers receive a 32-byte transaction
// digest, Solana signers receive the serialized transaction message.
type Signer interface {
	Address() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// SourceLedger initiates transfers and reports their finality.
type SourceLedger interface {
	Chain() vaaLib.ChainID
	// Submit broadcasts the transfer-initiating transaction.
	Submit(ctx context.Context, req TransferRequest, signer Signer) (SubmissionHandle, error)
	// Receipt returns ErrReceiptPending until the transaction is final and
	// ErrReverted if it failed on chain.
	Receipt(ctx context.Context, handle SubmissionHandle) (*FinalizedReceipt, error)
}

// DestinationLedger consumes attestations.
type DestinationLedger interface {
	Chain() vaaLib.ChainID
	// Redeem returns ErrAlreadyRedeemed when the ledger already consumed the attestation.
	Redeem(ctx context.Context, attestation Attestation, recipient string, signer Signer) (string, error)
}

// AttestationService returns signed VAAs. It returns ErrAttestationNotReady
// until guardians have signed the message and ErrAttestationRejected for
// requests that will never succeed.
type AttestationService interface {
	GetSignedVAA(ctx context.Context, key MessageKey) (Attestation, error)
}

// Recorder journals pipeline snapshots.
type Recorder interface {
	Record(ctx context.Context, snapshot Snapshot) error
}
