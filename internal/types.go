package internal

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Direction names one of the two pipelines.
type Direction string

const (
	DirectionEthToSolana Direction = "eth-to-solana"
	DirectionSolanaToEth Direction = "solana-to-eth"
)

// ParseDirection accepts the command names of both pipelines.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionEthToSolana:
		return DirectionEthToSolana, nil
	case DirectionSolanaToEth:
		return DirectionSolanaToEth, nil
	}
	return "", fmt.Errorf("unknown direction %q (valid: %s, %s)", s, DirectionEthToSolana, DirectionSolanaToEth)
}

// Stage is a state of the transfer state machine.
type Stage string

const (
	StageValidating           Stage = "Validating"
	StageSubmitting           Stage = "Submitting"
	StageAwaitingConfirmation Stage = "AwaitingConfirmation"
	StageExtractingSequence   Stage = "ExtractingSequence"
	StageFetchingAttestation  Stage = "FetchingAttestation"
	StageRedeeming            Stage = "Redeeming"
	StageCompleted            Stage = "Completed"
	StageFailed               Stage = "Failed"
)

// next returns the stage that follows s in a successful run.
func (s Stage) next() Stage {
	switch s {
	case StageValidating:
		return StageSubmitting
	case StageSubmitting:
		return StageAwaitingConfirmation
	case StageAwaitingConfirmation:
		return StageExtractingSequence
	case StageExtractingSequence:
		return StageFetchingAttestation
	case StageFetchingAttestation:
		return StageRedeeming
	}
	return StageCompleted
}

// TransferRequest is the immutable input of one pipeline run.
// Amount is expressed in the smallest unit of the source asset.
type TransferRequest struct {
	ID               string
	SourceChain      vaaLib.ChainID
	DestinationChain vaaLib.ChainID
	AssetIdentifier  string
	Amount           *big.Int
	SenderAddress    string
	RecipientAddress string
	AssetLabel       string
}

// NewTransferRequest builds a request with a fresh transfer ID. The amount is copied.
func NewTransferRequest(source, destination vaaLib.ChainID, asset string, amount *big.Int, sender, recipient, label string) TransferRequest {
	var amt *big.Int
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	return TransferRequest{
		ID:               uuid.New().String(),
		SourceChain:      source,
		DestinationChain: destination,
		AssetIdentifier:  strings.TrimSpace(asset),
		Amount:           amt,
		SenderAddress:    strings.TrimSpace(sender),
		RecipientAddress: strings.TrimSpace(recipient),
		AssetLabel:       label,
	}
}

// ParseAmount parses a base-10 integer in smallest units. Fractions, exponents
// and signs other than a leading minus are rejected here; positivity is left
// to the validator so that the error is reported with the other field errors.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("amount %q must not carry a plus sign", s)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not an integer in smallest units", s)
	}
	return amount, nil
}

type transferRequestJSON struct {
	ID               string `json:"id"`
	SourceChain      uint16 `json:"sourceChain"`
	DestinationChain uint16 `json:"destinationChain"`
	AssetIdentifier  string `json:"assetIdentifier"`
	Amount           string `json:"amount"`
	SenderAddress    string `json:"senderAddress,omitempty"`
	RecipientAddress string `json:"recipientAddress"`
	AssetLabel       string `json:"assetLabel,omitempty"`
}

func (r TransferRequest) MarshalJSON() ([]byte, error) {
	out := transferRequestJSON{
		ID:               r.ID,
		SourceChain:      uint16(r.SourceChain),
		DestinationChain: uint16(r.DestinationChain),
		AssetIdentifier:  r.AssetIdentifier,
		SenderAddress:    r.SenderAddress,
		RecipientAddress: r.RecipientAddress,
		AssetLabel:       r.AssetLabel,
	}
	if r.Amount != nil {
		out.Amount = r.Amount.String()
	}
	return json.Marshal(out)
}

func (r *TransferRequest) UnmarshalJSON(data []byte) error {
	var in transferRequestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = TransferRequest{
		ID:               in.ID,
		SourceChain:      vaaLib.ChainID(in.SourceChain),
		DestinationChain: vaaLib.ChainID(in.DestinationChain),
		AssetIdentifier:  in.AssetIdentifier,
		SenderAddress:    in.SenderAddress,
		RecipientAddress: in.RecipientAddress,
		AssetLabel:       in.AssetLabel,
	}
	if in.Amount != "" {
		amount, err := ParseAmount(in.Amount)
		if err != nil {
			return err
		}
		r.Amount = amount
	}
	return nil
}

// SubmissionHandle identifies a broadcast source transaction.
type SubmissionHandle struct {
	Chain vaaLib.ChainID
	TxID  string
}

// FinalizedReceipt is the confirmation record of a finalized source transaction.
// EVM receipts carry Logs, Solana receipts carry ProgramLogs.
type FinalizedReceipt struct {
	Chain       vaaLib.ChainID
	TxID        string
	Height      uint64
	Logs        []*types.Log
	ProgramLogs []string
}

// MessageKey uniquely identifies one Wormhole message.
type MessageKey struct {
	EmitterChain   vaaLib.ChainID
	EmitterAddress vaaLib.Address
	Sequence       uint64
}

// String formats the key as chain/emitter/sequence, the guardian message ID format.
func (k MessageKey) String() string {
	return fmt.Sprintf("%d/%s/%d", uint16(k.EmitterChain), hex.EncodeToString(k.EmitterAddress[:]), k.Sequence)
}

// EmitterHex returns the 32-byte emitter address as lowercase hex without prefix.
func (k MessageKey) EmitterHex() string {
	return hex.EncodeToString(k.EmitterAddress[:])
}

// ParseMessageKey parses the chain/emitter/sequence form produced by String.
func ParseMessageKey(s string) (MessageKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return MessageKey{}, fmt.Errorf("message key %q is not chain/emitter/sequence", s)
	}
	chain, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return MessageKey{}, fmt.Errorf("invalid emitter chain %q: %w", parts[0], err)
	}
	emitter, err := ParseEmitterAddress(parts[1])
	if err != nil {
		return MessageKey{}, err
	}
	sequence, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return MessageKey{}, fmt.Errorf("invalid sequence %q: %w", parts[2], err)
	}
	return MessageKey{
		EmitterChain:   vaaLib.ChainID(chain),
		EmitterAddress: emitter,
		Sequence:       sequence,
	}, nil
}

// ParseEmitterAddress decodes a hex emitter address, left-padding it to 32 bytes.
func ParseEmitterAddress(s string) (vaaLib.Address, error) {
	var addr vaaLib.Address
	h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) > 64 {
		return addr, fmt.Errorf("emitter address %q longer than 32 bytes", s)
	}
	for len(h) < 64 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return addr, fmt.Errorf("invalid emitter address %q: %w", s, err)
	}
	copy(addr[:], b)
	return addr, nil
}

func (k MessageKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MessageKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Attestation is a signed VAA. Whoever holds it may redeem it once.
type Attestation []byte

func (a Attestation) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(a)), nil
}

func (a *Attestation) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("invalid attestation hex: %w", err)
	}
	*a = b
	return nil
}

// TransferResult is returned for a completed transfer. DestinationTxID is empty
// when the destination ledger reported the attestation as already redeemed.
type TransferResult struct {
	TransferID      string `json:"transferId"`
	SourceTxID      string `json:"sourceTxId,omitempty"`
	DestinationTxID string `json:"destinationTxId,omitempty"`
	AlreadyRedeemed bool   `json:"alreadyRedeemed,omitempty"`
}

// Snapshot is the observable state of one pipeline. A Failed snapshot carries
// everything needed to resume without replaying completed stages.
type Snapshot struct {
	TransferID      string          `json:"transferId"`
	Direction       Direction       `json:"direction"`
	State           Stage           `json:"state"`
	FailedStage     Stage           `json:"failedStage,omitempty"`
	Kind            string          `json:"kind,omitempty"`
	Error           string          `json:"error,omitempty"`
	Request         TransferRequest `json:"request"`
	SourceTxID      string          `json:"sourceTxId,omitempty"`
	MessageKey      *MessageKey     `json:"messageKey,omitempty"`
	Attestation     Attestation     `json:"attestation,omitempty"`
	DestinationTxID string          `json:"destinationTxId,omitempty"`
	AlreadyRedeemed bool            `json:"alreadyRedeemed,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Result converts a Completed snapshot into a TransferResult.
func (s Snapshot) Result() *TransferResult {
	return &TransferResult{
		TransferID:      s.TransferID,
		SourceTxID:      s.SourceTxID,
		DestinationTxID: s.DestinationTxID,
		AlreadyRedeemed: s.AlreadyRedeemed,
	}
}
