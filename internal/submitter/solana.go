package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/clients"
)

// SolanaChain is the part of clients.SolanaClient used by SolanaLedger.
type SolanaChain interface {
	TokenBridge() solana.PublicKey
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	TransferInstructions(ctx context.Context, payer, mint solana.PublicKey, amount uint64, targetChain uint16, target [32]byte, nonce uint32) ([]solana.Instruction, solana.PrivateKey, error)
	CompleteTransferInstructions(ctx context.Context, payer, recipient solana.PublicKey, t clients.CompleteTransfer) ([]solana.Instruction, error)
	SendTransaction(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, sign clients.SignFunc, extra ...solana.PrivateKey) (string, error)
	Confirmation(ctx context.Context, signature string) (bool, uint64, error)
	TransactionLogs(ctx context.Context, signature string) ([]string, error)
	PostVAA(ctx context.Context, vaaBytes []byte, bodyHash [32]byte) (solana.PublicKey, error)
}

// SolanaLedger moves tokens through the Portal token bridge program on Solana.
type SolanaLedger struct {
	client        SolanaChain
	submitTimeout time.Duration
	logger        *zap.Logger
}

func NewSolanaLedger(logger *zap.Logger, client SolanaChain) *SolanaLedger {
	return &SolanaLedger{
		client:        client,
		submitTimeout: 180 * time.Second,
		logger:        logger.With(zap.String("component", "SolanaLedger")),
	}
}

func (l *SolanaLedger) Chain() vaaLib.ChainID { return vaaLib.ChainIDSolana }

// Submit sends approve, fee and transfer instructions in one transaction.
// The asset identifier is the SPL mint; tokens leave the signer's
// associated token account.
func (l *SolanaLedger) Submit(ctx context.Context, req internal.TransferRequest, signer internal.Signer) (internal.SubmissionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.submitTimeout)
	defer cancel()

	payer, err := solana.PublicKeyFromBase58(signer.Address())
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("invalid signer address: %v", err)
	}
	mint, err := solana.PublicKeyFromBase58(req.AssetIdentifier)
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("invalid mint: %v", err)
	}
	if !req.Amount.IsUint64() {
		return internal.SubmissionHandle{}, fmt.Errorf("%w: %s", errAmountOverflow, req.Amount)
	}

	var target [32]byte
	copy(target[12:], common.HexToAddress(req.RecipientAddress).Bytes())

	instructions, message, err := l.client.TransferInstructions(ctx, payer, mint, req.Amount.Uint64(),
		uint16(req.DestinationChain), target, transferNonce())
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("failed to build transfer: %w", err)
	}
	if len(message) != solana.PrivateKeyLength {
		return internal.SubmissionHandle{}, errors.New("failed to build transfer: no message account key")
	}

	l.logger.Info("Submitting token transfer",
		zap.String("transferId", req.ID),
		zap.String("mint", mint.String()),
		zap.String("amount", req.Amount.String()),
		zap.Uint16("recipientChain", uint16(req.DestinationChain)),
		zap.String("recipient", req.RecipientAddress),
		zap.String("payer", payer.String()),
		zap.String("messageAccount", message.PublicKey().String()))

	sig, err := l.client.SendTransaction(ctx, instructions, payer, signer.Sign, message)
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("failed to submit transfer: %w", err)
	}
	return internal.SubmissionHandle{Chain: vaaLib.ChainIDSolana, TxID: sig}, nil
}

// Receipt reports ErrReceiptPending until the signature reaches finalized commitment.
func (l *SolanaLedger) Receipt(ctx context.Context, handle internal.SubmissionHandle) (*internal.FinalizedReceipt, error) {
	finalized, slot, err := l.client.Confirmation(ctx, handle.TxID)
	switch {
	case errors.Is(err, clients.ErrTxPending):
		return nil, internal.ErrReceiptPending
	case errors.Is(err, clients.ErrTxReverted):
		return nil, fmt.Errorf("%w: %v", internal.ErrReverted, err)
	case err != nil:
		return nil, err
	case !finalized:
		l.logger.Debug("Transaction not finalized", zap.String("signature", handle.TxID), zap.Uint64("slot", slot))
		return nil, internal.ErrReceiptPending
	}

	logs, err := l.client.TransactionLogs(ctx, handle.TxID)
	if err != nil {
		return nil, err
	}
	return &internal.FinalizedReceipt{
		Chain:       vaaLib.ChainIDSolana,
		TxID:        handle.TxID,
		Height:      slot,
		ProgramLogs: logs,
	}, nil
}

// Redeem posts the VAA to the core bridge if needed and completes the
// transfer into recipient's associated token account.
func (l *SolanaLedger) Redeem(ctx context.Context, attestation internal.Attestation, recipient string, signer internal.Signer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.submitTimeout)
	defer cancel()

	vaa, err := decodeTransfer(attestation, uint16(vaaLib.ChainIDSolana))
	if err != nil {
		return "", err
	}
	payer, err := solana.PublicKeyFromBase58(signer.Address())
	if err != nil {
		return "", fmt.Errorf("invalid signer address: %v", err)
	}
	owner, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %v", err)
	}

	claim, err := clients.ClaimAccount(l.client.TokenBridge(), vaa.emitter, vaa.emitterChain, vaa.sequence)
	if err != nil {
		return "", err
	}
	if redeemed, err := l.client.AccountExists(ctx, claim); err != nil {
		return "", fmt.Errorf("failed to check claim account: %w", err)
	} else if redeemed {
		return "", internal.ErrAlreadyRedeemed
	}

	l.logger.Info("Submitting VAA to Solana",
		zap.Int("vaaLength", len(attestation)),
		zap.Uint16("emitterChain", vaa.emitterChain),
		zap.Uint64("sequence", vaa.sequence),
		zap.String("payer", payer.String()))

	bodyHash, err := internal.VAABodyHash(attestation)
	if err != nil {
		return "", err
	}
	postedVAA, err := internal.Retry(ctx, inclusionPolicy, logRetry(l.logger, "Waiting for VAA to be posted to Wormhole"),
		func(ctx context.Context) (solana.PublicKey, error) {
			return l.client.PostVAA(ctx, attestation, bodyHash)
		})
	if err != nil {
		return "", fmt.Errorf("failed to post VAA: %w", err)
	}

	instructions, err := l.client.CompleteTransferInstructions(ctx, payer, owner, clients.CompleteTransfer{
		PostedVAA:    postedVAA,
		EmitterChain: vaa.emitterChain,
		Emitter:      vaa.emitter,
		Sequence:     vaa.sequence,
		OriginChain:  uint16(vaa.transfer.OriginChain),
		OriginToken:  vaa.transfer.OriginToken,
		To:           solana.PublicKeyFromBytes(vaa.transfer.To[:]),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build redemption: %w", err)
	}

	sig, err := l.client.SendTransaction(ctx, instructions, payer, signer.Sign)
	if err != nil {
		if redeemed, checkErr := l.client.AccountExists(ctx, claim); checkErr == nil && redeemed {
			return "", internal.ErrAlreadyRedeemed
		}
		return "", fmt.Errorf("failed to submit VAA to Solana: %w", err)
	}

	if err := l.waitFinalized(ctx, sig); err != nil {
		if errors.Is(err, clients.ErrTxReverted) {
			if redeemed, checkErr := l.client.AccountExists(ctx, claim); checkErr == nil && redeemed {
				return "", internal.ErrAlreadyRedeemed
			}
		}
		return sig, fmt.Errorf("redemption %s not confirmed: %w", sig, err)
	}

	l.logger.Info("VAA successfully redeemed on Solana",
		zap.String("signature", sig),
		zap.Uint16("emitterChain", vaa.emitterChain),
		zap.Uint64("sequence", vaa.sequence))
	return sig, nil
}

// waitFinalized waits until sig reaches finalized commitment.
func (l *SolanaLedger) waitFinalized(ctx context.Context, sig string) error {
	_, err := internal.Retry(ctx, inclusionPolicy, logRetry(l.logger, "Waiting for redemption to finalize"),
		func(ctx context.Context) (uint64, error) {
			finalized, slot, err := l.client.Confirmation(ctx, sig)
			switch {
			case errors.Is(err, clients.ErrTxReverted):
				return 0, internal.Permanent(err)
			case err != nil:
				return 0, err
			case !finalized:
				return 0, internal.ErrReceiptPending
			}
			return slot, nil
		})
	return err
}

// SolanaRecipientAccount returns the associated token account of wallet for
// the Solana mint that represents (originChain, originToken).
func SolanaRecipientAccount(tokenBridge solana.PublicKey, originChain uint16, originToken [32]byte, wallet string) ([32]byte, error) {
	var out [32]byte
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return out, fmt.Errorf("invalid Solana recipient %q: %v", wallet, err)
	}

	mint := solana.PublicKeyFromBytes(originToken[:])
	if originChain != clients.SolanaChainID {
		mint, err = clients.WrappedMint(tokenBridge, originChain, originToken)
		if err != nil {
			return out, err
		}
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return out, fmt.Errorf("derive recipient token account: %v", err)
	}
	copy(out[:], ata[:])
	return out, nil
}
