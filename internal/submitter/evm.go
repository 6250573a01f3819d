package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/clients"
)

// alreadyCompletedRevert is the token bridge revert reason for a replayed VAA.
const alreadyCompletedRevert = "transfer already completed"

// EVMChain is the part of clients.EVMClient used by EVMLedger.
type EVMChain interface {
	BuildTx(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (*types.Transaction, error)
	SendSigned(ctx context.Context, tx *types.Transaction, signature []byte) (string, error)
	Receipt(ctx context.Context, txHash string) (*types.Receipt, bool, error)
	MessageFee(ctx context.Context, coreBridge common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	IsTransferCompleted(ctx context.Context, tokenBridge common.Address, digest [32]byte) (bool, error)
	TokenOrigin(ctx context.Context, tokenBridge, token common.Address, localChain uint16) (uint16, [32]byte, error)
}

// EVMLedger moves tokens through the Portal token bridge contracts of an EVM chain.
type EVMLedger struct {
	chain       vaaLib.ChainID
	tokenBridge common.Address
	coreBridge  common.Address
	// solanaTokenBridge derives recipient token accounts for transfers to Solana.
	solanaTokenBridge solana.PublicKey
	client            EVMChain
	submitTimeout     time.Duration
	logger            *zap.Logger
}

// NewEVMLedger creates an EVM ledger adapter. solanaTokenBridge is the token
// bridge program of the Solana counterpart.
func NewEVMLedger(logger *zap.Logger, chain vaaLib.ChainID, bridge internal.BridgeConfig, solanaTokenBridge string, client EVMChain) (*EVMLedger, error) {
	l := &EVMLedger{
		chain:         chain,
		tokenBridge:   common.HexToAddress(bridge.TokenBridge),
		coreBridge:    common.HexToAddress(bridge.CoreBridge),
		client:        client,
		submitTimeout: 60 * time.Second,
		logger:        logger.With(zap.String("component", "EVMLedger"), zap.Uint16("chain", uint16(chain))),
	}
	if solanaTokenBridge != "" {
		pk, err := solana.PublicKeyFromBase58(solanaTokenBridge)
		if err != nil {
			return nil, fmt.Errorf("invalid Solana token bridge program: %v", err)
		}
		l.solanaTokenBridge = pk
	}
	return l, nil
}

func (l *EVMLedger) Chain() vaaLib.ChainID { return l.chain }

// Submit approves the token bridge if needed and calls transferTokens.
func (l *EVMLedger) Submit(ctx context.Context, req internal.TransferRequest, signer internal.Signer) (internal.SubmissionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.submitTimeout)
	defer cancel()

	from := common.HexToAddress(signer.Address())
	token := common.HexToAddress(req.AssetIdentifier)

	recipient, err := l.encodeRecipient(ctx, req, token)
	if err != nil {
		return internal.SubmissionHandle{}, err
	}

	if err := l.ensureAllowance(ctx, from, token, req.Amount, signer); err != nil {
		return internal.SubmissionHandle{}, err
	}

	fee, err := l.client.MessageFee(ctx, l.coreBridge)
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("failed to read message fee: %w", err)
	}

	data, err := clients.PackTransferTokens(token, req.Amount, uint16(req.DestinationChain), recipient, transferNonce())
	if err != nil {
		return internal.SubmissionHandle{}, err
	}

	l.logger.Info("Submitting token transfer",
		zap.String("transferId", req.ID),
		zap.String("token", token.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.Uint16("recipientChain", uint16(req.DestinationChain)),
		zap.String("recipient", common.Bytes2Hex(recipient[:])),
		zap.String("messageFee", fee.String()),
		zap.String("from", from.Hex()))

	txHash, err := l.signAndSend(ctx, from, l.tokenBridge, fee, data, signer)
	if err != nil {
		return internal.SubmissionHandle{}, fmt.Errorf("failed to submit transfer: %w", err)
	}
	return internal.SubmissionHandle{Chain: l.chain, TxID: txHash}, nil
}

// encodeRecipient returns the 32-byte recipient the token bridge expects.
// Solana recipients are the associated token account of the destination mint.
func (l *EVMLedger) encodeRecipient(ctx context.Context, req internal.TransferRequest, token common.Address) ([32]byte, error) {
	var out [32]byte
	if req.DestinationChain != vaaLib.ChainIDSolana {
		copy(out[12:], common.HexToAddress(req.RecipientAddress).Bytes())
		return out, nil
	}

	originChain, originToken, err := l.client.TokenOrigin(ctx, l.tokenBridge, token, uint16(l.chain))
	if err != nil {
		return out, fmt.Errorf("failed to resolve token origin: %w", err)
	}
	return SolanaRecipientAccount(l.solanaTokenBridge, originChain, originToken, req.RecipientAddress)
}

func (l *EVMLedger) ensureAllowance(ctx context.Context, from, token common.Address, amount *big.Int, signer internal.Signer) error {
	allowance, err := l.client.Allowance(ctx, token, from, l.tokenBridge)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	l.logger.Info("Approving token bridge",
		zap.String("token", token.Hex()),
		zap.String("allowance", allowance.String()),
		zap.String("amount", amount.String()))

	data, err := clients.PackApprove(l.tokenBridge, amount)
	if err != nil {
		return err
	}
	txHash, err := l.signAndSend(ctx, from, token, nil, data, signer)
	if err != nil {
		return fmt.Errorf("failed to approve token bridge: %w", err)
	}
	return l.waitMined(ctx, txHash)
}

func (l *EVMLedger) signAndSend(ctx context.Context, from, to common.Address, value *big.Int, data []byte, signer internal.Signer) (string, error) {
	tx, err := l.client.BuildTx(ctx, from, to, value, data)
	if err != nil {
		return "", err
	}
	signature, err := signer.Sign(ctx, clients.SigningHash(tx))
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	return l.client.SendSigned(ctx, tx, signature)
}

// waitMined waits until txHash is included, without waiting for finality.
func (l *EVMLedger) waitMined(ctx context.Context, txHash string) error {
	_, err := internal.Retry(ctx, inclusionPolicy, logRetry(l.logger, "Waiting for transaction inclusion"),
		func(ctx context.Context) (*types.Receipt, error) {
			r, _, err := l.client.Receipt(ctx, txHash)
			if errors.Is(err, clients.ErrTxReverted) {
				return nil, internal.Permanent(err)
			}
			return r, err
		})
	return err
}

// Receipt reports ErrReceiptPending until the transaction's block is finalized.
func (l *EVMLedger) Receipt(ctx context.Context, handle internal.SubmissionHandle) (*internal.FinalizedReceipt, error) {
	r, finalized, err := l.client.Receipt(ctx, handle.TxID)
	switch {
	case errors.Is(err, clients.ErrTxPending):
		return nil, internal.ErrReceiptPending
	case errors.Is(err, clients.ErrTxReverted):
		return nil, fmt.Errorf("%w: %v", internal.ErrReverted, err)
	case err != nil:
		return nil, err
	case !finalized:
		l.logger.Debug("Transaction mined but not finalized",
			zap.String("txHash", handle.TxID),
			zap.Stringer("block", r.BlockNumber))
		return nil, internal.ErrReceiptPending
	}
	return &internal.FinalizedReceipt{
		Chain:  l.chain,
		TxID:   handle.TxID,
		Height: r.BlockNumber.Uint64(),
		Logs:   r.Logs,
	}, nil
}

// Redeem calls completeTransfer with the VAA. The bridge's replay guard is
// consulted first and again when the call reverts.
func (l *EVMLedger) Redeem(ctx context.Context, attestation internal.Attestation, recipient string, signer internal.Signer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.submitTimeout)
	defer cancel()

	vaa, err := decodeTransfer(attestation, uint16(l.chain))
	if err != nil {
		return "", err
	}
	if recipient != "" {
		var want [32]byte
		copy(want[12:], common.HexToAddress(recipient).Bytes())
		if vaa.transfer.To != want {
			return "", fmt.Errorf("VAA pays %s, not %s", common.BytesToAddress(vaa.transfer.To[12:]).Hex(), recipient)
		}
	}

	digest, err := internal.VAADigest(attestation)
	if err != nil {
		return "", err
	}
	done, err := l.client.IsTransferCompleted(ctx, l.tokenBridge, digest)
	if err != nil {
		return "", fmt.Errorf("failed to check transfer completion: %w", err)
	}
	if done {
		return "", internal.ErrAlreadyRedeemed
	}

	data, err := clients.PackCompleteTransfer(attestation)
	if err != nil {
		return "", err
	}

	l.logger.Info("Submitting VAA to EVM",
		zap.Int("vaaLength", len(attestation)),
		zap.String("tokenBridge", l.tokenBridge.Hex()),
		zap.Uint64("sequence", vaa.sequence),
		zap.String("amount", vaa.transfer.Amount.String()))

	from := common.HexToAddress(signer.Address())
	txHash, err := l.signAndSend(ctx, from, l.tokenBridge, nil, data, signer)
	if err != nil {
		if strings.Contains(err.Error(), alreadyCompletedRevert) {
			return "", internal.ErrAlreadyRedeemed
		}
		return "", fmt.Errorf("failed to submit VAA to EVM: %w", err)
	}

	if err := l.waitMined(ctx, txHash); err != nil {
		if errors.Is(err, clients.ErrTxReverted) {
			if done, checkErr := l.client.IsTransferCompleted(ctx, l.tokenBridge, digest); checkErr == nil && done {
				return "", internal.ErrAlreadyRedeemed
			}
		}
		return txHash, fmt.Errorf("redemption %s not confirmed: %w", txHash, err)
	}

	l.logger.Info("VAA successfully redeemed on EVM",
		zap.String("txHash", txHash),
		zap.String("tokenBridge", l.tokenBridge.Hex()))
	return txHash, nil
}
