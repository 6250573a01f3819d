package clients

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Wormhole chain IDs of the ledgers this package talks to.
const (
	SolanaChainID   uint16 = 1
	EthereumChainID uint16 = 2
)

// Token bridge instruction indices.
const (
	ixCompleteNative  = 2
	ixCompleteWrapped = 3
	ixTransferWrapped = 4
	ixTransferNative  = 5
)

// PDA seeds of the token bridge and core bridge programs.
var (
	SeedConfig          = []byte("config")
	SeedEmitter         = []byte("emitter")
	SeedAuthoritySigner = []byte("authority_signer")
	SeedCustodySigner   = []byte("custody_signer")
	SeedMintSigner      = []byte("mint_signer")
	SeedWrapped         = []byte("wrapped")
	SeedWrappedMeta     = []byte("meta")
	SeedBridge          = []byte("Bridge")
	SeedSequence        = []byte("Sequence")
	SeedFeeCollector    = []byte("fee_collector")
	SeedPostedVAA       = []byte("PostedVAA")
)

// bridgeFeeOffset is the offset of the u64 message fee in the core Bridge account:
// guardian_set_index u32, last_lamports u64, guardian_set_expiration_time u32, fee u64.
const bridgeFeeOffset = 16

// SignFunc signs a serialized transaction message with the fee payer's key.
type SignFunc func(ctx context.Context, message []byte) ([]byte, error)

// SolanaRPC is the subset of rpc.Client used by SolanaClient.
type SolanaRPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, transaction *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// VAAPoster posts a VAA to the core bridge on behalf of the client.
type VAAPoster interface {
	PostVAA(ctx context.Context, vaaBytes []byte) (string, error)
}

// SolanaClient builds and tracks Portal token bridge transactions on Solana.
// Like EVMClient it holds no long-lived keys; the fee payer signs through a
// SignFunc and only the one-shot message account key is generated here.
type SolanaClient struct {
	client       SolanaRPC
	tokenBridge  solana.PublicKey
	coreBridge   solana.PublicKey
	poster       VAAPoster
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewSolanaClient creates a client for the given token bridge and core bridge
// program IDs. poster may be nil when VAAs are posted by someone else.
func NewSolanaClient(logger *zap.Logger, rpcURL, tokenBridge, coreBridge string, poster VAAPoster) (*SolanaClient, error) {
	logger.With(zap.String("component", "SolanaClient")).Info("Connecting to Solana", zap.String("rpcURL", rpcURL))
	return NewSolanaClientFrom(logger, rpc.New(rpcURL), tokenBridge, coreBridge, poster)
}

func NewSolanaClientFrom(logger *zap.Logger, client SolanaRPC, tokenBridge, coreBridge string, poster VAAPoster) (*SolanaClient, error) {
	tb, err := solana.PublicKeyFromBase58(tokenBridge)
	if err != nil {
		return nil, fmt.Errorf("invalid token bridge program ID: %v", err)
	}
	core, err := solana.PublicKeyFromBase58(coreBridge)
	if err != nil {
		return nil, fmt.Errorf("invalid core bridge program ID: %v", err)
	}

	c := &SolanaClient{
		client:       client,
		tokenBridge:  tb,
		coreBridge:   core,
		poster:       poster,
		pollInterval: 2 * time.Second,
		logger:       logger.With(zap.String("component", "SolanaClient")),
	}
	c.logger.Info("Solana client initialized",
		zap.String("tokenBridge", tb.String()),
		zap.String("coreBridge", core.String()),
		zap.Bool("vaaPoster", poster != nil))
	return c, nil
}

func (c *SolanaClient) TokenBridge() solana.PublicKey { return c.tokenBridge }

func (c *SolanaClient) CoreBridge() solana.PublicKey { return c.coreBridge }

func findPDA(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive PDA: %v", err)
	}
	return pda, nil
}

func u16BE(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// WrappedMint derives the mint the token bridge uses for a foreign token.
func WrappedMint(tokenBridge solana.PublicKey, originChain uint16, originToken [32]byte) (solana.PublicKey, error) {
	return findPDA(tokenBridge, SeedWrapped, u16BE(originChain), originToken[:])
}

// ClaimAccount derives the replay-protection account of a token bridge VAA.
func ClaimAccount(tokenBridge solana.PublicKey, emitter [32]byte, emitterChain uint16, sequence uint64) (solana.PublicKey, error) {
	return findPDA(tokenBridge, emitter[:], u16BE(emitterChain), u64BE(sequence))
}

// EndpointAccount derives the registered foreign emitter account.
func EndpointAccount(tokenBridge solana.PublicKey, emitterChain uint16, emitter [32]byte) (solana.PublicKey, error) {
	return findPDA(tokenBridge, u16BE(emitterChain), emitter[:])
}

// PostedVAAAccount derives the core bridge account that holds a posted VAA.
func PostedVAAAccount(coreBridge solana.PublicKey, bodyHash [32]byte) (solana.PublicKey, error) {
	return findPDA(coreBridge, SeedPostedVAA, bodyHash[:])
}

// AccountExists reports whether account holds data.
func (c *SolanaClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", account, err)
	}
	return info != nil && info.Value != nil, nil
}

// BridgeFee returns the core bridge message fee in lamports.
func (c *SolanaClient) BridgeFee(ctx context.Context) (uint64, error) {
	bridge, err := findPDA(c.coreBridge, SeedBridge)
	if err != nil {
		return 0, err
	}
	info, err := c.client.GetAccountInfo(ctx, bridge)
	if err != nil {
		return 0, fmt.Errorf("get core bridge account: %w", err)
	}
	if info == nil || info.Value == nil {
		return 0, fmt.Errorf("core bridge account %s not found", bridge)
	}
	data := info.Value.Data.GetBinary()
	if len(data) < bridgeFeeOffset+8 {
		return 0, fmt.Errorf("core bridge account too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[bridgeFeeOffset : bridgeFeeOffset+8]), nil
}

// TransferInstructions builds the approve, fee and token bridge transfer
// instructions that move amount of mint from the payer's associated token
// account to target on targetChain. The returned key must co-sign as the
// message account.
func (c *SolanaClient) TransferInstructions(ctx context.Context, payer, mint solana.PublicKey, amount uint64, targetChain uint16, target [32]byte, nonce uint32) ([]solana.Instruction, solana.PrivateKey, error) {
	from, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive source token account: %v", err)
	}
	wrappedMeta, err := findPDA(c.tokenBridge, SeedWrappedMeta, mint[:])
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := c.AccountExists(ctx, wrappedMeta)
	if err != nil {
		return nil, nil, err
	}
	fee, err := c.BridgeFee(ctx)
	if err != nil {
		return nil, nil, err
	}

	message, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate message account: %v", err)
	}

	config, err := findPDA(c.tokenBridge, SeedConfig)
	if err != nil {
		return nil, nil, err
	}
	authoritySigner, err := findPDA(c.tokenBridge, SeedAuthoritySigner)
	if err != nil {
		return nil, nil, err
	}
	emitter, err := findPDA(c.tokenBridge, SeedEmitter)
	if err != nil {
		return nil, nil, err
	}
	bridge, err := findPDA(c.coreBridge, SeedBridge)
	if err != nil {
		return nil, nil, err
	}
	sequence, err := findPDA(c.coreBridge, SeedSequence, emitter[:])
	if err != nil {
		return nil, nil, err
	}
	feeCollector, err := findPDA(c.coreBridge, SeedFeeCollector)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, 1+4+8+8+32+2)
	binary.LittleEndian.PutUint32(data[1:5], nonce)
	binary.LittleEndian.PutUint64(data[5:13], amount)
	// data[13:21] is the relayer fee, always zero.
	copy(data[21:53], target[:])
	binary.LittleEndian.PutUint16(data[53:55], targetChain)

	var accounts []*solana.AccountMeta
	if wrapped {
		data[0] = ixTransferWrapped
		accounts = []*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: config},
			{PublicKey: from, IsWritable: true},
			{PublicKey: payer, IsSigner: true}, // from_owner
			{PublicKey: mint, IsWritable: true},
			{PublicKey: wrappedMeta},
			{PublicKey: authoritySigner},
			{PublicKey: bridge, IsWritable: true},
			{PublicKey: message.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: emitter},
			{PublicKey: sequence, IsWritable: true},
			{PublicKey: feeCollector, IsWritable: true},
			{PublicKey: solana.SysVarClockPubkey},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: c.coreBridge},
			{PublicKey: solana.TokenProgramID},
		}
	} else {
		data[0] = ixTransferNative
		custody, err := findPDA(c.tokenBridge, mint[:])
		if err != nil {
			return nil, nil, err
		}
		custodySigner, err := findPDA(c.tokenBridge, SeedCustodySigner)
		if err != nil {
			return nil, nil, err
		}
		accounts = []*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: config},
			{PublicKey: from, IsWritable: true},
			{PublicKey: mint, IsWritable: true},
			{PublicKey: custody, IsWritable: true},
			{PublicKey: authoritySigner},
			{PublicKey: custodySigner},
			{PublicKey: bridge, IsWritable: true},
			{PublicKey: message.PublicKey(), IsSigner: true, IsWritable: true},
			{PublicKey: emitter},
			{PublicKey: sequence, IsWritable: true},
			{PublicKey: feeCollector, IsWritable: true},
			{PublicKey: solana.SysVarClockPubkey},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: c.coreBridge},
			{PublicKey: solana.TokenProgramID},
		}
	}

	c.logger.Debug("Built token bridge transfer",
		zap.String("mint", mint.String()),
		zap.Bool("wrapped", wrapped),
		zap.Uint64("amount", amount),
		zap.Uint16("targetChain", targetChain),
		zap.Uint64("bridgeFee", fee))

	instructions := []solana.Instruction{approveInstruction(from, authoritySigner, payer, amount)}
	if fee > 0 {
		instructions = append(instructions, systemTransferInstruction(payer, feeCollector, fee))
	}
	instructions = append(instructions, solana.NewInstruction(c.tokenBridge, accounts, data))
	return instructions, message, nil
}

// CompleteTransfer describes the redemption of one posted token bridge VAA.
type CompleteTransfer struct {
	PostedVAA    solana.PublicKey
	EmitterChain uint16
	Emitter      [32]byte
	Sequence     uint64
	OriginChain  uint16
	OriginToken  [32]byte
	To           solana.PublicKey
}

// CompleteTransferInstructions builds the redemption of t, creating the
// recipient's associated token account when it is missing.
func (c *SolanaClient) CompleteTransferInstructions(ctx context.Context, payer, recipient solana.PublicKey, t CompleteTransfer) ([]solana.Instruction, error) {
	config, err := findPDA(c.tokenBridge, SeedConfig)
	if err != nil {
		return nil, err
	}
	claim, err := ClaimAccount(c.tokenBridge, t.Emitter, t.EmitterChain, t.Sequence)
	if err != nil {
		return nil, err
	}
	endpoint, err := EndpointAccount(c.tokenBridge, t.EmitterChain, t.Emitter)
	if err != nil {
		return nil, err
	}

	var (
		mint     solana.PublicKey
		data     = []byte{ixCompleteNative}
		accounts []*solana.AccountMeta
	)
	if t.OriginChain == SolanaChainID {
		mint = solana.PublicKeyFromBytes(t.OriginToken[:])
		custody, err := findPDA(c.tokenBridge, mint[:])
		if err != nil {
			return nil, err
		}
		custodySigner, err := findPDA(c.tokenBridge, SeedCustodySigner)
		if err != nil {
			return nil, err
		}
		accounts = []*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: config},
			{PublicKey: t.PostedVAA},
			{PublicKey: claim, IsWritable: true},
			{PublicKey: endpoint},
			{PublicKey: t.To, IsWritable: true},
			{PublicKey: t.To, IsWritable: true}, // to_fees
			{PublicKey: custody, IsWritable: true},
			{PublicKey: mint},
			{PublicKey: custodySigner},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: solana.TokenProgramID},
			{PublicKey: c.coreBridge},
		}
	} else {
		data[0] = ixCompleteWrapped
		mint, err = WrappedMint(c.tokenBridge, t.OriginChain, t.OriginToken)
		if err != nil {
			return nil, err
		}
		wrappedMeta, err := findPDA(c.tokenBridge, SeedWrappedMeta, mint[:])
		if err != nil {
			return nil, err
		}
		mintSigner, err := findPDA(c.tokenBridge, SeedMintSigner)
		if err != nil {
			return nil, err
		}
		accounts = []*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: config},
			{PublicKey: t.PostedVAA},
			{PublicKey: claim, IsWritable: true},
			{PublicKey: endpoint},
			{PublicKey: t.To, IsWritable: true},
			{PublicKey: t.To, IsWritable: true}, // to_fees
			{PublicKey: mint, IsWritable: true},
			{PublicKey: wrappedMeta},
			{PublicKey: mintSigner},
			{PublicKey: solana.SysVarRentPubkey},
			{PublicKey: solana.SystemProgramID},
			{PublicKey: solana.TokenProgramID},
			{PublicKey: c.coreBridge},
		}
	}

	var instructions []solana.Instruction
	ata, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("derive recipient token account: %v", err)
	}
	if ata.Equals(t.To) {
		exists, err := c.AccountExists(ctx, ata)
		if err != nil {
			return nil, err
		}
		if !exists {
			c.logger.Info("Creating recipient token account",
				zap.String("owner", recipient.String()),
				zap.String("tokenAccount", ata.String()))
			instructions = append(instructions, createATAInstruction(payer, ata, recipient, mint))
		}
	}
	return append(instructions, solana.NewInstruction(c.tokenBridge, accounts, data)), nil
}

// SendTransaction assembles instructions into a transaction paid by payer,
// signs it with sign and any extra keys, and broadcasts it.
func (c *SolanaClient) SendTransaction(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, sign SignFunc, extra ...solana.PrivateKey) (string, error) {
	recent, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get recent blockhash: %v", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %v", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %v", err)
	}

	signers := tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures]
	tx.Signatures = make([]solana.Signature, len(signers))
	for i, key := range signers {
		if key.Equals(payer) {
			raw, err := sign(ctx, message)
			if err != nil {
				return "", fmt.Errorf("failed to sign transaction: %w", err)
			}
			if len(raw) != len(solana.Signature{}) {
				return "", fmt.Errorf("signer returned %d-byte signature", len(raw))
			}
			copy(tx.Signatures[i][:], raw)
			continue
		}
		signed := false
		for _, k := range extra {
			if k.PublicKey().Equals(key) {
				sig, err := k.Sign(message)
				if err != nil {
					return "", fmt.Errorf("failed to sign transaction: %v", err)
				}
				tx.Signatures[i] = sig
				signed = true
				break
			}
		}
		if !signed {
			return "", fmt.Errorf("no key for required signer %s", key)
		}
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("Transaction sent", zap.String("signature", sig.String()))
	return sig.String(), nil
}

// Confirmation reports the finality of a transaction signature. It returns
// ErrTxPending until the cluster knows the signature and ErrTxReverted if the
// transaction failed.
func (c *SolanaClient) Confirmation(ctx context.Context, signature string) (finalized bool, slot uint64, err error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, 0, fmt.Errorf("invalid signature %q: %v", signature, err)
	}
	statuses, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get signature status: %v", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, 0, ErrTxPending
	}
	status := statuses.Value[0]
	if status.Err != nil {
		return false, status.Slot, fmt.Errorf("%w: %s: %v", ErrTxReverted, signature, status.Err)
	}
	return status.ConfirmationStatus == rpc.ConfirmationStatusFinalized, status.Slot, nil
}

// TransactionLogs returns the program logs of a finalized transaction.
func (c *SolanaClient) TransactionLogs(ctx context.Context, signature string) ([]string, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %v", signature, err)
	}
	maxVersion := uint64(0)
	tx, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", signature)
	}
	return tx.Meta.LogMessages, nil
}

// PostVAA makes sure the VAA with the given body hash is posted to the core
// bridge, calling the VAA posting service when it is not.
func (c *SolanaClient) PostVAA(ctx context.Context, vaaBytes []byte, bodyHash [32]byte) (solana.PublicKey, error) {
	postedVAA, err := PostedVAAAccount(c.coreBridge, bodyHash)
	if err != nil {
		return solana.PublicKey{}, err
	}

	posted, err := c.AccountExists(ctx, postedVAA)
	if err != nil {
		c.logger.Warn("Failed to check posted VAA account", zap.Error(err))
	}
	if posted {
		c.logger.Info("VAA already posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
		return postedVAA, nil
	}

	if c.poster == nil {
		return solana.PublicKey{}, fmt.Errorf("VAA not yet posted to Wormhole at %s and no VAA service configured", postedVAA)
	}
	if _, err := c.poster.PostVAA(ctx, vaaBytes); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to post VAA via service: %w", err)
	}

	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return solana.PublicKey{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if posted, err := c.AccountExists(ctx, postedVAA); err == nil && posted {
			c.logger.Info("VAA successfully posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
			return postedVAA, nil
		}
		c.logger.Debug("Waiting for VAA to be posted", zap.Int("attempt", i+1))
	}
	return solana.PublicKey{}, fmt.Errorf("VAA was posted but %s not found on chain", postedVAA)
}

func approveInstruction(source, delegate, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 4 // spl-token Approve
	binary.LittleEndian.PutUint64(data[1:], amount)
	return solana.NewInstruction(solana.TokenProgramID, []*solana.AccountMeta{
		{PublicKey: source, IsWritable: true},
		{PublicKey: delegate},
		{PublicKey: owner, IsSigner: true},
	}, data)
}

func systemTransferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // system Transfer
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return solana.NewInstruction(solana.SystemProgramID, []*solana.AccountMeta{
		{PublicKey: from, IsSigner: true, IsWritable: true},
		{PublicKey: to, IsWritable: true},
	}, data)
}

func createATAInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, []*solana.AccountMeta{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsWritable: true},
		{PublicKey: owner},
		{PublicKey: mint},
		{PublicKey: solana.SystemProgramID},
		{PublicKey: solana.TokenProgramID},
	}, []byte{1}) // CreateIdempotent
}
