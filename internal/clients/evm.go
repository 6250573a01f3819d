package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const tokenBridgeABIJSON = `[
	{"inputs": [
		{"internalType": "address", "name": "token", "type": "address"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"},
		{"internalType": "uint16", "name": "recipientChain", "type": "uint16"},
		{"internalType": "bytes32", "name": "recipient", "type": "bytes32"},
		{"internalType": "uint256", "name": "arbiterFee", "type": "uint256"},
		{"internalType": "uint32", "name": "nonce", "type": "uint32"}],
	 "name": "transferTokens",
	 "outputs": [{"internalType": "uint64", "name": "sequence", "type": "uint64"}],
	 "stateMutability": "payable", "type": "function"},
	{"inputs": [{"internalType": "bytes", "name": "encodedVm", "type": "bytes"}],
	 "name": "completeTransfer", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
	{"inputs": [{"internalType": "bytes32", "name": "hash", "type": "bytes32"}],
	 "name": "isTransferCompleted",
	 "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	 "stateMutability": "view", "type": "function"},
	{"inputs": [{"internalType": "address", "name": "token", "type": "address"}],
	 "name": "isWrappedAsset",
	 "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	 "stateMutability": "view", "type": "function"}
]`

const coreBridgeABIJSON = `[
	{"inputs": [], "name": "messageFee",
	 "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"}
]`

const erc20ABIJSON = `[
	{"inputs": [
		{"internalType": "address", "name": "owner", "type": "address"},
		{"internalType": "address", "name": "spender", "type": "address"}],
	 "name": "allowance",
	 "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"inputs": [
		{"internalType": "address", "name": "spender", "type": "address"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"}],
	 "name": "approve",
	 "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	 "stateMutability": "nonpayable", "type": "function"},
	{"inputs": [], "name": "chainId",
	 "outputs": [{"internalType": "uint16", "name": "", "type": "uint16"}],
	 "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "nativeContract",
	 "outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
	 "stateMutability": "view", "type": "function"}
]`

var (
	tokenBridgeABI = mustParseABI("token bridge", tokenBridgeABIJSON)
	coreBridgeABI  = mustParseABI("core bridge", coreBridgeABIJSON)
	erc20ABI       = mustParseABI("ERC20", erc20ABIJSON)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("%s ABI: %v", name, err))
	}
	return parsed
}

// defaultPriorityFee is used when the node cannot suggest a tip.
var defaultPriorityFee = big.NewInt(100000000) // 0.1 gwei

// ErrTxPending is returned by EVMClient.Receipt while a transaction is unmined.
var ErrTxPending = errors.New("transaction not yet mined")

// ErrTxReverted is returned by EVMClient.Receipt for status-0 receipts.
var ErrTxReverted = errors.New("transaction reverted")

// EVMBackend is the subset of ethclient.Client used by EVMClient.
type EVMBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMClient builds, broadcasts and tracks token bridge transactions on an
// EVM chain. It holds no key material: transactions are signed by the caller
// through SigningHash and SendSigned.
type EVMClient struct {
	client EVMBackend
	logger *zap.Logger
}

// NewEVMClient dials an EVM JSON-RPC endpoint.
func NewEVMClient(logger *zap.Logger, rpcURL string) (*EVMClient, error) {
	logger = logger.With(zap.String("component", "EVMClient"))
	logger.Info("Connecting to EVM chain", zap.String("rpcURL", rpcURL))
	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM node: %v", err)
	}
	return NewEVMClientFrom(logger, ethClient), nil
}

func NewEVMClientFrom(logger *zap.Logger, backend EVMBackend) *EVMClient {
	return &EVMClient{client: backend, logger: logger}
}

// PackTransferTokens encodes a token bridge transferTokens call.
func PackTransferTokens(token common.Address, amount *big.Int, recipientChain uint16, recipient [32]byte, nonce uint32) ([]byte, error) {
	data, err := tokenBridgeABI.Pack("transferTokens", token, amount, recipientChain, recipient, big.NewInt(0), nonce)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %v", err)
	}
	return data, nil
}

// PackCompleteTransfer encodes a token bridge completeTransfer call.
func PackCompleteTransfer(vaaBytes []byte) ([]byte, error) {
	data, err := tokenBridgeABI.Pack("completeTransfer", vaaBytes)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %v", err)
	}
	return data, nil
}

// PackApprove encodes an ERC20 approve call.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("ABI pack error: %v", err)
	}
	return data, nil
}

// BuildTx creates an unsigned EIP-1559 transaction from `from` to `to`.
func (c *EVMClient) BuildTx(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %v", err)
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %v", err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain %s does not support EIP-1559", chainID)
	}

	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		c.logger.Warn("Gas tip suggestion failed, using default", zap.Error(err))
		tip = defaultPriorityFee
	}
	// 2x base fee absorbs fluctuation until inclusion.
	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	gas += gas / 5

	c.logger.Debug("Gas fees calculated",
		zap.String("baseFee", header.BaseFee.String()),
		zap.String("maxFeePerGas", feeCap.String()),
		zap.String("maxPriorityFeePerGas", tip.String()),
		zap.Uint64("gasLimit", gas))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

// SigningHash returns the digest a signer must sign for tx.
func SigningHash(tx *types.Transaction) []byte {
	return types.LatestSignerForChainID(tx.ChainId()).Hash(tx).Bytes()
}

// SendSigned attaches a 65-byte [R || S || V] signature to tx and broadcasts it.
func (c *EVMClient) SendSigned(ctx context.Context, tx *types.Transaction, signature []byte) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("failed to attach signature: expected %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	signedTx, err := tx.WithSignature(types.LatestSignerForChainID(tx.ChainId()), signature)
	if err != nil {
		return "", fmt.Errorf("failed to attach signature: %v", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("Transaction sent", zap.String("txHash", signedTx.Hash().Hex()))
	return signedTx.Hash().Hex(), nil
}

// Receipt returns the receipt of txHash and whether its block is finalized.
// It returns ErrTxPending while unmined and ErrTxReverted for failed transactions.
func (c *EVMClient) Receipt(ctx context.Context, txHash string) (*types.Receipt, bool, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, ErrTxPending
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, false, fmt.Errorf("%w: %s in block %s", ErrTxReverted, txHash, receipt.BlockNumber)
	}

	finalized, err := c.client.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil {
		return receipt, false, fmt.Errorf("failed to get finalized header: %v", err)
	}
	return receipt, receipt.BlockNumber.Cmp(finalized.Number) <= 0, nil
}

func (c *EVMClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ABI pack %s: %v", method, err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("ABI unpack %s: %v", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

// MessageFee returns the core bridge fee in wei.
func (c *EVMClient) MessageFee(ctx context.Context, coreBridge common.Address) (*big.Int, error) {
	values, err := c.call(ctx, coreBridgeABI, coreBridge, "messageFee")
	if err != nil {
		return nil, err
	}
	fee, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected messageFee type %T", values[0])
	}
	return fee, nil
}

// Allowance returns the ERC20 allowance owner granted spender.
func (c *EVMClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := c.call(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}

// IsTransferCompleted reports whether the token bridge consumed the VAA with
// the given double-keccak digest.
func (c *EVMClient) IsTransferCompleted(ctx context.Context, tokenBridge common.Address, digest [32]byte) (bool, error) {
	values, err := c.call(ctx, tokenBridgeABI, tokenBridge, "isTransferCompleted", digest)
	if err != nil {
		return false, err
	}
	done, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isTransferCompleted type %T", values[0])
	}
	return done, nil
}

// TokenOrigin returns the Wormhole chain and 32-byte address a token was
// originally minted on. Tokens native to this chain report (localChain, token).
func (c *EVMClient) TokenOrigin(ctx context.Context, tokenBridge, token common.Address, localChain uint16) (uint16, [32]byte, error) {
	var native [32]byte
	values, err := c.call(ctx, tokenBridgeABI, tokenBridge, "isWrappedAsset", token)
	if err != nil {
		return 0, native, err
	}
	if wrapped, _ := values[0].(bool); !wrapped {
		copy(native[12:], token.Bytes())
		return localChain, native, nil
	}

	values, err = c.call(ctx, erc20ABI, token, "chainId")
	if err != nil {
		return 0, native, err
	}
	chain, ok := values[0].(uint16)
	if !ok {
		return 0, native, fmt.Errorf("unexpected chainId type %T", values[0])
	}
	values, err = c.call(ctx, erc20ABI, token, "nativeContract")
	if err != nil {
		return 0, native, err
	}
	native, ok = values[0].([32]byte)
	if !ok {
		return 0, native, fmt.Errorf("unexpected nativeContract type %T", values[0])
	}
	return chain, native, nil
}
