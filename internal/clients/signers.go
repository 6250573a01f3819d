package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

// EVMKeySigner signs transaction digests with a hex-encoded secp256k1 key.
// The key is parsed on every Sign call and dropped afterwards.
type EVMKeySigner struct {
	keyHex  string
	address string
}

func NewEVMKeySigner(privateKeyHex string) (*EVMKeySigner, error) {
	key, err := parseECDSAKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	publicKey, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	return &EVMKeySigner{
		keyHex:  privateKeyHex,
		address: crypto.PubkeyToAddress(*publicKey).Hex(),
	}, nil
}

func (s *EVMKeySigner) Address() string { return s.address }

// Sign returns a 65-byte [R || S || V] signature over a 32-byte digest.
func (s *EVMKeySigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("EVM signer expects a 32-byte digest, got %d bytes", len(digest))
	}
	key, err := parseECDSAKey(s.keyHex)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest, key)
}

func parseECDSAKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return key, nil
}

// SolanaKeySigner signs serialized transaction messages with a base58 ed25519 key.
type SolanaKeySigner struct {
	keyBase58 string
	address   string
}

func NewSolanaKeySigner(privateKeyBase58 string) (*SolanaKeySigner, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return &SolanaKeySigner{
		keyBase58: strings.TrimSpace(privateKeyBase58),
		address:   key.PublicKey().String(),
	}, nil
}

func (s *SolanaKeySigner) Address() string { return s.address }

func (s *SolanaKeySigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := solana.PrivateKeyFromBase58(s.keyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	sig, err := key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %v", err)
	}
	return sig[:], nil
}
