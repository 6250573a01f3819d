package internal

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// ValidateEVMAddress checks the 0x-prefixed 20-byte hex grammar. Mixed-case
// input must carry a valid EIP-55 checksum.
func ValidateEVMAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return fmt.Errorf("%q is not a 0x-prefixed 20-byte hex address", addr)
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr != checksummed {
		return fmt.Errorf("%q has an invalid EIP-55 checksum", addr)
	}
	if err := ethav.Validate(checksummed); err != nil {
		return fmt.Errorf("%q: %v", addr, err)
	}
	return nil
}

// ValidateSolanaAddress checks the base58 grammar of a 32-byte public key.
func ValidateSolanaAddress(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return fmt.Errorf("%q is not a base58 32-byte public key", addr)
	}
	return nil
}

// ValidateAddress applies the grammar of the given chain kind.
func ValidateAddress(kind ChainKind, addr string) error {
	switch kind {
	case ChainKindEVM:
		return ValidateEVMAddress(addr)
	case ChainKindSolana:
		return ValidateSolanaAddress(addr)
	}
	return fmt.Errorf("no address grammar for chain kind %s", kind)
}

func addressRule(kind ChainKind) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		return ValidateAddress(kind, s)
	})
}

var positiveAmount = validation.By(func(value interface{}) error {
	amount, _ := value.(*big.Int)
	if amount == nil {
		return nil
	}
	if amount.Sign() <= 0 {
		return errors.New("must be a positive integer in smallest units")
	}
	return nil
})

// Validate checks a request against the configuration without any I/O. The
// asset and sender are checked against the source grammar, the recipient
// against the destination grammar.
func Validate(req TransferRequest, cfg Config) error {
	if req.SourceChain == req.DestinationChain {
		return fmt.Errorf("%w: source and destination chain are both %d", ErrValidation, uint16(req.SourceChain))
	}

	src, srcOK := cfg.bridge(req.SourceChain)
	dst, dstOK := cfg.bridge(req.DestinationChain)

	fieldErrs := validation.Errors{}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.AssetIdentifier, validation.Required, addressRule(src.Kind)),
		validation.Field(&req.Amount, validation.Required, positiveAmount),
		validation.Field(&req.SenderAddress, addressRule(src.Kind)),
		validation.Field(&req.RecipientAddress, validation.Required, addressRule(dst.Kind)),
	); err != nil {
		var errs validation.Errors
		if !errors.As(err, &errs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for field, fieldErr := range errs {
			fieldErrs[field] = fieldErr
		}
	}

	if err := validateRouting(req.SourceChain, src, srcOK); err != nil {
		fieldErrs["sourceRouting"] = err
	}
	if err := validateRouting(req.DestinationChain, dst, dstOK); err != nil {
		fieldErrs["destinationRouting"] = err
	}
	if err := validation.Validate(cfg.AttestationEndpoint, validation.Required.Error("attestation service endpoint is not configured")); err != nil {
		fieldErrs["attestationEndpoint"] = err
	}

	if err := fieldErrs.Filter(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func validateRouting(chain vaaLib.ChainID, b BridgeConfig, ok bool) error {
	if !ok {
		return fmt.Errorf("chain %d has no bridge configuration", uint16(chain))
	}
	return validation.ValidateStruct(&b,
		validation.Field(&b.Kind, validation.Required.Error("unsupported chain kind"), validation.In(ChainKindEVM, ChainKindSolana).Error("unsupported chain kind")),
		validation.Field(&b.TokenBridge, validation.Required, addressRule(b.Kind)),
		validation.Field(&b.CoreBridge, validation.Required, addressRule(b.Kind)),
	)
}
