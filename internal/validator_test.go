package internal

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

func TestValidateAcceptsWellFormedRequests(t *testing.T) {
	cfg := testConfig()

	require.NoError(t, Validate(ethToSolanaRequest(), cfg))

	back := NewTransferRequest(vaaLib.ChainIDSolana, vaaLib.ChainIDEthereum,
		testSolWallet, big.NewInt(1), "", EthereumTokenBridge, "")
	require.NoError(t, Validate(back, cfg))
}

func TestValidateRejectsBadRequests(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name   string
		mutate func(r *TransferRequest)
	}{
		{"zero amount", func(r *TransferRequest) { r.Amount = big.NewInt(0) }},
		{"negative amount", func(r *TransferRequest) { r.Amount = big.NewInt(-5) }},
		{"missing amount", func(r *TransferRequest) { r.Amount = nil }},
		{"missing asset", func(r *TransferRequest) { r.AssetIdentifier = "" }},
		{"missing recipient", func(r *TransferRequest) { r.RecipientAddress = "" }},
		{"recipient not base58", func(r *TransferRequest) { r.RecipientAddress = "not-a-valid-address" }},
		// A valid EVM address is still the wrong grammar for a Solana recipient.
		{"recipient in source grammar", func(r *TransferRequest) { r.RecipientAddress = testEVMWallet }},
		{"asset in destination grammar", func(r *TransferRequest) { r.AssetIdentifier = testSolWallet }},
		{"asset without 0x", func(r *TransferRequest) { r.AssetIdentifier = testToken[2:] }},
		{"bad sender", func(r *TransferRequest) { r.SenderAddress = "0x1234" }},
		{"same chain", func(r *TransferRequest) { r.DestinationChain = r.SourceChain }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ethToSolanaRequest()
			tt.mutate(&req)
			err := Validate(req, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateRejectsMissingRouting(t *testing.T) {
	t.Run("no attestation endpoint", func(t *testing.T) {
		cfg := testConfig()
		cfg.AttestationEndpoint = ""
		err := Validate(ethToSolanaRequest(), cfg)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "attestation")
	})

	t.Run("no destination bridge", func(t *testing.T) {
		cfg := testConfig()
		delete(cfg.Bridges, vaaLib.ChainIDSolana)
		assert.ErrorIs(t, Validate(ethToSolanaRequest(), cfg), ErrValidation)
	})

	t.Run("empty core bridge", func(t *testing.T) {
		cfg := testConfig()
		b := cfg.Bridges[vaaLib.ChainIDEthereum]
		b.CoreBridge = ""
		cfg.Bridges[vaaLib.ChainIDEthereum] = b
		assert.ErrorIs(t, Validate(ethToSolanaRequest(), cfg), ErrValidation)
	})

	t.Run("token bridge in wrong grammar", func(t *testing.T) {
		cfg := testConfig()
		b := cfg.Bridges[vaaLib.ChainIDSolana]
		b.TokenBridge = EthereumTokenBridge
		cfg.Bridges[vaaLib.ChainIDSolana] = b
		assert.ErrorIs(t, Validate(ethToSolanaRequest(), cfg), ErrValidation)
	})
}

func TestValidateEVMAddressChecksum(t *testing.T) {
	assert.NoError(t, ValidateEVMAddress(EthereumTokenBridge))
	assert.NoError(t, ValidateEVMAddress("0x3ee18b2214aff97000d974cf647e7c347e8fa585"))
	assert.NoError(t, ValidateEVMAddress("0x3EE18B2214AFF97000D974CF647E7C347E8FA585"))
	// One letter flipped to the wrong case.
	assert.Error(t, ValidateEVMAddress("0x3Ee18B2214AFF97000D974cf647E7C347E8fa585"))
	assert.Error(t, ValidateEVMAddress(""))
}

func TestValidateSolanaAddress(t *testing.T) {
	assert.NoError(t, ValidateSolanaAddress(testSolWallet))
	assert.NoError(t, ValidateSolanaAddress(SolanaTokenBridge))
	assert.Error(t, ValidateSolanaAddress("0OIl"))
	assert.Error(t, ValidateSolanaAddress("abc"))
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 1000000 ")
	require.NoError(t, err)
	assert.Equal(t, "1000000", amount.String())

	amount, err = ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", amount.String())

	for _, bad := range []string{"", "1.5", "1e6", "0x10", "ten", "+1000", "1_000"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}

	// Negative amounts parse; the validator rejects them.
	amount, err = ParseAmount("-5")
	require.NoError(t, err)
	assert.Equal(t, -1, amount.Sign())
}
