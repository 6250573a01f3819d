package internal

import (
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// ChainKind selects the address grammar and the receipt format of a ledger.
type ChainKind int

const (
	ChainKindUnknown ChainKind = iota
	ChainKindEVM
	ChainKindSolana
)

func (k ChainKind) String() string {
	switch k {
	case ChainKindEVM:
		return "evm"
	case ChainKindSolana:
		return "solana"
	}
	return "unknown"
}

// BridgeConfig holds the routing addresses of one ledger. EVM addresses are
// hex contract addresses, Solana addresses are base58 program IDs.
type BridgeConfig struct {
	Kind        ChainKind
	TokenBridge string
	CoreBridge  string
}

// Config is the read-only configuration shared by all pipelines.
type Config struct {
	Bridges map[vaaLib.ChainID]BridgeConfig

	AttestationEndpoint    string
	AttestationMaxAttempts int
	AttestationTimeout     time.Duration // per attempt
	AttestationBackoff     time.Duration
	AttestationMaxBackoff  time.Duration

	ConfirmationTimeout      time.Duration
	ConfirmationPollInterval time.Duration
}

// Mainnet Wormhole addresses.
const (
	EthereumTokenBridge = "0x3ee18B2214AFF97000D974cf647E7C347E8fa585"
	EthereumCoreBridge  = "0x98f3c9e6E3fAce36bAAd05FE09d375Ef1464288B"
	SolanaTokenBridge   = "wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb"
	SolanaCoreBridge    = "worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth"
)

// DefaultConfig returns retry bounds suited to guardian latency. Attestation
// can take many minutes on Ethereum, so the budget is generous.
func DefaultConfig() Config {
	return Config{
		Bridges:                  map[vaaLib.ChainID]BridgeConfig{},
		AttestationMaxAttempts:   60,
		AttestationTimeout:       15 * time.Second,
		AttestationBackoff:       2 * time.Second,
		AttestationMaxBackoff:    30 * time.Second,
		ConfirmationTimeout:      30 * time.Minute,
		ConfirmationPollInterval: 5 * time.Second,
	}
}

func (c Config) bridge(chain vaaLib.ChainID) (BridgeConfig, bool) {
	b, ok := c.Bridges[chain]
	return b, ok
}

func (c Config) attestationPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.AttestationMaxAttempts,
		AttemptTimeout: c.AttestationTimeout,
		InitialBackoff: c.AttestationBackoff,
		MaxBackoff:     c.AttestationMaxBackoff,
	}
}

func (c Config) confirmationPolicy() RetryPolicy {
	return RetryPolicy{
		AttemptTimeout: time.Minute,
		InitialBackoff: c.ConfirmationPollInterval,
		MaxBackoff:     c.ConfirmationPollInterval,
	}
}
