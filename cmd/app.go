package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/clients"
	"github.com/wormhole-demo/portal-transfer/internal/store"
	"github.com/wormhole-demo/portal-transfer/internal/submitter"
)

// app holds the clients shared by the pipeline commands.
type app struct {
	logger       *zap.Logger
	config       internal.Config
	store        store.Store
	attestations internal.AttestationService
	ethereum     *submitter.EVMLedger
	solana       *submitter.SolanaLedger
	ethSigner    internal.Signer
	solSigner    internal.Signer
	closers      []func()
}

// loadConfig builds the core configuration from flags, environment and config file.
func loadConfig() internal.Config {
	config := internal.DefaultConfig()
	ethChain := vaaLib.ChainID(viper.GetUint("ethereum_chain_id"))

	config.Bridges[ethChain] = internal.BridgeConfig{
		Kind:        internal.ChainKindEVM,
		TokenBridge: viper.GetString("ethereum_token_bridge"),
		CoreBridge:  viper.GetString("ethereum_core_bridge"),
	}
	config.Bridges[vaaLib.ChainIDSolana] = internal.BridgeConfig{
		Kind:        internal.ChainKindSolana,
		TokenBridge: viper.GetString("solana_token_bridge"),
		CoreBridge:  viper.GetString("solana_core_bridge"),
	}

	config.AttestationEndpoint = viper.GetString("attestation_endpoint")
	config.AttestationMaxAttempts = viper.GetInt("attestation_max_attempts")
	config.AttestationTimeout = viper.GetDuration("attestation_timeout")
	config.AttestationBackoff = viper.GetDuration("attestation_backoff")
	config.AttestationMaxBackoff = viper.GetDuration("attestation_max_backoff")
	config.ConfirmationTimeout = viper.GetDuration("confirmation_timeout")
	config.ConfirmationPollInterval = viper.GetDuration("confirmation_poll_interval")
	return config
}

// openStore returns the Redis store when an address is configured.
func openStore(logger *zap.Logger) store.Store {
	if addr := viper.GetString("redis_addr"); addr != "" {
		logger.Info("Using Redis snapshot store", zap.String("addr", addr))
		redisStore := store.NewRedis(addr)
		if err := redisStore.Ping(context.Background()); err != nil {
			logger.Warn("Redis is not reachable yet", zap.String("addr", addr), zap.Error(err))
		}
		return redisStore
	}
	return store.NewMemory()
}

func newApp(logger *zap.Logger) (*app, error) {
	a := &app{
		logger: logger,
		config: loadConfig(),
	}
	a.store = openStore(logger)
	a.closers = append(a.closers, func() { _ = a.store.Close() })

	if err := a.connect(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect() error {
	ethChain := vaaLib.ChainID(viper.GetUint("ethereum_chain_id"))
	ethBridge := a.config.Bridges[ethChain]
	solBridge := a.config.Bridges[vaaLib.ChainIDSolana]

	logger := a.logger
	logger.Info("Configuration",
		zap.String("ethereumRPC", viper.GetString("ethereum_rpc_url")),
		zap.String("solanaRPC", viper.GetString("solana_rpc_url")),
		zap.Uint16("ethereumChain", uint16(ethChain)),
		zap.String("ethereumTokenBridge", ethBridge.TokenBridge),
		zap.String("solanaTokenBridge", solBridge.TokenBridge),
		zap.String("attestationMode", viper.GetString("attestation_mode")),
		zap.String("attestationEndpoint", a.config.AttestationEndpoint),
		zap.String("vaaServiceURL", viper.GetString("vaa_service_url")))

	if a.config.AttestationEndpoint == "" {
		return fmt.Errorf("%w: attestation-endpoint is required", internal.ErrValidation)
	}
	switch mode := strings.ToLower(viper.GetString("attestation_mode")); mode {
	case "grpc":
		guardian, err := clients.NewGuardianClient(logger, a.config.AttestationEndpoint, viper.GetBool("attestation_plaintext"))
		if err != nil {
			return fmt.Errorf("failed to create guardian client: %v", err)
		}
		a.closers = append(a.closers, guardian.Close)
		a.attestations = guardian
	case "rest":
		a.attestations = clients.NewSignedVAAAPIClient(logger, a.config.AttestationEndpoint)
	default:
		return fmt.Errorf("%w: unknown attestation mode %q (valid: grpc, rest)", internal.ErrValidation, mode)
	}

	evmClient, err := clients.NewEVMClient(logger, viper.GetString("ethereum_rpc_url"))
	if err != nil {
		return fmt.Errorf("failed to create EVM client: %v", err)
	}
	a.ethereum, err = submitter.NewEVMLedger(logger, ethChain, ethBridge, solBridge.TokenBridge, evmClient)
	if err != nil {
		return err
	}

	var poster clients.VAAPoster
	if url := viper.GetString("vaa_service_url"); url != "" {
		poster = clients.NewVAAPostingClient(logger, url)
	}
	solClient, err := clients.NewSolanaClient(logger, viper.GetString("solana_rpc_url"), solBridge.TokenBridge, solBridge.CoreBridge, poster)
	if err != nil {
		return fmt.Errorf("failed to create Solana client: %v", err)
	}
	a.solana = submitter.NewSolanaLedger(logger, solClient)

	if key := viper.GetString("ethereum_private_key"); key != "" {
		signer, err := clients.NewEVMKeySigner(key)
		if err != nil {
			return fmt.Errorf("%w: ethereum private key: %v", internal.ErrValidation, err)
		}
		a.ethSigner = signer
		logger.Info("Ethereum signer loaded", zap.String("address", signer.Address()))
	}
	if key := viper.GetString("solana_private_key"); key != "" {
		signer, err := clients.NewSolanaKeySigner(key)
		if err != nil {
			return fmt.Errorf("%w: solana private key: %v", internal.ErrValidation, err)
		}
		a.solSigner = signer
		logger.Info("Solana signer loaded", zap.String("address", signer.Address()))
	}
	return nil
}

// orchestrator builds the pipeline of one direction. Both signers are needed:
// one pays on the source, the other redeems on the destination.
func (a *app) orchestrator(direction internal.Direction) (*internal.Orchestrator, error) {
	if a.ethSigner == nil || a.solSigner == nil {
		return nil, fmt.Errorf("%w: both ethereum-private-key and solana-private-key are required", internal.ErrValidation)
	}

	var route internal.Route
	switch direction {
	case internal.DirectionEthToSolana:
		route = internal.Route{
			Direction:    direction,
			Source:       a.ethereum,
			Destination:  a.solana,
			SourceSigner: a.ethSigner,
			DestSigner:   a.solSigner,
		}
	case internal.DirectionSolanaToEth:
		route = internal.Route{
			Direction:    direction,
			Source:       a.solana,
			Destination:  a.ethereum,
			SourceSigner: a.solSigner,
			DestSigner:   a.ethSigner,
		}
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", internal.ErrValidation, direction)
	}
	return internal.NewOrchestrator(a.logger, a.config, route, a.attestations, a.store), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}
