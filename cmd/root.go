package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	dotenv "github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wormhole-demo/portal-transfer/internal"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portal-transfer",
	Short: "Move tokens between Ethereum and Solana over the Wormhole token bridge",
	Long: `Submits a token bridge transfer on the source chain, waits for finality,
fetches the guardian-signed VAA and redeems it on the destination chain.

Failed transfers leave a snapshot that the resume command continues from
the failed stage without resubmitting the source transaction.`,
	SilenceUsage: true,
}

func init() {
	// Tentatively load .env file
	_ = dotenv.Load()

	flags := rootCmd.PersistentFlags()

	flags.Bool("debug", false, "Enables debug output.")
	flags.Bool("json", false, "Enables structured logging in JSON format.")
	flags.String("config", "", "Optional config file (yaml, toml or json).")

	// Ledger endpoints
	flags.String("ethereum-rpc-url", "http://localhost:8545", "Ethereum JSON-RPC endpoint")
	flags.String("solana-rpc-url", "http://localhost:8899", "Solana JSON-RPC endpoint")

	// Routing
	flags.Uint16("ethereum-chain-id", 2, "Wormhole chain ID of the EVM ledger")
	flags.String("ethereum-token-bridge", internal.EthereumTokenBridge, "Token bridge contract on Ethereum")
	flags.String("ethereum-core-bridge", internal.EthereumCoreBridge, "Wormhole core contract on Ethereum")
	flags.String("solana-token-bridge", internal.SolanaTokenBridge, "Token bridge program on Solana")
	flags.String("solana-core-bridge", internal.SolanaCoreBridge, "Wormhole core program on Solana")
	flags.String("vaa-service-url", "", "Service that posts VAAs to the Solana core bridge")

	// Attestation service
	defaults := internal.DefaultConfig()
	flags.String("attestation-mode", "grpc", "Attestation service protocol (grpc, rest)")
	flags.String("attestation-endpoint", "", "Guardian public RPC endpoint (host:port for grpc, URL for rest)")
	flags.Bool("attestation-plaintext", false, "Use plaintext gRPC (local devnets only)")
	flags.Int("attestation-max-attempts", defaults.AttestationMaxAttempts, "Attempts before an attestation fetch fails")
	flags.Duration("attestation-timeout", defaults.AttestationTimeout, "Timeout of one attestation request")
	flags.Duration("attestation-backoff", defaults.AttestationBackoff, "Initial wait between attestation requests")
	flags.Duration("attestation-max-backoff", defaults.AttestationMaxBackoff, "Maximum wait between attestation requests")

	// Confirmation
	flags.Duration("confirmation-timeout", defaults.ConfirmationTimeout, "Maximum wait for source finality")
	flags.Duration("confirmation-poll-interval", defaults.ConfirmationPollInterval, "Interval between finality checks")

	// Keys and storage
	flags.String("ethereum-private-key", "", "Hex secp256k1 key that signs Ethereum transactions")
	flags.String("solana-private-key", "", "Base58 ed25519 key that signs Solana transactions")
	flags.String("redis-addr", "", "Redis host:port for transfer snapshots (in-memory when empty)")

	// Bind flags to viper for env variable support
	flags.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	cobra.OnInitialize(initConfig)
}

// Execute runs the root command and exits with the code of the failure kind.
func Execute() {
	err := rootCmd.Execute()
	os.Exit(exitCode(err))
}

func initConfig() {
	viper.SetEnvPrefix("portal_transfer")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config file %s: %v\n", file, err)
			os.Exit(1)
		}
	}
}

// exitCodes maps failure kinds to process exit codes.
var exitCodes = map[error]int{
	internal.ErrValidation:          2,
	internal.ErrSubmission:          3,
	internal.ErrConfirmationTimeout: 4,
	internal.ErrReverted:            5,
	internal.ErrMalformedReceipt:    6,
	internal.ErrAttestationTimeout:  7,
	internal.ErrAttestationRejected: 8,
	internal.ErrRedemption:          9,
	internal.ErrCancelled:           10,
	internal.ErrNotResumable:        11,
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var te *internal.TransferError
	if errors.As(err, &te) {
		if code, ok := exitCodes[te.Kind]; ok {
			return code
		}
	}
	for kind, code := range exitCodes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return 1
}

func printBanner() {
	colours := []string{
		"\033[38;5;81m", // Cyan
		"\033[38;5;75m", // Light Blue
		"\033[38;5;69m", // Sky Blue
		"\033[38;5;63m", // Dodger Blue
		"\033[38;5;57m", // Deep Sky Blue
		"\033[38;5;51m", // Cornflower Blue
	}
	banner := `
 ____            _        _   _____                     __
|  _ \ ___  _ __| |_ __ _| | |_   _| __ __ _ _ __  ___ / _| ___ _ __
| |_) / _ \| '__| __/ _' | |   | || '__/ _' | '_ \/ __| |_ / _ \ '__|
|  __/ (_) | |  | || (_| | |   | || | | (_| | | | \__ \  _|  __/ |
|_|   \___/|_|   \__\__,_|_|   |_||_|  \__,_|_| |_|___/_|  \___|_|
`
	lines := strings.Split(banner, "\n")

	// remove empty lines
	for i := 0; i < len(lines); i++ {
		if lines[i] == "" {
			lines = append(lines[:i], lines[i+1:]...)
			i--
		}
	}

	// The banner goes to stderr so that stdout stays machine readable.
	for i, line := range lines {
		fmt.Fprintf(os.Stderr, "%s%s\n", colours[i%len(colours)], line)
	}

	fmt.Fprintln(os.Stderr, "\033[0m") // Reset
}

func configureLogging(cmd *cobra.Command, _ []string) *zap.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	json, _ := cmd.Flags().GetBool("json")

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.Development = true
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Configure JSON output if requested
	if json {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if config fails
		logger, _ = zap.NewProduction()
	}

	// Replace the global logger
	zap.ReplaceGlobals(logger)

	return logger
}
