package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
)

var ethToSolanaCmd = newTransferCmd(internal.DirectionEthToSolana,
	"Transfer an ERC20 token from Ethereum to Solana",
	`Locks or burns the ERC20 token on Ethereum through the token bridge, waits for
the finalized block, fetches the signed VAA and completes the transfer into the
recipient's associated token account on Solana.

--asset is the ERC20 contract address and --recipient the Solana wallet.`)

var solanaToEthCmd = newTransferCmd(internal.DirectionSolanaToEth,
	"Transfer an SPL token from Solana to Ethereum",
	`Locks or burns the SPL token on Solana through the token bridge, waits for
finalized commitment, fetches the signed VAA and completes the transfer on
Ethereum.

--asset is the SPL mint and --recipient the Ethereum address.`)

func init() {
	rootCmd.AddCommand(ethToSolanaCmd)
	rootCmd.AddCommand(solanaToEthCmd)
}

func newTransferCmd(direction internal.Direction, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(direction),
		Short: short,
		Long:  long,
		PreRun: func(cmd *cobra.Command, args []string) {
			printBanner()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args, direction)
		},
	}

	cmd.Flags().String("asset", "", "Token to transfer on the source chain (required)")
	cmd.Flags().String("amount", "", "Amount in the token's smallest unit (required)")
	cmd.Flags().String("recipient", "", "Recipient wallet on the destination chain (required)")
	cmd.Flags().String("label", "", "Optional display label for the asset")

	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("recipient")
	return cmd
}

func runTransfer(cmd *cobra.Command, args []string, direction internal.Direction) error {
	logger := configureLogging(cmd, args)
	logger.Info("Starting transfer", zap.String("direction", string(direction)))

	// Get flags directly from command (viper bindings conflict across commands)
	asset, _ := cmd.Flags().GetString("asset")
	amount, _ := cmd.Flags().GetString("amount")
	recipient, _ := cmd.Flags().GetString("recipient")
	label, _ := cmd.Flags().GetString("label")

	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.orchestrator(direction)
	if err != nil {
		return err
	}
	req, err := pipeline.NewRequest(asset, amount, "", recipient, label)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	result, err := pipeline.Transfer(ctx, req)
	return report(result, err)
}

// report prints the result, or the failure snapshot, as JSON on stdout.
func report(result *internal.TransferResult, err error) error {
	if err == nil {
		return printJSON(result)
	}
	var te *internal.TransferError
	if errors.As(err, &te) {
		if printErr := printJSON(te.Snapshot); printErr != nil {
			return errors.Join(err, printErr)
		}
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %v", err)
	}
	return nil
}
