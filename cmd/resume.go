package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue a failed transfer from its failed stage",
	Long: `Resumes a transfer from a failure snapshot. Stages that already completed are
never replayed; in particular the source transaction is never resubmitted.

The snapshot is loaded from the snapshot store (--id), from a JSON file
written by a previous run (--snapshot), or built from a known Wormhole message
(--direction, --message-key and --recipient), which fetches the attestation
and redeems it.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().String("id", "", "Transfer ID to load from the snapshot store")
	resumeCmd.Flags().String("snapshot", "", "Path of a failure snapshot JSON file")
	resumeCmd.Flags().String("direction", "", "Direction of the transfer (eth-to-solana, solana-to-eth)")
	resumeCmd.Flags().String("message-key", "", "Wormhole message as chain/emitter/sequence")
	resumeCmd.Flags().String("recipient", "", "Recipient on the destination chain")
	resumeCmd.Flags().Int("max-attempts", 0, "Fresh attestation attempt budget (default from config)")

	resumeCmd.MarkFlagsMutuallyExclusive("id", "snapshot", "message-key")
}

func runResume(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)

	id, _ := cmd.Flags().GetString("id")
	snapshotFile, _ := cmd.Flags().GetString("snapshot")
	directionFlag, _ := cmd.Flags().GetString("direction")
	messageKey, _ := cmd.Flags().GetString("message-key")
	recipient, _ := cmd.Flags().GetString("recipient")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	var snapshot *internal.Snapshot
	switch {
	case id != "":
		loaded, err := a.store.Load(ctx, id)
		if err != nil {
			return err
		}
		snapshot = &loaded
	case snapshotFile != "":
		loaded, err := readSnapshot(snapshotFile)
		if err != nil {
			return err
		}
		snapshot = loaded
	case messageKey == "":
		return fmt.Errorf("%w: one of --id, --snapshot or --message-key is required", internal.ErrValidation)
	}

	direction := internal.Direction(directionFlag)
	if snapshot != nil {
		direction = snapshot.Direction
	}
	direction, err = internal.ParseDirection(string(direction))
	if err != nil {
		return fmt.Errorf("%w: %v", internal.ErrValidation, err)
	}

	pipeline, err := a.orchestrator(direction)
	if err != nil {
		return err
	}
	if maxAttempts > 0 {
		pipeline = pipeline.WithAttestationAttempts(maxAttempts)
	}

	if snapshot != nil {
		logger.Info("Resuming transfer",
			zap.String("transferId", snapshot.TransferID),
			zap.String("state", string(snapshot.State)),
			zap.String("failedStage", string(snapshot.FailedStage)),
			zap.String("kind", snapshot.Kind))
		result, err := pipeline.Resume(ctx, *snapshot)
		return report(result, err)
	}

	key, err := internal.ParseMessageKey(messageKey)
	if err != nil {
		return fmt.Errorf("%w: %v", internal.ErrValidation, err)
	}
	if recipient == "" {
		return fmt.Errorf("%w: --recipient is required with --message-key", internal.ErrValidation)
	}
	logger.Info("Resuming from message key", zap.Stringer("messageKey", key))
	result, err := pipeline.ResumeFromKey(ctx, "", key, recipient)
	return report(result, err)
}

func readSnapshot(path string) (*internal.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %v", err)
	}
	var snapshot internal.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: invalid snapshot %s: %v", internal.ErrValidation, path, err)
	}
	return &snapshot, nil
}
