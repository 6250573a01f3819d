package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recorded transfers",
	Long: `Prints the snapshots recorded in the snapshot store as JSON, newest first.
Only meaningful with --redis-addr, since the in-memory store starts empty.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("state", "", "Only list transfers in this state (e.g. Failed, Completed)")
	statusCmd.Flags().String("id", "", "Print a single transfer")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	state, _ := cmd.Flags().GetString("state")
	id, _ := cmd.Flags().GetString("id")

	snapshots := openStore(logger)
	defer snapshots.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if id != "" {
		snapshot, err := snapshots.Load(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(snapshot)
	}

	list, err := snapshots.List(ctx, internal.Stage(state))
	if err != nil {
		return err
	}
	logger.Debug("Listed transfers", zap.String("state", state), zap.Int("count", len(list)))
	return printJSON(list)
}
