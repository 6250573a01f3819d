package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run both pipelines behind an HTTP API",
	Long: `Starts the dispatcher for both directions and serves the transfer API:

  POST /transfers/eth-to-solana   start a transfer
  POST /transfers/solana-to-eth   start a transfer
  GET  /transfers[?state=]        list snapshots
  GET  /transfers/{id}            show a snapshot
  POST /transfers/{id}/resume     resume a failed transfer

Transfers run in the background; their progress is recorded in the snapshot
store. On shutdown in-flight transfers stop at their next stage boundary.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int("queue-size", 64, "Number of transfers that may wait for a worker")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	queueSize, _ := cmd.Flags().GetInt("queue-size")

	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ethToSolana, err := a.orchestrator(internal.DirectionEthToSolana)
	if err != nil {
		return err
	}
	solanaToEth, err := a.orchestrator(internal.DirectionSolanaToEth)
	if err != nil {
		return err
	}
	dispatcher := internal.NewDispatcher(logger, queueSize, ethToSolana, solanaToEth)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           api.NewServer(logger, dispatcher, a.store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Start(ctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", listenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
