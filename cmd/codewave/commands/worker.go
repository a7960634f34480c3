package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewave-dev/codewave/internal/app"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/worker"
)

var workerIdlePolls int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a command queue worker",
	Long: `Consume the command queue: execute each command in its session's
workspace, stream output, reconcile workspace changes back to the
object store and acknowledge.

Run as many workers as the load needs; 'codewave orchestrate' launches
them automatically.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerIdlePolls, "exit-after-idle-polls", 0,
		"Exit after this many consecutive empty polls (0 = run forever)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	idlePolls := workerIdlePolls
	if idlePolls == 0 && cfg.Worker != nil {
		idlePolls = cfg.Worker.ExitAfterIdlePolls
	}

	w := worker.New(a.Queue, a.Sessions, worker.Options{
		ExitAfterIdlePolls: idlePolls,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logging.Info().Msg("Draining worker")
		cancel()
	}()

	runErr := w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.Close(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Service shutdown error")
	}
	return runErr
}
