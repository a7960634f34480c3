package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codewave-dev/codewave/internal/config"
	"github.com/codewave-dev/codewave/internal/orchestrator"
	"github.com/codewave-dev/codewave/internal/queue"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Autoscale the worker fleet against queue depth",
	Long: `Watch the command queue and launch 'codewave worker' processes so
that roughly messagesPerWorker commands map to one worker, within the
configured min/max bounds. Workers are never stopped from here; idle
ones retire themselves.`,
	RunE: runOrchestrate,
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.DataDir
	if dir == "" {
		paths := config.GetPaths()
		if err := paths.EnsurePaths(); err != nil {
			return err
		}
		dir = paths.Data
	}

	q := queue.New(filepath.Join(dir, "queue"), queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		LongPoll:          cfg.LongPoll(),
	})

	launcherArgs := []string{"worker", "--exit-after-idle-polls", "3"}
	if dir != "" {
		launcherArgs = append(launcherArgs, "--data-dir", dir)
	}

	o := orchestrator.New(q, orchestrator.NewProcLauncher(launcherArgs...), orchestrator.Options{
		MinWorkers:        cfg.MinWorkers(),
		MaxWorkers:        cfg.MaxWorkers(),
		MessagesPerWorker: cfg.MessagesPerWorker(),
		Interval:          cfg.OrchestratorInterval(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	return o.Run(ctx)
}
