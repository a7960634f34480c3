package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/codewave-dev/codewave/internal/logging"
)

// ProcLauncher re-executes the current binary with the worker subcommand.
// Each launched process is tracked until it exits; Running reports live
// processes only.
type ProcLauncher struct {
	args []string

	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcLauncher creates a launcher that spawns `<self> <args...>` per
// worker, typically args = ["worker"].
func NewProcLauncher(args ...string) *ProcLauncher {
	if len(args) == 0 {
		args = []string{"worker"}
	}
	return &ProcLauncher{
		args:  args,
		procs: make(map[int]*exec.Cmd),
	}
}

// Launch starts one worker process.
func (l *ProcLauncher) Launch(ctx context.Context) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(self, l.args...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	l.mu.Lock()
	l.procs[pid] = cmd
	l.mu.Unlock()

	log := logging.Component("orchestrator")
	log.Info().Int("pid", pid).Msg("Worker process launched")

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		delete(l.procs, pid)
		l.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("Worker process exited")
		} else {
			log.Info().Int("pid", pid).Msg("Worker process retired")
		}
	}()
	return nil
}

// Running returns the number of live worker processes.
func (l *ProcLauncher) Running(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs), nil
}
