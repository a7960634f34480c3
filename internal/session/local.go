package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// SigkillDelay is how long a process group gets between SIGTERM and SIGKILL
// when a command is cancelled.
const SigkillDelay = 200 * time.Millisecond

// LocalBackend runs each command as a subprocess of the detected login
// shell, rooted at the workspace directory. Commands get their own process
// group so cancellation reaps children too.
type LocalBackend struct {
	shell   string
	timeout time.Duration
}

// NewLocalBackend creates a subprocess backend. timeout bounds one command;
// zero disables the bound. Hitting the bound counts as abnormal exit.
func NewLocalBackend(timeout time.Duration) *LocalBackend {
	return &LocalBackend{
		shell:   detectShell(),
		timeout: timeout,
	}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude unsupported shells
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}

	return "/bin/sh"
}

// Provision verifies the shell is actually runnable.
func (b *LocalBackend) Provision(ctx context.Context, dir string) error {
	if _, err := exec.LookPath(b.shell); err != nil {
		return fmt.Errorf("shell %s not available: %w", b.shell, err)
	}
	return nil
}

// Execute runs command through the shell with stdout and stderr streamed to
// out. A non-zero exit code is a normal completion; a timeout is not.
func (b *LocalBackend) Execute(ctx context.Context, dir, command string, out io.Writer) error {
	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, b.shell, "/c", command)
	} else {
		cmd = exec.CommandContext(runCtx, b.shell, "-c", command)
	}
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = out
	cmd.Stderr = out

	// Process group for Unix (allows killing child processes)
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Cancel = func() error {
			if cmd.Process == nil {
				return nil
			}
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		}
		cmd.WaitDelay = SigkillDelay
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	err := cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(out, "\n(command timed out after %v)\n", b.timeout)
		return fmt.Errorf("command timed out after %v", b.timeout)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// The shell already wrote its diagnostics to out.
			return nil
		}
		return err
	}
	return nil
}

// Terminate is a no-op: commands are one-shot subprocesses, nothing
// persists between them.
func (b *LocalBackend) Terminate(ctx context.Context, dir string) error {
	return nil
}
