package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ShellBackend interprets commands in-process with a POSIX shell
// interpreter. No subprocesses are required for builtins, which makes it
// usable where spawning is restricted, at the cost of PTY features.
type ShellBackend struct {
	timeout time.Duration
}

// NewShellBackend creates an in-process interpreter backend.
func NewShellBackend(timeout time.Duration) *ShellBackend {
	return &ShellBackend{timeout: timeout}
}

// Provision is a no-op: the interpreter has no per-workspace state.
func (b *ShellBackend) Provision(ctx context.Context, dir string) error {
	return nil
}

// Execute parses and runs command with the interpreter rooted at dir.
// Parse failures and non-zero exits are written to out and count as normal
// completions.
func (b *ShellBackend) Execute(ctx context.Context, dir, command string, out io.Writer) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	prog, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return nil
	}

	runner, err := interp.New(
		interp.StdIO(nil, out, out),
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	err = runner.Run(runCtx, prog)
	if runCtx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(out, "\n(command timed out after %v)\n", b.timeout)
		return fmt.Errorf("command timed out after %v", b.timeout)
	}
	if err != nil {
		if _, ok := interp.IsExitStatus(err); ok {
			return nil
		}
		fmt.Fprintf(out, "%v\n", err)
		return nil
	}
	return nil
}

// Terminate is a no-op.
func (b *ShellBackend) Terminate(ctx context.Context, dir string) error {
	return nil
}
