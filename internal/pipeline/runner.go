package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// stderrLimit bounds how much of a tool's stderr is kept for the error message.
const stderrLimit = 64 << 10

// secretFlags prefix arguments whose value must never reach the logs.
var secretFlags = []string{"--password=", "-sPDFPassword=", "--pass="}

// CommandFunc builds the command for a tool invocation.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner spawns external tools. Arguments are always passed as a vector, never
// through a shell.
type Runner struct {
	command   CommandFunc
	waitDelay time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCommand replaces exec.CommandContext.
func WithCommand(fn CommandFunc) RunnerOption {
	return func(r *Runner) { r.command = fn }
}

// WithWaitDelay bounds how long Wait blocks on I/O after the process is killed.
func WithWaitDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.waitDelay = d }
}

// NewRunner creates a runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		command:   exec.CommandContext,
		waitDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes tool with args and waits for it. stdin and stdout may be nil. A
// cancelled context kills the process and returns the context error.
func (r *Runner) Run(ctx context.Context, tool ToolBinding, args []string, stdin io.Reader, stdout io.Writer) error {
	logger := zerolog.Ctx(ctx)
	if tool.IsLibrary() || tool.Path == "" {
		return fmt.Errorf("tool %s has no executable", tool.Name)
	}

	stderr := &tailBuffer{limit: stderrLimit}
	cmd := r.command(ctx, tool.Path, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay

	logger.Debug().Str("tool", tool.Name).Strs("args", RedactArgs(args)).Msg("spawning tool")
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		logger.Debug().Str("tool", tool.Name).Dur("duration", elapsed).Msg("tool finished")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Debug().Str("tool", tool.Name).Err(ctxErr).Msg("tool cancelled")
		return fmt.Errorf("%s: %w", tool.Name, ctxErr)
	}

	pe := &ProcessError{Tool: tool.Name, ExitCode: -1, Stderr: strings.TrimSpace(stderr.String())}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		pe.ExitCode = exitErr.ExitCode()
	} else if pe.Stderr == "" {
		pe.Stderr = err.Error()
	}
	logger.Warn().
		Str("tool", tool.Name).
		Int("exit_code", pe.ExitCode).
		Dur("duration", elapsed).
		Str("stderr", pe.Stderr).
		Msg("tool failed")
	return ProcessFailed(pe)
}

// Stage is one process of a chain.
type Stage struct {
	Tool ToolBinding
	Args []string
}

// Pipe runs two tools with the upstream stdout connected to the downstream stdin,
// copying the downstream stdout to out. If either fails the other is killed. An
// upstream failure takes precedence over the downstream one.
func (r *Runner) Pipe(ctx context.Context, up, down Stage, in io.Reader, out io.Writer) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	// cancel runs before either pipe end is closed, so a process dying of a broken
	// pipe is always seen as cancelled and never reported as the failure.
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(pctx)
	var upErr, downErr error
	g.Go(func() error {
		upErr = r.Run(gctx, up.Tool, up.Args, in, pw)
		if upErr != nil {
			cancel()
		}
		pw.Close()
		return upErr
	})
	g.Go(func() error {
		downErr = r.Run(gctx, down.Tool, down.Args, pr, out)
		// nothing downstream needs upstream output any more
		cancel()
		pr.Close()
		return downErr
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if upErr != nil && !errors.Is(upErr, context.Canceled) {
		return upErr
	}
	if downErr != nil {
		return downErr
	}
	return nil
}

// RedactArgs returns a copy of args with the values of secret-bearing flags masked.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		for _, flag := range secretFlags {
			if strings.HasPrefix(a, flag) {
				out[i] = flag + "***"
				break
			}
		}
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
