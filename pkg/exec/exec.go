// Package exec runs local commands and defines the command contract
// shared with remote execution on a Node.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cybozu-go/log"
	"github.com/cybozu-go/well"
)

// DefaultTimeout limits every command that does not override it.
const DefaultTimeout = 300 * time.Second

// Result holds the outcome of a completed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Succeeded reports whether the command exited with status zero.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Options control a single command invocation.
type Options struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// AllowFailure reports a non-zero exit in the Result instead of
	// returning an ExecutionError.
	AllowFailure bool
	// Env is applied on top of the runner's base environment.
	Env map[string]string
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// ExecutionError is returned when a command exits non-zero and the
// caller did not opt into tolerating failures.
type ExecutionError struct {
	Command string
	Result  *Result
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command %q exited with status %d: %s",
		e.Command, e.Result.ExitCode, strings.TrimSpace(e.Result.Stderr))
}

// Runner runs a command and captures its output.
type Runner interface {
	Run(ctx context.Context, args []string, opts Options) (*Result, error)
}

// LocalRunner runs commands on the machine hosting the test process.
// It never forwards stdin, and it never inherits a Node's remote
// environment overrides: the command sees the process environment plus
// opts.Env only.
type LocalRunner struct {
	stdout io.Writer
	stderr io.Writer
}

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// NewStreamingRunner creates a LocalRunner that additionally streams
// command output to the given writers while it is captured.
func NewStreamingRunner(stdout, stderr io.Writer) *LocalRunner {
	return &LocalRunner{stdout: stdout, stderr: stderr}
}

// Run executes args as a local command.
func (r *LocalRunner) Run(ctx context.Context, args []string, opts Options) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command specified")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	log.Info("running command", map[string]interface{}{
		"command": strings.Join(args, " "),
	})

	c := well.CommandContext(ctx, args[0], args[1:]...)
	c.Severity = log.LvDebug
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	c.Stdout = outBuf
	c.Stderr = errBuf
	if r.stdout != nil {
		c.Stdout = io.MultiWriter(outBuf, r.stdout)
	}
	if r.stderr != nil {
		c.Stderr = io.MultiWriter(errBuf, r.stderr)
	}
	c.Env = append(os.Environ(), envPairs(opts.Env)...)

	err := c.Run()
	result := &Result{
		Stdout: outBuf.String(),
		Stderr: errBuf.String(),
	}
	if err != nil {
		if ee, ok := err.(*osexec.ExitError); ok {
			result.ExitCode = ee.ExitCode()
		} else {
			// The command could not be started or was killed by the
			// timeout; report it like a failed command.
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}

	if !result.Succeeded() && !opts.AllowFailure {
		return nil, &ExecutionError{Command: strings.Join(args, " "), Result: result}
	}
	return result, nil
}

func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
