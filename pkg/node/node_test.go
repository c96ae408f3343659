package node

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ajsharda17/lisa/pkg/exec"
	"github.com/ajsharda17/lisa/pkg/types"
	"github.com/ajsharda17/lisa/pkg/util"
)

// recordingRunner scripts local command results and records every
// invocation together with its options.
type recordingRunner struct {
	results []*exec.Result
	calls   []struct {
		Command string
		Opts    exec.Options
	}
}

func (r *recordingRunner) Run(ctx context.Context, args []string, opts exec.Options) (*exec.Result, error) {
	command := strings.Join(args, " ")
	r.calls = append(r.calls, struct {
		Command string
		Opts    exec.Options
	}{command, opts})

	res := &exec.Result{}
	if len(r.results) > 0 {
		res = r.results[0]
		r.results = r.results[1:]
	}
	if !res.Succeeded() && !opts.AllowFailure {
		return nil, &exec.ExecutionError{Command: command, Result: res}
	}
	return res, nil
}

var _ = Describe("Node", func() {
	ctx := context.Background()

	It("should keep the name, host and descriptor it was built with", func() {
		desc := types.Descriptor{"name": "lisa-1", "host": "203.0.113.5"}
		n := New("lisa-1", "203.0.113.5", desc, Options{})
		Expect(n.Name()).To(Equal("lisa-1"))
		Expect(n.Host()).To(Equal("203.0.113.5"))
		Expect(n.Descriptor()).To(Equal(desc))
	})

	It("should expose an empty descriptor for hosts it did not provision", func() {
		n := New("pre-deployed:203.0.113.5", "203.0.113.5", nil, Options{})
		Expect(n.Descriptor()).To(BeEmpty())
	})

	It("should refuse remote commands before the connection is open", func() {
		n := New("localhost", "localhost", nil, Options{})
		_, err := n.RunRemote(ctx, "true", exec.Options{})
		Expect(err).To(MatchError(ErrNotConnected))
	})

	It("should refuse every operation after Close", func() {
		n := New("localhost", "localhost", nil, Options{})
		Expect(n.Close()).To(Succeed())
		Expect(n.Close()).To(Succeed())

		_, err := n.RunRemote(ctx, "true", exec.Options{})
		Expect(err).To(MatchError(ErrClosed))
		_, err = n.RunLocal(ctx, []string{"true"}, exec.Options{})
		Expect(err).To(MatchError(ErrClosed))
		_, err = n.FetchText(ctx, "/etc/hostname")
		Expect(err).To(MatchError(ErrClosed))
		_, err = n.BootDiagnostics(ctx)
		Expect(err).To(MatchError(ErrClosed))
		_, err = n.Restart(ctx)
		Expect(err).To(MatchError(ErrClosed))
		Expect(n.Open(ctx)).To(MatchError(ErrClosed))
	})

	It("should never leak the remote environment into local commands", func() {
		runner := &recordingRunner{}
		n := New("lisa-1", "203.0.113.5", nil, Options{Runner: runner})

		_, err := n.RunLocal(ctx, []string{"uname", "-a"}, exec.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(runner.calls).To(HaveLen(1))
		Expect(runner.calls[0].Opts.Env).NotTo(HaveKey("PATH"))
	})

	It("should issue a platform restart through the az CLI", func() {
		runner := &recordingRunner{}
		n := New("lisa-1", "203.0.113.5", nil, Options{Runner: runner})

		res, err := n.Restart(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Succeeded()).To(BeTrue())
		Expect(runner.calls[0].Command).To(Equal("az vm restart -n lisa-1 -g lisa-1-rg"))
	})

	Describe("BootDiagnostics", func() {
		var saved util.RetryPolicy

		BeforeEach(func() {
			saved = bootLogRetry
			bootLogRetry = util.RetryPolicy{
				Budget:  time.Second,
				Initial: time.Millisecond,
				Max:     10 * time.Millisecond,
			}
		})

		AfterEach(func() {
			bootLogRetry = saved
		})

		It("should retry transient failures and return the eventual log", func() {
			runner := &recordingRunner{results: []*exec.Result{
				{ExitCode: 1, Stderr: "diagnostics not yet available"},
				{ExitCode: 1, Stderr: "diagnostics not yet available"},
				{Stdout: "serial console output"},
			}}
			n := New("lisa-1", "203.0.113.5", nil, Options{Runner: runner})

			res, err := n.BootDiagnostics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(Equal("serial console output"))
			Expect(runner.calls).To(HaveLen(3))
		})

		It("should surface the last failure once the budget is exhausted", func() {
			runner := &recordingRunner{}
			runner.results = nil // every call fails
			n := New("lisa-1", "203.0.113.5", nil, Options{Runner: runner})
			// script permanent failure
			for i := 0; i < 100; i++ {
				runner.results = append(runner.results, &exec.Result{ExitCode: 1, Stderr: "broken"})
			}

			_, err := n.BootDiagnostics(ctx)
			Expect(err).To(HaveOccurred())
			var ee *exec.ExecutionError
			Expect(errors.As(err, &ee)).To(BeTrue())
		})
	})
})

var _ = Describe("inlineEnv", func() {
	It("should render sorted assignments with overrides applied", func() {
		base := map[string]string{"PATH": DefaultRemotePath, "LANG": "C"}
		override := map[string]string{"LANG": "en_US.UTF-8"}
		Expect(inlineEnv(base, override)).To(Equal(
			"LANG=en_US.UTF-8 PATH=" + DefaultRemotePath + " "))
	})

	It("should render nothing for an empty environment", func() {
		Expect(inlineEnv(nil, nil)).To(Equal(""))
	})
})
