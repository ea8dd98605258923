// Package procassert runs a subprocess to completion and asserts on its exit
// status and captured streams.
//
// Checks chain:
//
//	procassert.Success(t, runner, cmd).
//		StderrContains("Finished report").
//		StdoutNotContains("warning:")
//
// Every failure message carries both streams verbatim between ruled frames.
package procassert

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

// Output is the captured result of one subprocess run.
type Output struct {
	tb testing.TB

	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes cmd and captures its output. Failing to start the process
// fails the test.
func Run(tb testing.TB, runner executil.CommandRunner, cmd *executil.Command) *Output {
	tb.Helper()

	if runner == nil {
		runner = executil.OSRunner{}
	}
	res, err := runner.Capture(context.Background(), cmd)
	if err != nil {
		tb.Fatalf("could not execute process %s: %v", cmd, err)
	}
	return &Output{tb: tb, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
}

// Success runs cmd and requires a zero exit status.
func Success(tb testing.TB, runner executil.CommandRunner, cmd *executil.Command) *Output {
	tb.Helper()

	out := Run(tb, runner, cmd)
	if out.ExitCode != 0 {
		tb.Fatalf("assertion failed: `status.success()` (exit %d):\n\n%s", out.ExitCode, executil.FrameStreams(out.Stdout, out.Stderr))
	}
	return out
}

// Failure runs cmd and requires a non-zero exit status.
func Failure(tb testing.TB, runner executil.CommandRunner, cmd *executil.Command) *Output {
	tb.Helper()

	out := Run(tb, runner, cmd)
	if out.ExitCode == 0 {
		tb.Fatalf("assertion failed: `!status.success()`:\n\n%s", executil.FrameStreams(out.Stdout, out.Stderr))
	}
	return out
}

// Lines splits a pattern block on newlines, trimming each line and dropping
// empty ones.
func Lines(pats string) []string {
	var out []string
	for _, line := range strings.Split(pats, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// StdoutContains requires every pattern line to occur in stdout.
func (o *Output) StdoutContains(pats string) *Output {
	o.tb.Helper()
	o.check("stdout", o.Stdout, pats, true)
	return o
}

// StderrContains requires every pattern line to occur in stderr.
func (o *Output) StderrContains(pats string) *Output {
	o.tb.Helper()
	o.check("stderr", o.Stderr, pats, true)
	return o
}

// StdoutNotContains requires no pattern line to occur in stdout.
func (o *Output) StdoutNotContains(pats string) *Output {
	o.tb.Helper()
	o.check("stdout", o.Stdout, pats, false)
	return o
}

// StderrNotContains requires no pattern line to occur in stderr.
func (o *Output) StderrNotContains(pats string) *Output {
	o.tb.Helper()
	o.check("stderr", o.Stderr, pats, false)
	return o
}

func (o *Output) check(stream, actual, pats string, want bool) {
	o.tb.Helper()
	for _, pat := range Lines(pats) {
		if strings.Contains(actual, pat) == want {
			continue
		}
		neg := ""
		if !want {
			neg = "!"
		}
		o.tb.Fatalf("assertion failed: `%s%s.contains(..)`:\n\nEXPECTED:\n%[3]s\n%[4]s\n%[3]s\n\nACTUAL:\n%[3]s\n%[5]s\n%[3]s\n",
			neg, stream, executil.Rule, pat, actual)
	}
}

// String renders both streams for logging.
func (o *Output) String() string {
	return fmt.Sprintf("exit %d\n%s", o.ExitCode, executil.FrameStreams(o.Stdout, o.Stderr))
}
