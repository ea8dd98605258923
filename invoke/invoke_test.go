package invoke

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	res   executil.Result
	err   error
}

func (f *fakeRunner) Capture(_ context.Context, cmd *executil.Command) (executil.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), cmd.Argv...))
	return f.res, f.err
}

func newInvoker(r *fakeRunner) *Invoker {
	return &Invoker{
		Tool:   "cargo-llvm-cov",
		Prefix: []string{"llvm-cov"},
		Setup:  DefaultSetup,
		Runner: r,
		guard:  &setupGuard{},
	}
}

func TestCommandSanitizesEnvironment(t *testing.T) {
	inv := newInvoker(&fakeRunner{})
	cmd := inv.Command(context.Background(), "")

	if diff := cmp.Diff([]string{"cargo-llvm-cov", "llvm-cov"}, cmd.Argv); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(SanitizedEnv, cmd.Unset); diff != "" {
		t.Fatalf("unset mismatch (-want +got):\n%s", diff)
	}
	if cmd.Env[DenyWarningsVar] != "true" {
		t.Fatalf("missing %s: %#v", DenyWarningsVar, cmd.Env)
	}

	env := executil.Environ([]string{"RUSTFLAGS=-Zfoo", "CI=true", "CARGO_TERM_COLOR=always", "PATH=/bin"}, cmd.Unset, cmd.Env)
	if diff := cmp.Diff([]string{"PATH=/bin", DenyWarningsVar + "=true"}, env); diff != "" {
		t.Fatalf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestReportCommandBaselineThenCallerArgs(t *testing.T) {
	inv := newInvoker(&fakeRunner{})
	cmd := inv.ReportCommand(context.Background(), Request{
		Subcommand: "report",
		OutputPath: "/reports/simple/json.json",
		Dir:        "/ws",
		Args:       []string{"--json", "--summary-only"},
		Env:        map[string]string{"CARGO_LLVM_COV_TARGET_DIR": "/t", "CI": "1"},
	})
	want := []string{
		"cargo-llvm-cov", "llvm-cov", "report",
		"--color", "never", "--output-path", "/reports/simple/json.json", "--remap-path-prefix",
		"--json", "--summary-only",
	}
	if diff := cmp.Diff(want, cmd.Argv); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
	if cmd.Dir != "/ws" {
		t.Fatalf("dir = %q", cmd.Dir)
	}
	env := executil.Environ(nil, cmd.Unset, cmd.Env)
	if diff := cmp.Diff([]string{"CARGO_LLVM_COV_DENY_WARNINGS=true", "CARGO_LLVM_COV_TARGET_DIR=/t", "CI=1"}, env); diff != "" {
		t.Fatalf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupRunsOncePerProcess(t *testing.T) {
	fr := &fakeRunner{res: executil.Result{ExitCode: 1, Stderr: "already installed"}}
	inv := newInvoker(fr)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = inv.Command(context.Background(), "")
		}()
	}
	wg.Wait()
	_ = inv.Command(context.Background(), "report")

	if len(fr.calls) != 1 {
		t.Fatalf("setup ran %d times, want 1", len(fr.calls))
	}
	if diff := cmp.Diff(DefaultSetup, fr.calls[0]); diff != "" {
		t.Fatalf("setup argv mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupStartFailureIsSwallowed(t *testing.T) {
	fr := &fakeRunner{err: errors.New("rustup: not found")}
	inv := newInvoker(fr)
	cmd := inv.Command(context.Background(), "")
	if len(cmd.Argv) == 0 {
		t.Fatal("expected a command despite setup failure")
	}
}

func TestSetupDisabled(t *testing.T) {
	fr := &fakeRunner{}
	inv := newInvoker(fr)
	inv.Setup = nil
	_ = inv.Command(context.Background(), "")
	if len(fr.calls) != 0 {
		t.Fatalf("unexpected setup calls: %v", fr.calls)
	}
}

func TestSetupDisabledInvokerKeepsGuard(t *testing.T) {
	fr := &fakeRunner{}
	shared := &setupGuard{}

	bare := newInvoker(fr)
	bare.Setup = nil
	bare.guard = shared
	_ = bare.Command(context.Background(), "")

	withHelper := newInvoker(fr)
	withHelper.guard = shared
	_ = withHelper.Command(context.Background(), "")

	if len(fr.calls) != 1 {
		t.Fatalf("setup ran %d times after a helperless invoker, want 1", len(fr.calls))
	}
}

func TestRunSuccessReportsToolFailure(t *testing.T) {
	fr := &fakeRunner{}
	inv := newInvoker(fr)
	inv.Setup = nil
	cmd := inv.Command(context.Background(), "")

	fr.res = executil.Result{Stdout: "partial report", Stderr: "error: no profraw", ExitCode: 1}
	_, err := inv.RunSuccess(context.Background(), cmd)
	if !coverr.Is(err, coverr.ToolFailure) {
		t.Fatalf("expected TOOL_FAILURE, got %v", err)
	}
	for _, want := range []string{"partial report", "error: no profraw", "STDOUT:", "STDERR:"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
	if len(fr.calls) != 1 {
		t.Fatalf("tool ran %d times, want exactly 1 (no retry)", len(fr.calls))
	}
}

func TestRunStartFailure(t *testing.T) {
	fr := &fakeRunner{err: errors.New("exec: not found")}
	inv := newInvoker(fr)
	inv.Setup = nil
	_, err := inv.Run(context.Background(), inv.Command(context.Background(), ""))
	if !coverr.Is(err, coverr.InternalIO) {
		t.Fatalf("expected INTERNAL_IO, got %v", err)
	}
}
