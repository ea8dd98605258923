// Package invoke builds hermetic invocations of the coverage tool under test.
//
// Every command has the host's build, log, color, browser and CI variables
// removed and strict warning promotion switched on, so results do not depend
// on the developer's shell.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

// DenyWarningsVar promotes the tool's internal warnings to errors.
const DenyWarningsVar = "CARGO_LLVM_COV_DENY_WARNINGS"

// SanitizedEnv lists variables removed before every invocation.
var SanitizedEnv = []string{
	"RUSTFLAGS",
	"RUSTDOCFLAGS",
	"CARGO_BUILD_RUSTFLAGS",
	"CARGO_BUILD_RUSTDOCFLAGS",
	"CARGO_TERM_VERBOSE",
	"CARGO_TERM_COLOR",
	"BROWSER",
	"RUST_LOG",
	"CI",
}

// DefaultSetup installs the toolchain component the tool needs.
var DefaultSetup = []string{"rustup", "component", "add", "llvm-tools-preview"}

type setupGuard struct {
	once sync.Once
}

// processSetup makes the setup helper run at most once per test binary.
var processSetup = &setupGuard{}

// Invoker constructs and runs coverage tool commands.
type Invoker struct {
	// Tool is the coverage tool binary.
	Tool string
	// Prefix is inserted before the subcommand (e.g. "llvm-cov" for a cargo plugin).
	Prefix []string
	// Setup is the environment-setup helper; empty disables it.
	Setup  []string
	Runner executil.CommandRunner
	Logger *slog.Logger

	guard *setupGuard
}

// Request describes one report-producing invocation.
type Request struct {
	Subcommand string
	OutputPath string
	Dir        string
	Args       []string
	Env        map[string]string
}

func (inv *Invoker) runner() executil.CommandRunner {
	if inv.Runner == nil {
		return executil.OSRunner{}
	}
	return inv.Runner
}

func (inv *Invoker) logger() *slog.Logger {
	if inv.Logger != nil {
		return inv.Logger
	}
	return slog.Default()
}

// EnsureSetup runs the setup helper once per process. Failures are logged
// and otherwise ignored since the component is usually already installed.
// An invoker without a helper leaves the guard untouched.
func (inv *Invoker) EnsureSetup(ctx context.Context) {
	if len(inv.Setup) == 0 {
		return
	}
	g := inv.guard
	if g == nil {
		g = processSetup
	}
	g.once.Do(func() {
		res, err := inv.runner().Capture(ctx, &executil.Command{Argv: inv.Setup})
		switch {
		case err != nil:
			inv.logger().Warn("setup helper failed to start", "argv", inv.Setup, "err", err)
		case !res.Success():
			inv.logger().Warn("setup helper failed", "argv", inv.Setup, "exit", res.ExitCode, "stderr", res.Stderr)
		}
	})
}

// Command returns a sanitized tool command for subcommand. An empty
// subcommand invokes the tool's default action.
func (inv *Invoker) Command(ctx context.Context, subcommand string) *executil.Command {
	inv.EnsureSetup(ctx)
	argv := make([]string, 0, len(inv.Prefix)+2)
	argv = append(argv, inv.Tool)
	argv = append(argv, inv.Prefix...)
	if subcommand != "" {
		argv = append(argv, subcommand)
	}
	return &executil.Command{
		Argv:  argv,
		Unset: append([]string(nil), SanitizedEnv...),
		Env:   map[string]string{DenyWarningsVar: "true"},
	}
}

// ReportCommand returns the command producing a report at req.OutputPath.
// Caller arguments and environment follow the fixed baseline verbatim.
func (inv *Invoker) ReportCommand(ctx context.Context, req Request) *executil.Command {
	cmd := inv.Command(ctx, req.Subcommand)
	cmd.Argv = append(cmd.Argv, "--color", "never", "--output-path", req.OutputPath, "--remap-path-prefix")
	cmd.Argv = append(cmd.Argv, req.Args...)
	cmd.Dir = req.Dir
	for k, v := range req.Env {
		cmd.Env[k] = v
	}
	return cmd
}

// Run executes cmd and returns its captured output. A tool that cannot be
// started is an internal I/O error; exit status is left to the caller.
func (inv *Invoker) Run(ctx context.Context, cmd *executil.Command) (executil.Result, error) {
	inv.logger().Debug("invoke", "argv", cmd.Argv, "dir", cmd.Dir)
	res, err := inv.runner().Capture(ctx, cmd)
	if err != nil {
		return res, coverr.Wrap(coverr.InternalIO, cmd.Dir, "run coverage tool", err)
	}
	return res, nil
}

// RunSuccess executes cmd and reports a non-zero exit as a tool failure
// carrying both captured streams.
func (inv *Invoker) RunSuccess(ctx context.Context, cmd *executil.Command) (executil.Result, error) {
	res, err := inv.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, coverr.New(coverr.ToolFailure, cmd.Dir, fmt.Sprintf(
			"%s exited with status %d:\n\n%s", cmd, res.ExitCode, executil.FrameStreams(res.Stdout, res.Stderr)))
	}
	return res, nil
}
