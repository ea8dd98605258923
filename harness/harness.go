// Package harness wires fixture staging, tool invocation, normalization and
// golden comparison into single report scenarios.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/fixture"
	"github.com/lattice-substrate/cov-conformance/golden"
	"github.com/lattice-substrate/cov-conformance/invoke"
	"github.com/lattice-substrate/cov-conformance/normalize"
	"github.com/lattice-substrate/cov-conformance/profraw"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
	"github.com/lattice-substrate/cov-conformance/scenario"
)

// Options carries the process-level collaborators of a Harness.
type Options struct {
	Runner executil.CommandRunner
	Logger *slog.Logger
	// Lookup reads the CI variable when Config.CI is nil.
	Lookup func(string) (string, bool)
	// DiffOut receives golden mismatch diffs.
	DiffOut io.Writer
}

// Harness runs report scenarios against fixture models.
type Harness struct {
	Config     Config
	Resolver   fixture.Resolver
	Stager     *fixture.Stager
	Invoker    *invoke.Invoker
	Comparator *golden.Comparator
	Logger     *slog.Logger
}

// New validates cfg and builds a Harness. Relative roots and tool paths are
// made absolute since the tool runs inside the staged workspace.
func New(cfg Config, opts Options) (*Harness, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var err error
	if cfg.FixturesRoot, err = absPath(cfg.FixturesRoot); err != nil {
		return nil, err
	}
	if cfg.ReportsRoot, err = absPath(cfg.ReportsRoot); err != nil {
		return nil, err
	}
	if cfg.WorkDir, err = absPath(cfg.WorkDir); err != nil {
		return nil, err
	}
	if strings.ContainsRune(cfg.Tool, filepath.Separator) || strings.Contains(cfg.Tool, "/") {
		if cfg.Tool, err = absPath(cfg.Tool); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = executil.OSRunner{}
	}
	ci := golden.CIFromEnv(opts.Lookup)
	if cfg.CI != nil {
		ci = *cfg.CI
	}

	resolver := fixture.Resolver{Root: cfg.FixturesRoot}
	var lister fixture.Lister = fixture.GitLister{Git: cfg.Git, Runner: runner}
	if cfg.Lister == ListerManifest {
		lister = fixture.ManifestLister{}
	}
	return &Harness{
		Config:   cfg,
		Resolver: resolver,
		Stager: &fixture.Stager{
			Resolver: resolver,
			Lister:   lister,
			TempDir:  cfg.WorkDir,
			Logger:   logger,
		},
		Invoker: &invoke.Invoker{
			Tool:   cfg.Tool,
			Prefix: cfg.ToolPrefix,
			Setup:  cfg.Setup,
			Runner: runner,
			Logger: logger,
		},
		Comparator: &golden.Comparator{
			CI:     ci,
			Diff:   golden.GitDiff{Git: cfg.Git, Runner: runner},
			Logger: logger,
			Out:    opts.DiffOut,
		},
		Logger: logger,
	}, nil
}

func absPath(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", coverr.Wrap(coverr.Config, p, "resolve path", err)
	}
	return abs, nil
}

// ReportResult is the outcome of one report scenario.
type ReportResult struct {
	Scenario   scenario.Scenario
	OutputPath string
	Tool       executil.Result
	Golden     *golden.Result
}

// GoldenPath returns where the scenario's report is written and compared.
func (h *Harness) GoldenPath(sc scenario.Scenario) string {
	return golden.Path(h.Config.Reports(), sc.Model, sc.Name, sc.Extension)
}

// Report stages sc.Model, has the tool write its report straight to the
// golden path, normalizes it and compares it with the golden content read
// before the run. A failed tool run or normalization leaves the golden as it
// was. The workspace is removed before returning.
func (h *Harness) Report(ctx context.Context, sc scenario.Scenario) (*ReportResult, error) {
	ws, err := h.Stager.Stage(ctx, sc.Model)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			h.Logger.Warn("remove workspace", "dir", ws.Root, "err", err)
		}
	}()

	out := h.GoldenPath(sc)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, coverr.Wrap(coverr.InternalIO, out, "create reports dir", err)
	}
	expected, err := golden.Read(out, h.Logger)
	if err != nil {
		return nil, err
	}

	res := &ReportResult{Scenario: sc, OutputPath: out}
	cmd := h.Invoker.ReportCommand(ctx, invoke.Request{
		Subcommand: sc.Subcommand,
		OutputPath: out,
		Dir:        ws.Root,
		Args:       sc.Args,
		Env:        sc.Env,
	})
	if res.Tool, err = h.Invoker.RunSuccess(ctx, cmd); err != nil {
		h.restoreGolden(out, expected)
		return res, err
	}
	if err := normalize.File(out, normalize.OptionsFromArgs(sc.Args)); err != nil {
		h.restoreGolden(out, expected)
		return res, err
	}
	res.Golden, err = h.Comparator.Compare(ctx, out, expected)
	return res, err
}

// restoreGolden puts back the golden content read before a run that failed
// after the tool may have written to the golden path.
func (h *Harness) restoreGolden(path string, expected golden.Expected) {
	var err error
	if expected.Missing {
		if err = os.Remove(path); errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	} else {
		err = golden.Write(path, []byte(expected.Content))
	}
	if err != nil {
		h.Logger.Warn("restore golden", "path", path, "err", err)
	}
}

// RunScenario makes a Harness usable as a scenario.Runner.
func (h *Harness) RunScenario(ctx context.Context, sc scenario.Scenario) (*golden.Result, error) {
	res, err := h.Report(ctx, sc)
	if res == nil {
		return nil, err
	}
	return res.Golden, err
}

// CorruptionResult is the outcome of reporting against a damaged profile.
type CorruptionResult struct {
	// Profile is the raw profile whose header was perturbed.
	Profile string
	// Report is the captured output of the report run.
	Report executil.Result
}

// Corrupt stages model, collects profiles without reporting, perturbs the
// first raw profile's magic and runs the report subcommand again. The tool is
// expected to reject the profile; a successful report is a tool failure.
func (h *Harness) Corrupt(ctx context.Context, model string, args []string) (*CorruptionResult, error) {
	ws, err := h.Stager.Stage(ctx, model)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			h.Logger.Warn("remove workspace", "dir", ws.Root, "err", err)
		}
	}()

	collect := h.Invoker.Command(ctx, "")
	collect.Argv = append(collect.Argv, "--no-report")
	collect.Argv = append(collect.Argv, args...)
	collect.Dir = ws.Root
	if _, err := h.Invoker.RunSuccess(ctx, collect); err != nil {
		return nil, err
	}

	profile, ok, err := profraw.PerturbOne(ws.Root, h.Logger)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coverr.New(coverr.Setup, profraw.TargetDir(ws.Root), "no raw profile was produced")
	}

	report := h.Invoker.Command(ctx, "report")
	report.Argv = append(report.Argv, args...)
	report.Dir = ws.Root
	res := &CorruptionResult{Profile: profile}
	if res.Report, err = h.Invoker.Run(ctx, report); err != nil {
		return res, err
	}
	if res.Report.Success() {
		return res, coverr.New(coverr.ToolFailure, ws.Root, fmt.Sprintf(
			"%s accepted a corrupted profile:\n\n%s", report, executil.FrameStreams(res.Report.Stdout, res.Report.Stderr)))
	}
	return res, nil
}
