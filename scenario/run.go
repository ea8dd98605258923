package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/golden"
)

// ReportSchemaVersion identifies the run report layout.
const ReportSchemaVersion = "covharness-run.v1"

// Runner executes one scenario end to end.
type Runner interface {
	RunScenario(ctx context.Context, sc Scenario) (*golden.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, sc Scenario) (*golden.Result, error)

// RunScenario calls f.
func (f RunnerFunc) RunScenario(ctx context.Context, sc Scenario) (*golden.Result, error) {
	return f(ctx, sc)
}

// RunOptions configures suite execution.
type RunOptions struct {
	// Models restricts the run to these fixture models.
	Models []string
	// FailFast stops after the first failing scenario.
	FailFast bool
	// CI is recorded in the report.
	CI     bool
	Now    func() time.Time
	Logger *slog.Logger
}

// RunReport is the machine-consumed outcome of a suite run.
type RunReport struct {
	SchemaVersion  string   `json:"schema_version"`
	SuiteVersion   string   `json:"suite_version"`
	GeneratedAtUTC string   `json:"generated_at_utc"`
	CI             bool     `json:"ci"`
	Passed         bool     `json:"passed"`
	Results        []Result `json:"results"`
}

// Result is the outcome of one scenario.
type Result struct {
	ID             string `json:"id"`
	Model          string `json:"model"`
	Name           string `json:"name"`
	Extension      string `json:"extension"`
	Passed         bool   `json:"passed"`
	Checked        bool   `json:"checked"`
	GoldenMissing  bool   `json:"golden_missing"`
	FormattingOnly bool   `json:"formatting_only"`
	FailureClass   string `json:"failure_class,omitempty"`
	Error          string `json:"error,omitempty"`
}

// FirstFailure returns the first failed result, or nil.
func (r *RunReport) FirstFailure() *Result {
	for i := range r.Results {
		if !r.Results[i].Passed {
			return &r.Results[i]
		}
	}
	return nil
}

// RunSuite runs the selected scenarios in suite order. Scenario failures are
// recorded in the report rather than returned; the error is reserved for an
// unusable suite or runner.
func RunSuite(ctx context.Context, suite *Suite, runner Runner, opts RunOptions) (*RunReport, error) {
	if err := ValidateSuite(suite); err != nil {
		return nil, coverr.Wrap(coverr.Config, "", "invalid suite", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("scenario runner is required")
	}
	now := opts.Now
	if now == nil {
		now = wallClockNow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	selected := suite.Filter(opts.Models)
	if len(selected) == 0 {
		return nil, coverr.New(coverr.CLIUsage, "", fmt.Sprintf("no scenarios match models %v", opts.Models))
	}

	report := &RunReport{
		SchemaVersion:  ReportSchemaVersion,
		SuiteVersion:   suite.Version,
		GeneratedAtUTC: now().UTC().Format(time.RFC3339Nano),
		CI:             opts.CI,
		Passed:         true,
	}
	for _, sc := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := Result{ID: sc.ID(), Model: sc.Model, Name: sc.Name, Extension: sc.Extension}
		g, err := runner.RunScenario(ctx, sc)
		if g != nil {
			res.Checked = g.Checked
			res.GoldenMissing = g.Missing
			res.FormattingOnly = g.FormattingOnly
		}
		if err != nil {
			res.FailureClass = string(coverr.ClassOf(err))
			res.Error = err.Error()
			report.Passed = false
			logger.Error("scenario failed", "id", res.ID, "class", res.FailureClass)
		} else {
			res.Passed = true
			logger.Info("scenario passed", "id", res.ID, "checked", res.Checked)
		}
		report.Results = append(report.Results, res)
		if err != nil && opts.FailFast {
			break
		}
	}
	return report, nil
}

// WriteReport writes r as indented JSON, replacing path atomically.
func WriteReport(path string, r *RunReport) error {
	if r == nil {
		return fmt.Errorf("run report is nil")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return coverr.Wrap(coverr.InternalIO, path, "marshal run report", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return coverr.Wrap(coverr.InternalIO, path, "create report dir", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return coverr.Wrap(coverr.InternalIO, path, "write run report", err)
	}
	return nil
}

// LoadReport reads a run report written by WriteReport.
func LoadReport(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coverr.Wrap(coverr.InternalIO, path, "read run report", err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, coverr.Wrap(coverr.InternalIO, path, "decode run report", err)
	}
	if r.SchemaVersion != ReportSchemaVersion {
		return nil, coverr.New(coverr.InternalIO, path, fmt.Sprintf("unsupported schema_version %q", r.SchemaVersion))
	}
	return &r, nil
}

//nolint:forbidigo // default clock when none is injected.
func wallClockNow() time.Time {
	return time.Now()
}
