package harness

import (
	"context"
	"testing"

	"github.com/lattice-substrate/cov-conformance/fixture"
	"github.com/lattice-substrate/cov-conformance/scenario"
)

// TestReport runs one report scenario and fails the test on any error,
// including a golden mismatch in CI.
func TestReport(tb testing.TB, h *Harness, model, name, ext, subcommand string, args []string, envs map[string]string) *ReportResult {
	tb.Helper()

	res, err := h.Report(context.Background(), scenario.Scenario{
		Model:      model,
		Name:       name,
		Extension:  ext,
		Subcommand: subcommand,
		Args:       args,
		Env:        envs,
	})
	if err != nil {
		tb.Fatalf("report %s/%s.%s: %v", model, name, ext, err)
	}
	return res
}

// TestProject stages model for the duration of the test.
func TestProject(tb testing.TB, h *Harness, model string) *fixture.Workspace {
	tb.Helper()
	return fixture.StageT(tb, h.Stager, model)
}
