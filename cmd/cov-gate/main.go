// Command cov-gate runs the repository's required verification gates in order.
//
// The conformance gate and the golden suite run in CI mode so that missing or
// stale goldens fail instead of being regenerated.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

type gateStep struct {
	label string
	args  []string
	env   map[string]string
}

type commandRunner interface {
	Run(ctx context.Context, name string, args []string, env map[string]string, stdout io.Writer, stderr io.Writer) error
}

type realRunner struct{}

// gateConfig is the harness configuration used by the golden suite step.
const gateConfig = "testdata/gate.covharness.json"

// requiredGateSteps returns the gates in order. The last two build the
// stand-in coverage tool into binDir and replay the checked-in suite with it.
func requiredGateSteps(binDir string) []gateStep {
	tool := filepath.Join(binDir, "fakecov")
	if runtime.GOOS == "windows" {
		tool += ".exe"
	}
	return []gateStep{
		{label: "go vet", args: []string{"vet", "./..."}},
		{label: "unit tests", args: []string{"test", "./...", "-count=1", "-timeout=20m"}},
		{label: "race tests", args: []string{"test", "./...", "-race", "-count=1", "-timeout=25m"}},
		{label: "conformance", args: []string{"test", "./conformance", "-count=1", "-timeout=10m", "-v"}, env: map[string]string{"CI": "true"}},
		{label: "build stand-in tool", args: []string{"build", "-o", tool, "./cmd/fakecov"}},
		{label: "golden suite", args: []string{
			"run", "./cmd/covharness", "suite",
			"--config", gateConfig,
			"--tool", tool,
			"--suite", filepath.Join("testdata", "suite.json"),
			"--ci", "true",
		}},
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, realRunner{}))
}

func run(args []string, stdout, stderr io.Writer, runner commandRunner) int {
	if len(args) > 0 {
		switch args[0] {
		case "--help", "-h":
			if err := writeUsage(stdout); err != nil {
				return 1
			}
			return 0
		default:
			if err := writef(stderr, "error: unknown argument %q\n", args[0]); err != nil {
				return 1
			}
			if err := writeUsage(stderr); err != nil {
				return 1
			}
			return 2
		}
	}

	binDir, err := os.MkdirTemp("", "cov-gate-*")
	if err != nil {
		_ = writef(stderr, "gate failed: %v\n", err)
		return 1
	}
	defer func() { _ = os.RemoveAll(binDir) }()

	ctx := context.Background()
	steps := requiredGateSteps(binDir)
	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, len(steps), step.label); err != nil {
			return 1
		}
		if err := runner.Run(ctx, "go", step.args, step.env, stdout, stderr); err != nil {
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

func (realRunner) Run(ctx context.Context, name string, args []string, env map[string]string, stdout io.Writer, stderr io.Writer) error {
	// #nosec G204 -- command and args are fixed repository gate invocations.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = executil.Environ(os.Environ(), nil, env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/cov-gate [--help]"); err != nil {
		return err
	}
	return writeLine(w, "runs: vet, tests, race, conformance (CI=true), golden suite with the stand-in tool")
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
