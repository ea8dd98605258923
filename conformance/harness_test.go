package conformance_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lattice-substrate/cov-conformance/harness"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

type binaries struct {
	root       string
	fakecov    string
	covharness string
}

type cliResult struct {
	exitCode int
	stdout   string
	stderr   string
}

var (
	buildOnce sync.Once
	built     binaries
	buildErr  error
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve current file path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), ".."))
}

func testBinaries(t *testing.T) binaries {
	t.Helper()
	root := repoRoot(t)
	buildOnce.Do(func() {
		built.root = root
		var binDir string
		binDir, buildErr = os.MkdirTemp("", "covharness-conformance-*")
		if buildErr != nil {
			return
		}
		if built.fakecov, buildErr = buildBinary(root, binDir, "fakecov"); buildErr != nil {
			return
		}
		built.covharness, buildErr = buildBinary(root, binDir, "covharness")
	})
	if buildErr != nil {
		t.Fatalf("build conformance binaries: %v", buildErr)
	}
	return built
}

func buildBinary(root, binDir, name string) (string, error) {
	bin := filepath.Join(binDir, name)
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-trimpath", "-buildvcs=false", "-o", bin, "./cmd/"+name)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(out.String()))
	}
	return bin, nil
}

// newHarness points a harness at the stand-in tool. An empty reportsRoot
// uses the checked-in goldens.
func newHarness(t *testing.T, reportsRoot string, ci bool) *harness.Harness {
	t.Helper()
	bins := testBinaries(t)
	cfg := harness.DefaultConfig()
	cfg.Tool = bins.fakecov
	cfg.Setup = []string{}
	cfg.FixturesRoot = filepath.Join(bins.root, "testdata", "fixtures")
	cfg.ReportsRoot = reportsRoot
	cfg.Lister = harness.ListerManifest
	cfg.CI = &ci
	h, err := harness.New(cfg, harness.Options{Runner: executil.OSRunner{}})
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	return h
}

// cliWorkDir writes a project config for the covharness binary.
func cliWorkDir(t *testing.T) string {
	t.Helper()
	bins := testBinaries(t)
	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
  "tool": %q,
  "fixtures_root": %q,
  "lister": "manifest",
  "setup": [],
}`, bins.fakecov, filepath.Join(bins.root, "testdata", "fixtures"))
	if err := os.WriteFile(filepath.Join(dir, harness.ConfigFileName), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runCLI(t *testing.T, dir string, args ...string) cliResult {
	t.Helper()
	bins := testBinaries(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	res, err := executil.OSRunner{}.Capture(ctx, &executil.Command{
		Argv:  append([]string{bins.covharness}, args...),
		Dir:   dir,
		Unset: []string{"CI"},
	})
	if err != nil {
		t.Fatalf("run cli %v: %v", args, err)
	}
	return cliResult{exitCode: res.ExitCode, stdout: res.Stdout, stderr: res.Stderr}
}
