// Package fixture locates fixture projects and stages clean-room copies of
// their tracked files into temporary workspaces.
//
// Fixture layout under the fixtures root:
//
//	crates/<model>/...                  project template, tracked files only are staged
//	coverage-reports/<model>/<name>.<ext> golden reports
package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

const (
	modelsDir  = "crates"
	reportsDir = "coverage-reports"
)

// Root returns the repository's checked-in fixtures root.
func Root() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		return filepath.Join("testdata", "fixtures")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "testdata", "fixtures")
}

// Resolver maps fixture model names to directories under a fixtures root.
type Resolver struct {
	Root string
}

// ModelDir returns the template directory of model.
func (r Resolver) ModelDir(model string) (string, error) {
	if err := validModelName(model); err != nil {
		return "", err
	}
	dir := filepath.Join(r.Root, modelsDir, model)
	info, err := os.Stat(dir)
	if err != nil {
		return "", coverr.Wrap(coverr.Setup, dir, fmt.Sprintf("resolve fixture model %q", model), err)
	}
	if !info.IsDir() {
		return "", coverr.New(coverr.Setup, dir, fmt.Sprintf("fixture model %q is not a directory", model))
	}
	return dir, nil
}

// ReportsDir returns the golden report directory of model.
func (r Resolver) ReportsDir(model string) string {
	return filepath.Join(r.Root, reportsDir, model)
}

func validModelName(model string) error {
	if model == "" {
		return coverr.New(coverr.Setup, "", "fixture model name is required")
	}
	if model == "." || model == ".." || strings.ContainsAny(model, `/\`) {
		return coverr.New(coverr.Setup, "", fmt.Sprintf("invalid fixture model name %q", model))
	}
	return nil
}
