package golden

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

// DiffTool diffs expected content against a file.
type DiffTool interface {
	// Diff reports whether the file at path equals expected and, if not, a
	// human-readable diff. err means the tool itself could not run.
	Diff(ctx context.Context, expected string, path string) (diff string, same bool, err error)
}

// GitDiff streams expected into `git diff --no-index` as one side and the
// actual file as the other.
type GitDiff struct {
	Git    string
	Runner executil.CommandRunner
}

// Diff implements DiffTool.
func (g GitDiff) Diff(ctx context.Context, expected string, path string) (string, bool, error) {
	git := g.Git
	if git == "" {
		git = "git"
	}
	runner := g.Runner
	if runner == nil {
		runner = executil.OSRunner{}
	}
	cmd := &executil.Command{
		Argv:  []string{git, "--no-pager", "diff", "--no-index", "--", "-", path},
		Stdin: strings.NewReader(expected),
	}
	res, err := runner.Capture(ctx, cmd)
	if err != nil {
		return "", false, err
	}
	switch res.ExitCode {
	case 0:
		return "", true, nil
	case 1:
		return res.Stdout, false, nil
	default:
		return "", false, fmt.Errorf("%s exited with status %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}

// UnifiedDiff renders a unified diff of expected against actual.
func UnifiedDiff(expected, actual, path string) string {
	d, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff failed: %v", err)
	}
	return d
}
