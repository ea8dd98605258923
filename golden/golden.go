// Package golden compares normalized tool output with checked-in expected
// reports.
//
// Enforcement is asymmetric. In CI a mismatch fails with a full diff; locally
// comparison is a no-op, so the freshly written output simply becomes the new
// golden for a human to review.
package golden

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cyberphone "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/natefinch/atomic"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

// CIVar is the variable whose presence selects strict enforcement.
const CIVar = "CI"

// Path returns <reportsRoot>/<model>/<name>.<ext>.
func Path(reportsRoot, model, name, ext string) string {
	return filepath.Join(reportsRoot, model, name+"."+ext)
}

// CIFromEnv reports whether the CI variable is set at all.
func CIFromEnv(lookup func(string) (string, bool)) bool {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	_, ok := lookup(CIVar)
	return ok
}

// Expected is the content a golden file holds before a run.
type Expected struct {
	Content string
	// Missing is set when no golden existed; Content is then empty.
	Missing bool
}

// Read loads the golden at path. A missing golden is not an error: it reads
// as empty and is flagged so a CI failure can say why.
func Read(path string, logger *slog.Logger) (Expected, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			orDefault(logger).Warn("golden file missing, expecting empty output", "path", path)
			return Expected{Missing: true}, nil
		}
		return Expected{}, coverr.Wrap(coverr.InternalIO, path, "read golden", err)
	}
	return Expected{Content: string(data)}, nil
}

// Write replaces the golden at path atomically.
func Write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return coverr.Wrap(coverr.InternalIO, path, "create reports dir", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return coverr.Wrap(coverr.InternalIO, path, "write golden", err)
	}
	return nil
}

// Result describes one comparison.
type Result struct {
	Path string
	// Checked is false outside CI, where nothing is compared.
	Checked bool
	Match   bool
	Missing bool
	Diff    string
	// FormattingOnly marks JSON mismatches whose canonical forms agree.
	FormattingOnly bool
}

// Comparator checks output files against goldens.
type Comparator struct {
	CI     bool
	Diff   DiffTool
	Logger *slog.Logger
	// Out receives the diff of a mismatch; nil discards it.
	Out io.Writer
}

// Compare diffs the file at path against expected. Outside CI it always
// succeeds. In CI a mismatch returns the Result and a GoldenMismatch error
// carrying the diff. Neither file is modified.
func (c *Comparator) Compare(ctx context.Context, path string, expected Expected) (*Result, error) {
	res := &Result{Path: path, Missing: expected.Missing}
	if !c.CI {
		res.Match = true
		return res, nil
	}
	res.Checked = true

	diff, same, err := c.diffTool().Diff(ctx, expected.Content, path)
	if err != nil {
		orDefault(c.Logger).Debug("diff tool unavailable, using in-process diff", "err", err)
		actual, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, coverr.Wrap(coverr.InternalIO, path, "read output", readErr)
		}
		same = expected.Content == string(actual)
		if !same {
			diff = UnifiedDiff(expected.Content, string(actual), path)
		}
	}
	if same {
		res.Match = true
		return res, nil
	}

	res.Diff = diff
	if strings.EqualFold(filepath.Ext(path), ".json") {
		res.FormattingOnly = canonicalEqual(expected.Content, path)
	}
	if c.Out != nil {
		_, _ = io.WriteString(c.Out, diff)
	}
	return res, coverr.New(coverr.GoldenMismatch, path, mismatchMessage(res))
}

func (c *Comparator) diffTool() DiffTool {
	if c.Diff == nil {
		return GitDiff{}
	}
	return c.Diff
}

func mismatchMessage(res *Result) string {
	var b strings.Builder
	b.WriteString("output differs from golden")
	if res.Missing {
		b.WriteString(" (golden file is missing; expected empty output)")
	}
	if res.FormattingOnly {
		b.WriteString(" (formatting only: canonical JSON forms are equal)")
	}
	fmt.Fprintf(&b, ":\n%s", res.Diff)
	return b.String()
}

func canonicalEqual(expected string, path string) bool {
	actual, err := os.ReadFile(path)
	if err != nil || expected == "" {
		return false
	}
	a, err := cyberphone.Transform([]byte(expected))
	if err != nil {
		return false
	}
	b, err := cyberphone.Transform(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
