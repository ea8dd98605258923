// Package normalize rewrites freshly produced tool output in place so that
// identical logical results are byte-identical across machines.
//
// Two rules apply. Structured (JSON) reports are parsed, their symbols
// demangled unless only a summary was requested, and re-serialized with
// stable formatting. On backslash-separator platforms every path separator is
// then turned into a forward slash.
package normalize

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

// Options selects which rules apply to one output file.
type Options struct {
	// JSON marks the output as the structured export format.
	JSON bool
	// SummaryOnly skips demangling; summaries carry no symbols.
	SummaryOnly bool
	// Separators enables the backslash rewrite.
	Separators bool
}

// OptionsFromArgs derives Options from the tool arguments of an invocation.
func OptionsFromArgs(args []string) Options {
	return Options{
		JSON:        slices.Contains(args, "--json"),
		SummaryOnly: slices.Contains(args, "--summary-only"),
		Separators:  filepath.Separator == '\\',
	}
}

// Separators converts escaped separators ("\\\\" inside JSON strings) and
// then raw separators to forward slashes. The escaped pair must go first or
// it would become two slashes.
func Separators(s string) string {
	s = strings.ReplaceAll(s, `\\`, "/")
	return strings.ReplaceAll(s, `\`, "/")
}

// Bytes applies the rules to data and returns the normalized content.
func Bytes(data []byte, opts Options) ([]byte, error) {
	if opts.JSON {
		e, err := ParseExport(data)
		if err != nil {
			return nil, coverr.Wrap(coverr.Normalize, "", "parse json export", err)
		}
		if !opts.SummaryOnly {
			e.Demangle()
		}
		data, err = e.Marshal()
		if err != nil {
			return nil, coverr.Wrap(coverr.Normalize, "", "serialize json export", err)
		}
	}
	if opts.Separators {
		data = []byte(Separators(string(data)))
	}
	return data, nil
}

// File normalizes the output file at path in place. The rewrite is atomic:
// a failure leaves the original content.
func File(path string, opts Options) error {
	if !opts.JSON && !opts.Separators {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return coverr.Wrap(coverr.Normalize, path, "read output", err)
	}
	out, err := Bytes(data, opts)
	if err != nil {
		var ce *coverr.Error
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return coverr.Wrap(coverr.Normalize, path, "write normalized output", err)
	}
	return nil
}
