// Command fakecov is a deterministic stand-in for a cargo llvm-cov style
// coverage tool, used to exercise the harness without a Rust toolchain.
//
// Usage:
//
//	fakecov llvm-cov [run|report|clean] [--color WHEN] [--output-path PATH]
//	    [--remap-path-prefix] [--json [--summary-only] | --lcov] [--no-report]
//
// Without a subcommand it instruments the sources of the project in the
// working directory, writes a raw profile and reports on it. Raw profiles
// whose header is not the raw profile magic are rejected.
//
// Exit codes:
//
//	0  success
//	1  tool error (bad profile, missing manifest, denied warning)
//	2  usage error
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"

	"github.com/lattice-substrate/cov-conformance/invoke"
	"github.com/lattice-substrate/cov-conformance/profraw"
)

const (
	exitSuccess = 0
	exitTool    = 1
	exitUsage   = 2
)

// WarnVar makes fakecov emit its value as a tool warning.
const WarnVar = "FAKECOV_WARN"

func main() {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitTool)
	}
	os.Exit(run(os.Args[1:], dir, os.Getenv, os.Stdout, os.Stderr))
}

type options struct {
	color       string
	outputPath  string
	remap       bool
	json        bool
	lcov        bool
	summaryOnly bool
	noReport    bool
}

func run(args []string, dir string, getenv func(string) string, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("fakecov", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.color, "color", "auto", "coloring: auto, always, never")
	fs.StringVar(&opts.outputPath, "output-path", "", "write the report to this file")
	fs.BoolVar(&opts.remap, "remap-path-prefix", false, "report paths relative to the project")
	fs.BoolVar(&opts.json, "json", false, "export coverage data as JSON")
	fs.BoolVar(&opts.lcov, "lcov", false, "export coverage data as lcov")
	fs.BoolVar(&opts.summaryOnly, "summary-only", false, "export only summary information")
	fs.BoolVar(&opts.noReport, "no-report", false, "collect profiles without reporting")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	positional := fs.Args()
	if len(positional) == 0 || positional[0] != "llvm-cov" {
		fmt.Fprintln(stderr, "usage: fakecov llvm-cov [run|report|clean] [options]")
		return exitUsage
	}
	subcommand := ""
	if len(positional) > 1 {
		subcommand = positional[1]
	}
	if len(positional) > 2 {
		fmt.Fprintf(stderr, "error: unexpected argument %q\n", positional[2])
		return exitUsage
	}
	if !slices.Contains([]string{"auto", "always", "never"}, opts.color) {
		fmt.Fprintf(stderr, "error: invalid value %q for --color\n", opts.color)
		return exitUsage
	}
	if opts.json && opts.lcov {
		fmt.Fprintln(stderr, "error: --json and --lcov are mutually exclusive")
		return exitUsage
	}
	if opts.summaryOnly && !opts.json {
		fmt.Fprintln(stderr, "error: --summary-only requires --json")
		return exitUsage
	}

	if msg := getenv(WarnVar); msg != "" {
		if getenv(invoke.DenyWarningsVar) == "true" {
			fmt.Fprintf(stderr, "error: %s\n", msg)
			return exitTool
		}
		fmt.Fprintf(stderr, "warning: %s\n", msg)
	}

	switch subcommand {
	case "", "run":
		return cmdRun(dir, opts, stdout, stderr)
	case "report":
		return cmdReport(dir, opts, stdout, stderr)
	case "clean":
		if err := os.RemoveAll(profraw.TargetDir(dir)); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitTool
		}
		return exitSuccess
	default:
		fmt.Fprintf(stderr, "error: unrecognized subcommand %q\n", subcommand)
		return exitUsage
	}
}

func cmdRun(dir string, opts options, stdout, stderr io.Writer) int {
	p, err := instrument(dir)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitTool
	}
	if _, err := writeProfile(dir, p); err != nil {
		fmt.Fprintf(stderr, "error: write profile: %v\n", err)
		return exitTool
	}
	if opts.noReport {
		return exitSuccess
	}
	return cmdReport(dir, opts, stdout, stderr)
}

func cmdReport(dir string, opts options, stdout, stderr io.Writer) int {
	p, err := mergeProfiles(dir)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitTool
	}
	ro := renderOptions{json: opts.json, lcov: opts.lcov, summaryOnly: opts.summaryOnly, dir: dir}
	if opts.remap {
		ro.remapPrefix = dir
	}
	out, err := render(p, ro)
	if err != nil {
		fmt.Fprintf(stderr, "error: render report: %v\n", err)
		return exitTool
	}
	if opts.outputPath == "" {
		if _, err := stdout.Write(out); err != nil {
			return exitTool
		}
		return exitSuccess
	}
	path := opts.outputPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		fmt.Fprintf(stderr, "error: write report: %v\n", err)
		return exitTool
	}
	return exitSuccess
}
