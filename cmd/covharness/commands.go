package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/golden"
	"github.com/lattice-substrate/cov-conformance/harness"
	"github.com/lattice-substrate/cov-conformance/normalize"
	"github.com/lattice-substrate/cov-conformance/profraw"
	"github.com/lattice-substrate/cov-conformance/scenario"
)

func commands() []*command {
	return []*command{
		stageCmd(),
		invokeCmd(),
		normalizeCmd(),
		compareCmd(),
		perturbCmd(),
		reportCmd(),
		suiteCmd(),
		printConfigCmd(),
	}
}

func stageCmd() *command {
	return &command{
		name:  "stage",
		usage: "stage <model>",
		short: "Copy a fixture's tracked files into a new workspace",
		flags: flag.NewFlagSet("stage", flag.ContinueOnError),
		exec: func(ctx context.Context, e *env, args []string) error {
			if err := requireArgs(args, 1, "stage <model>"); err != nil {
				return err
			}
			h, err := e.harness()
			if err != nil {
				return err
			}
			ws, err := h.Stager.Stage(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.stdout, ws.Root)
			return err
		},
	}
}

func invokeCmd() *command {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	subcommand := fs.String("subcommand", "", "tool subcommand")
	keep := fs.Bool("keep", false, "keep the workspace")
	return &command{
		name:  "invoke",
		usage: "invoke <model> [--subcommand s] [-- tool args]",
		short: "Run the coverage tool in a fresh workspace",
		flags: fs,
		exec: func(ctx context.Context, e *env, args []string) error {
			if err := requireArgs(args, 1, "invoke <model> [-- tool args]"); err != nil {
				return err
			}
			h, err := e.harness()
			if err != nil {
				return err
			}
			ws, err := h.Stager.Stage(ctx, args[0])
			if err != nil {
				return err
			}
			if !*keep {
				defer func() { _ = ws.Close() }()
			} else {
				fmt.Fprintf(e.stderr, "workspace: %s\n", ws.Root)
			}
			cmd := h.Invoker.Command(ctx, *subcommand)
			cmd.Argv = append(cmd.Argv, args[1:]...)
			cmd.Dir = ws.Root
			res, runErr := h.Invoker.RunSuccess(ctx, cmd)
			fmt.Fprint(e.stdout, res.Stdout)
			if runErr != nil {
				return runErr
			}
			fmt.Fprint(e.stderr, res.Stderr)
			return nil
		},
	}
}

func normalizeCmd() *command {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "treat the file as a JSON export")
	summaryOnly := fs.Bool("summary-only", false, "the export carries summaries only; skip demangling")
	separators := fs.Bool("separators", filepath.Separator == '\\', "rewrite backslash separators")
	return &command{
		name:  "normalize",
		usage: "normalize [--json] [--summary-only] [--separators] <file>",
		short: "Normalize a report file in place",
		flags: fs,
		exec: func(_ context.Context, _ *env, args []string) error {
			if err := requireArgs(args, 1, "normalize [--json] [--summary-only] <file>"); err != nil {
				return err
			}
			return normalize.File(args[0], normalize.Options{
				JSON:        *asJSON,
				SummaryOnly: *summaryOnly,
				Separators:  *separators,
			})
		},
	}
}

func compareCmd() *command {
	return &command{
		name:  "compare",
		usage: "compare <golden> <output>",
		short: "Diff an output file against a golden, failing on mismatch",
		flags: flag.NewFlagSet("compare", flag.ContinueOnError),
		exec: func(ctx context.Context, e *env, args []string) error {
			if err := requireArgs(args, 2, "compare <golden> <output>"); err != nil {
				return err
			}
			cfg, err := e.config()
			if err != nil {
				return err
			}
			logger := e.logger()
			expected, err := golden.Read(args[0], logger)
			if err != nil {
				return err
			}
			c := &golden.Comparator{
				CI:     true,
				Diff:   golden.GitDiff{Git: cfg.Git},
				Logger: logger,
				Out:    e.stdout,
			}
			_, err = c.Compare(ctx, args[1], expected)
			return err
		},
	}
}

func perturbCmd() *command {
	return &command{
		name:  "perturb",
		usage: "perturb <workspace>",
		short: "Corrupt the magic of the first raw profile in a workspace",
		flags: flag.NewFlagSet("perturb", flag.ContinueOnError),
		exec: func(_ context.Context, e *env, args []string) error {
			if err := requireArgs(args, 1, "perturb <workspace>"); err != nil {
				return err
			}
			path, ok, err := profraw.PerturbOne(args[0], e.logger())
			if err != nil {
				return coverr.Wrap(coverr.InternalIO, args[0], "perturb raw profile", err)
			}
			if !ok {
				_, err = fmt.Fprintln(e.stderr, "no raw profile found")
				return err
			}
			_, err = fmt.Fprintln(e.stdout, path)
			return err
		},
	}
}

func reportCmd() *command {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	subcommand := fs.String("subcommand", "", "tool subcommand")
	envPairs := fs.StringArray("env", nil, "extra tool environment NAME=VALUE (repeatable)")
	return &command{
		name:  "report",
		usage: "report <model> <name> <ext> [--subcommand s] [--env K=V]... [-- tool args]",
		short: "Produce, normalize and check one golden report",
		flags: fs,
		exec: func(ctx context.Context, e *env, args []string) error {
			if err := requireArgs(args, 3, "report <model> <name> <ext> [-- tool args]"); err != nil {
				return err
			}
			extra, err := parseEnvPairs(*envPairs)
			if err != nil {
				return err
			}
			h, err := e.harness()
			if err != nil {
				return err
			}
			res, err := h.Report(ctx, scenario.Scenario{
				Model:      args[0],
				Name:       args[1],
				Extension:  args[2],
				Subcommand: *subcommand,
				Args:       args[3:],
				Env:        extra,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.stdout, res.OutputPath)
			return err
		},
	}
}

func suiteCmd() *command {
	fs := flag.NewFlagSet("suite", flag.ContinueOnError)
	suitePath := fs.String("suite", filepath.Join("testdata", "suite.json"), "scenario suite file")
	models := fs.StringSlice("model", nil, "only run scenarios of these models")
	failFast := fs.Bool("fail-fast", false, "stop at the first failing scenario")
	out := fs.String("out", "", "write the run report JSON here")
	return &command{
		name:  "suite",
		usage: "suite [--suite file] [--model m]... [--fail-fast] [--out file]",
		short: "Run every scenario of a suite",
		flags: fs,
		exec: func(ctx context.Context, e *env, _ []string) error {
			path := *suitePath
			if !filepath.IsAbs(path) {
				path = filepath.Join(e.workDir, path)
			}
			suite, err := scenario.LoadSuite(path)
			if err != nil {
				return err
			}
			h, err := e.harness()
			if err != nil {
				return err
			}
			report, err := scenario.RunSuite(ctx, suite, h, scenario.RunOptions{
				Models:   *models,
				FailFast: *failFast,
				CI:       h.Comparator.CI,
				Logger:   h.Logger,
			})
			if err != nil {
				return err
			}
			if *out != "" {
				target := *out
				if !filepath.IsAbs(target) {
					target = filepath.Join(e.workDir, target)
				}
				if err := scenario.WriteReport(target, report); err != nil {
					return err
				}
			}
			passed := 0
			for _, r := range report.Results {
				if r.Passed {
					passed++
					continue
				}
				fmt.Fprintf(e.stderr, "FAIL %s: %s\n", r.ID, firstLine(r.Error))
			}
			fmt.Fprintf(e.stdout, "%d/%d scenarios passed\n", passed, len(report.Results))
			if failed := report.FirstFailure(); failed != nil {
				return coverr.New(coverr.FailureClass(failed.FailureClass), failed.ID,
					fmt.Sprintf("%d of %d scenarios failed", len(report.Results)-passed, len(report.Results)))
			}
			return nil
		},
	}
}

func printConfigCmd() *command {
	return &command{
		name:  "print-config",
		usage: "print-config",
		short: "Print the effective configuration",
		flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		exec: func(_ context.Context, e *env, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			text, err := harness.FormatConfig(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.stdout, text)
			return err
		},
	}
}

// firstLine trims a failure to its headline; diffs are printed separately.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSuffix(strings.TrimSpace(line), ":")
}
