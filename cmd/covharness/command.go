package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/harness"
)

// command is one covharness subcommand.
type command struct {
	name  string
	usage string
	short string
	flags *flag.FlagSet
	exec  func(ctx context.Context, e *env, args []string) error
}

func findCommand(cmds []*command, name string) (*command, bool) {
	for _, c := range cmds {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// env is the process context a command runs in.
type env struct {
	workDir string
	lookup  func(string) (string, bool)
	stdout  io.Writer
	stderr  io.Writer
	common  *commonFlags
}

// commonFlags override config file and environment values.
type commonFlags struct {
	configPath string
	tool       string
	fixtures   string
	reports    string
	git        string
	lister     string
	ci         string
	workDir    string
	verbose    bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "config file (JSON with comments)")
	fs.StringVar(&c.tool, "tool", "", "coverage tool binary")
	fs.StringVar(&c.fixtures, "fixtures", "", "fixtures root holding crates/<model>")
	fs.StringVar(&c.reports, "reports-root", "", "golden reports root (default <fixtures>/coverage-reports)")
	fs.StringVar(&c.git, "git", "", "git binary")
	fs.StringVar(&c.lister, "lister", "", "tracked file lister: git or manifest")
	fs.StringVar(&c.ci, "ci", "", "force golden enforcement on or off (default: CI variable)")
	fs.StringVar(&c.workDir, "work-dir", "", "parent directory for staged workspaces")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")
	return c
}

func (e *env) logger() *slog.Logger {
	level := slog.LevelInfo
	if e.common.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
}

func (e *env) config() (harness.Config, error) {
	ci, err := harness.ParseBool(e.common.ci)
	if err != nil {
		return harness.Config{}, err
	}
	overlay := harness.Config{
		Tool:         e.common.tool,
		FixturesRoot: e.common.fixtures,
		ReportsRoot:  e.common.reports,
		Git:          e.common.git,
		Lister:       e.common.lister,
		CI:           ci,
		WorkDir:      e.common.workDir,
	}
	cfg, _, err := harness.LoadConfig(e.workDir, e.common.configPath, e.lookup, overlay)
	return cfg, err
}

func (e *env) harness() (*harness.Harness, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return harness.New(cfg, harness.Options{
		Logger:  e.logger(),
		Lookup:  e.lookup,
		DiffOut: e.stdout,
	})
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return coverr.New(coverr.CLIUsage, "", "usage: covharness "+usage)
	}
	return nil
}

// parseEnvPairs turns repeated NAME=VALUE flags into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, coverr.New(coverr.CLIUsage, "", fmt.Sprintf("invalid --env %q, want NAME=VALUE", p))
		}
		out[k] = v
	}
	return out, nil
}
