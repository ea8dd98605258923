// Command covharness stages coverage fixtures, runs the coverage tool in them
// and checks the normalized reports against goldens.
//
// Commands:
//
//	covharness stage <model>                        stage a workspace and print its path
//	covharness invoke <model> [-- tool args]        run the tool in a fresh workspace
//	covharness normalize [--json] [--summary-only] <file>
//	covharness compare <golden> <output>            strict golden comparison
//	covharness perturb <workspace>                  corrupt one raw profile header
//	covharness report <model> <name> <ext> [-- tool args]
//	covharness suite [--suite file] [--model m]...  run a scenario suite
//	covharness print-config                         show the effective config
//
// Exit codes:
//
//	0  success
//	2  usage or config error
//	3  fixture setup failure
//	4  coverage tool failure
//	5  normalization failure
//	6  golden mismatch
//	10 internal error
//	70 raw profile magic mismatch
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(coverr.InternalIO.ExitCode())
	}
	os.Exit(run(context.Background(), os.Args[1:], wd, os.LookupEnv, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, workDir string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	cmds := commands()
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		writeUsage(stderr, cmds)
		if len(args) == 0 {
			return coverr.CLIUsage.ExitCode()
		}
		return 0
	}

	cmd, ok := findCommand(cmds, args[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		writeUsage(stderr, cmds)
		return coverr.CLIUsage.ExitCode()
	}

	e := &env{workDir: workDir, lookup: lookup, stdout: stdout, stderr: stderr}
	cmd.flags.SetOutput(stderr)
	e.common = addCommonFlags(cmd.flags)
	if err := cmd.flags.Parse(args[1:]); err != nil {
		return coverr.CLIUsage.ExitCode()
	}
	return runCommand(ctx, cmd, e, cmd.flags.Args())
}

// runCommand executes cmd and maps its error, or a ProfileMagic panic, to
// an exit code.
func runCommand(ctx context.Context, cmd *command, e *env, args []string) (code int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err, ok := r.(*coverr.Error)
		if !ok || err.Class != coverr.ProfileMagic {
			panic(r)
		}
		code = writeClassifiedError(e.stderr, err)
	}()
	if err := cmd.exec(ctx, e, args); err != nil {
		return writeClassifiedError(e.stderr, err)
	}
	return 0
}

func writeClassifiedError(stderr io.Writer, err error) int {
	class := coverr.ClassOf(err)
	var ce *coverr.Error
	if !errors.As(err, &ce) {
		err = coverr.Wrap(class, "", "unexpected failure", err)
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return class.ExitCode()
}

func writeUsage(w io.Writer, cmds []*command) {
	fmt.Fprintln(w, "usage: covharness <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	width := 0
	for _, c := range cmds {
		width = max(width, len(c.name))
	}
	for _, c := range cmds {
		fmt.Fprintf(w, "  %s%s  %s\n", c.name, strings.Repeat(" ", width-len(c.name)), c.short)
	}
}
