// Package executil provides command execution helpers for the harness.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// Rule frames captured streams in failure messages.
var Rule = strings.Repeat("-", 60)

// Command describes one subprocess invocation.
type Command struct {
	Argv []string
	Dir  string
	// Unset names variables removed from the inherited environment.
	Unset []string
	// Env is applied after Unset, so it may re-set an unset name.
	Env   map[string]string
	Stdin io.Reader
}

// String renders argv for diagnostics.
func (c *Command) String() string {
	return fmt.Sprintf("%q", c.Argv)
}

// Result is the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner abstracts command execution.
type CommandRunner interface {
	Capture(ctx context.Context, cmd *Command) (Result, error)
}

// OSRunner executes commands on the host.
type OSRunner struct{}

// Capture runs cmd to completion and captures stdout and stderr separately.
// A non-zero exit is reported through Result.ExitCode, not as an error; the
// error is reserved for processes that could not be started or waited on.
func (OSRunner) Capture(ctx context.Context, c *Command) (Result, error) {
	if c == nil || len(c.Argv) == 0 {
		return Result{}, fmt.Errorf("empty argv")
	}
	// #nosec G204 -- argv is assembled by the harness from configuration.
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = Environ(cmd.Environ(), c.Unset, c.Env)
	cmd.Stdin = c.Stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{
		Stdout: lossy(outBuf.Bytes()),
		Stderr: lossy(errBuf.Bytes()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("could not execute process %s: %w", c, err)
	}
	return res, nil
}

// Environ returns base with the unset names removed and env merged in
// sorted key order.
func Environ(base []string, unset []string, env map[string]string) []string {
	merged := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if containsName(unset, name) || hasName(env, name) {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+env[k])
	}
	return merged
}

// FrameStreams renders stdout and stderr for failure messages.
func FrameStreams(stdout, stderr string) string {
	return fmt.Sprintf("STDOUT:\n%[1]s\n%[2]s\n%[1]s\n\nSTDERR:\n%[1]s\n%[3]s\n%[1]s\n", Rule, stdout, stderr)
}

func lossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func sameName(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if sameName(n, name) {
			return true
		}
	}
	return false
}

func hasName(env map[string]string, name string) bool {
	for k := range env {
		if sameName(k, name) {
			return true
		}
	}
	return false
}
