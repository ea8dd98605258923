package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"

	"github.com/lattice-substrate/cov-conformance/normalize"
	"github.com/lattice-substrate/cov-conformance/profraw"
)

const libSource = `pub fn add(a: u32, b: u32) -> u32 {
    a + b
}

pub fn unused() {}
`

const mainSource = `fn main() {
    println!("{}", simple::add(1, 2));
}
`

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Cargo.toml":  "[package]\nname = \"simple\"\nversion = \"0.0.0\"\n",
		"src/lib.rs":  libSource,
		"src/main.rs": mainSource,
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func runTool(t *testing.T, dir string, vars map[string]string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, dir, env(vars), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunJSONReport(t *testing.T) {
	dir := newProject(t)
	out := filepath.Join(t.TempDir(), "simple.json")
	code, _, stderr := runTool(t, dir, nil, "llvm-cov", "--color", "never", "--output-path", out, "--remap-path-prefix", "--json")
	if code != exitSuccess {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	e, err := normalize.ParseExport(data)
	if err != nil {
		t.Fatalf("report is not an export document: %v", err)
	}
	if e.Type != normalize.ExportType || len(e.Data) != 1 {
		t.Fatalf("unexpected export header %q with %d units", e.Type, len(e.Data))
	}
	counts := make(map[string]uint64)
	for _, fn := range e.Data[0].Functions {
		if got := fn.Filenames[0]; strings.Contains(got, dir) {
			t.Fatalf("path %q was not remapped", got)
		}
		counts[normalize.Demangle(fn.Name)] = fn.Count
	}
	want := map[string]uint64{"simple::add": 1, "simple::unused": 0, "simple::main": 1}
	for name, c := range want {
		if got, ok := counts[name]; !ok || got != c {
			t.Errorf("%s: count=%d present=%v, want %d", name, got, ok, c)
		}
	}
	if !strings.Contains(string(data), `"manifest_path":"Cargo.toml"`) {
		t.Fatalf("manifest path not remapped: %s", data)
	}
}

func TestSummaryOnlyOmitsFunctions(t *testing.T) {
	dir := newProject(t)
	code, stdout, stderr := runTool(t, dir, nil, "llvm-cov", "--json", "--summary-only")
	if code != exitSuccess {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatal(err)
	}
	unit := doc["data"].([]any)[0].(map[string]any)
	if _, ok := unit["functions"]; ok {
		t.Fatal("summary-only export must not list functions")
	}
	if _, ok := unit["totals"]; !ok {
		t.Fatal("summary-only export must carry totals")
	}
}

func TestLCOVAndText(t *testing.T) {
	dir := newProject(t)
	code, stdout, _ := runTool(t, dir, nil, "llvm-cov", "--lcov", "--remap-path-prefix")
	if code != exitSuccess {
		t.Fatalf("exit %d", code)
	}
	for _, want := range []string{"SF:src/lib.rs\n", "FNF:2\nFNH:1\n", "end_of_record\n"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("lcov output missing %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = runTool(t, dir, nil, "llvm-cov", "report", "--remap-path-prefix")
	if code != exitSuccess {
		t.Fatalf("exit %d", code)
	}
	if !strings.HasPrefix(stdout, "Filename") || !strings.Contains(stdout, "src/main.rs") {
		t.Fatalf("unexpected text report:\n%s", stdout)
	}
}

func TestNoReportWritesValidProfile(t *testing.T) {
	dir := newProject(t)
	code, stdout, _ := runTool(t, dir, nil, "llvm-cov", "--no-report")
	if code != exitSuccess || stdout != "" {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	path, ok, err := profraw.Find(dir)
	if err != nil || !ok {
		t.Fatalf("no profile written: %v", err)
	}
	magic, err := profraw.ReadMagic(path)
	if err != nil || magic != profraw.Magic64 {
		t.Fatalf("magic = %#x, %v", magic, err)
	}
}

func TestReportRejectsPerturbedProfile(t *testing.T) {
	dir := newProject(t)
	if code, _, _ := runTool(t, dir, nil, "llvm-cov", "--no-report"); code != exitSuccess {
		t.Fatalf("collect exit %d", code)
	}
	if _, ok, err := profraw.PerturbOne(dir, nil); err != nil || !ok {
		t.Fatalf("perturb: ok=%v err=%v", ok, err)
	}
	code, _, stderr := runTool(t, dir, nil, "llvm-cov", "report")
	if code != exitTool {
		t.Fatalf("expected exit %d, got %d", exitTool, code)
	}
	if !strings.Contains(stderr, "failed to merge profile data") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestReportWithoutProfiles(t *testing.T) {
	code, _, stderr := runTool(t, newProject(t), nil, "llvm-cov", "report")
	if code != exitTool || !strings.Contains(stderr, "no input files") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
}

func TestClean(t *testing.T) {
	dir := newProject(t)
	runTool(t, dir, nil, "llvm-cov", "--no-report")
	if code, _, _ := runTool(t, dir, nil, "llvm-cov", "clean"); code != exitSuccess {
		t.Fatalf("clean exit %d", code)
	}
	if _, ok, _ := profraw.Find(dir); ok {
		t.Fatal("profiles survived clean")
	}
}

func TestWarnings(t *testing.T) {
	dir := newProject(t)
	code, _, stderr := runTool(t, dir, map[string]string{WarnVar: "unused manifest key"}, "llvm-cov", "--no-report")
	if code != exitSuccess || !strings.Contains(stderr, "warning: unused manifest key") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	code, _, stderr = runTool(t, dir, map[string]string{
		WarnVar:                        "unused manifest key",
		"CARGO_LLVM_COV_DENY_WARNINGS": "true",
	}, "llvm-cov", "--no-report")
	if code != exitTool || !strings.Contains(stderr, "error: unused manifest key") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
}

func TestUsageErrors(t *testing.T) {
	dir := newProject(t)
	cases := [][]string{
		{},
		{"report"},
		{"llvm-cov", "--color", "sometimes"},
		{"llvm-cov", "--json", "--lcov"},
		{"llvm-cov", "--summary-only"},
		{"llvm-cov", "frobnicate"},
		{"llvm-cov", "--no-such-flag"},
	}
	for _, args := range cases {
		if code, _, _ := runTool(t, dir, nil, args...); code != exitUsage {
			t.Errorf("args %q: expected exit %d, got %d", args, exitUsage, code)
		}
	}
}

func TestMissingManifest(t *testing.T) {
	code, _, stderr := runTool(t, t.TempDir(), nil, "llvm-cov")
	if code != exitTool || !strings.Contains(stderr, "Cargo.toml") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
}
