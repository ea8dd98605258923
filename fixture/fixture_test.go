package fixture

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

type fakeRunner struct {
	res  executil.Result
	err  error
	cmds []*executil.Command
}

func (f *fakeRunner) Capture(_ context.Context, cmd *executil.Command) (executil.Result, error) {
	f.cmds = append(f.cmds, cmd)
	return f.res, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// newFixtureRoot builds crates/demo with two tracked files and build clutter.
func newFixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	model := filepath.Join(root, "crates", "demo")
	writeFile(t, filepath.Join(model, "Cargo.toml"), "[package]\nname = \"demo\"\n")
	writeFile(t, filepath.Join(model, "src", "nested", "lib.rs"), "pub fn f() {}\n")
	writeFile(t, filepath.Join(model, "target", "debug", "stale.profraw"), "junk")
	writeFile(t, filepath.Join(model, "untracked.txt"), "junk")
	return root
}

func listTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return out
}

func TestResolverModelDir(t *testing.T) {
	root := newFixtureRoot(t)
	r := Resolver{Root: root}
	dir, err := r.ModelDir("demo")
	if err != nil {
		t.Fatalf("ModelDir: %v", err)
	}
	if dir != filepath.Join(root, "crates", "demo") {
		t.Fatalf("unexpected dir %q", dir)
	}
	if got := r.ReportsDir("demo"); got != filepath.Join(root, "coverage-reports", "demo") {
		t.Fatalf("unexpected reports dir %q", got)
	}
}

func TestResolverRejectsBadNames(t *testing.T) {
	r := Resolver{Root: newFixtureRoot(t)}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "missing"} {
		if _, err := r.ModelDir(name); !coverr.Is(err, coverr.Setup) {
			t.Errorf("ModelDir(%q) err = %v, want SETUP", name, err)
		}
	}
}

func TestGitListerParsesListing(t *testing.T) {
	root := newFixtureRoot(t)
	dir := filepath.Join(root, "crates", "demo")
	fr := &fakeRunner{res: executil.Result{Stdout: "src/nested/lib.rs\n\n  Cargo.toml  \nremoved.rs\n"}}
	files, err := GitLister{Git: "git-x", Filters: []string{"--", "."}, Runner: fr}.List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []TrackedFile{
		{Rel: "src/nested/lib.rs", Source: filepath.Join(dir, "src", "nested", "lib.rs")},
		{Rel: "Cargo.toml", Source: filepath.Join(dir, "Cargo.toml")},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"git-x", "ls-files", "--", "."}, fr.cmds[0].Argv); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
	if fr.cmds[0].Dir != dir {
		t.Fatalf("ls-files ran in %q, want %q", fr.cmds[0].Dir, dir)
	}
}

func TestGitListerFailureFramesStreams(t *testing.T) {
	fr := &fakeRunner{res: executil.Result{Stdout: "partial", Stderr: "fatal: not a git repository", ExitCode: 128}}
	_, err := GitLister{Runner: fr}.List(context.Background(), t.TempDir())
	if !coverr.Is(err, coverr.Setup) {
		t.Fatalf("expected SETUP error, got %v", err)
	}
	for _, want := range []string{"STDOUT:", "partial", "STDERR:", "fatal: not a git repository", executil.Rule} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestGitListerRejectsEscapingPath(t *testing.T) {
	fr := &fakeRunner{res: executil.Result{Stdout: "../outside\n"}}
	if _, err := (GitLister{Runner: fr}).List(context.Background(), t.TempDir()); !coverr.Is(err, coverr.Setup) {
		t.Fatalf("expected SETUP error, got %v", err)
	}
}

func TestManifestLister(t *testing.T) {
	root := newFixtureRoot(t)
	dir := filepath.Join(root, "crates", "demo")
	writeFile(t, filepath.Join(dir, DefaultManifestName), `[
		// tracked sources
		"Cargo.toml",
		"src/nested/lib.rs",
		"gone.rs", // deleted since
	]`)
	files, err := ManifestLister{}.List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 || files[0].Rel != "Cargo.toml" || files[1].Rel != "src/nested/lib.rs" {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestManifestListerMissing(t *testing.T) {
	if _, err := (ManifestLister{}).List(context.Background(), t.TempDir()); !coverr.Is(err, coverr.Setup) {
		t.Fatalf("expected SETUP error, got %v", err)
	}
}

func TestStageCopiesOnlyTrackedFiles(t *testing.T) {
	root := newFixtureRoot(t)
	fr := &fakeRunner{res: executil.Result{Stdout: "Cargo.toml\nsrc/nested/lib.rs\n"}}
	s := &Stager{Resolver: Resolver{Root: root}, Lister: GitLister{Runner: fr}, TempDir: t.TempDir()}

	ws := StageT(t, s, "demo")

	got := listTree(t, ws.Root)
	want := map[string]string{
		"Cargo.toml":        "[package]\nname = \"demo\"\n",
		"src/nested/lib.rs": "pub fn f() {}\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("workspace mismatch (-want +got):\n%s", diff)
	}

	// The source tree is untouched.
	src := listTree(t, filepath.Join(root, "crates", "demo"))
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"Cargo.toml", "src/nested/lib.rs", "target/debug/stale.profraw", "untracked.txt"}, keys); diff != "" {
		t.Fatalf("fixture source changed (-want +got):\n%s", diff)
	}
}

func TestStageFailureRemovesWorkspace(t *testing.T) {
	root := newFixtureRoot(t)
	parent := t.TempDir()
	fr := &fakeRunner{res: executil.Result{Stdout: "Cargo.toml\n"}}
	// The second entry has no source file, so copying it fails after
	// Cargo.toml has already been staged.
	lister := listerFunc(func(ctx context.Context, dir string) ([]TrackedFile, error) {
		files, err := GitLister{Runner: fr}.List(ctx, dir)
		if err != nil {
			return nil, err
		}
		return append(files, TrackedFile{Rel: "missing/file.rs", Source: filepath.Join(dir, "missing", "file.rs")}), nil
	})
	s := &Stager{Resolver: Resolver{Root: root}, Lister: lister, TempDir: parent}

	if _, err := s.Stage(context.Background(), "demo"); !coverr.Is(err, coverr.Setup) {
		t.Fatalf("expected SETUP error, got %v", err)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("read parent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("partial workspace left behind: %v", entries)
	}
}

func TestStageRefusesParentInsideFixture(t *testing.T) {
	root := newFixtureRoot(t)
	s := &Stager{
		Resolver: Resolver{Root: root},
		Lister:   GitLister{Runner: &fakeRunner{}},
		TempDir:  filepath.Join(root, "crates", "demo", "target"),
	}
	if _, err := s.Stage(context.Background(), "demo"); !coverr.Is(err, coverr.Setup) {
		t.Fatalf("expected SETUP error, got %v", err)
	}
}

func TestStageWithRealGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := newFixtureRoot(t)
	dir := filepath.Join(root, "crates", "demo")
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "Cargo.toml", "src/nested/lib.rs"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	s := &Stager{Resolver: Resolver{Root: root}, Lister: GitLister{}, TempDir: t.TempDir()}
	ws := StageT(t, s, "demo")
	got := listTree(t, ws.Root)
	if len(got) != 2 || got["Cargo.toml"] == "" || got["src/nested/lib.rs"] == "" {
		t.Fatalf("unexpected workspace contents: %v", got)
	}
}

func TestRootPointsAtTestdata(t *testing.T) {
	if filepath.Base(Root()) != "fixtures" || filepath.Base(filepath.Dir(Root())) != "testdata" {
		t.Fatalf("unexpected fixtures root %q", Root())
	}
}

type listerFunc func(ctx context.Context, dir string) ([]TrackedFile, error)

func (f listerFunc) List(ctx context.Context, dir string) ([]TrackedFile, error) { return f(ctx, dir) }
