package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/runtime/executil"
)

// DefaultManifestName is the file ManifestLister reads when Name is empty.
const DefaultManifestName = "fixture.manifest.jsonc"

// TrackedFile is one file a fixture intentionally carries.
type TrackedFile struct {
	// Rel is the slash-separated path relative to the fixture directory.
	Rel string
	// Source is the absolute path of the file inside the fixture.
	Source string
}

// Lister enumerates the tracked files of a fixture directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]TrackedFile, error)
}

// GitLister asks version control which files it tracks under dir.
type GitLister struct {
	Git     string
	Filters []string
	Runner  executil.CommandRunner
}

// List runs `git ls-files <filters...>` in dir. Listing order is kept and
// entries that no longer exist on disk are dropped.
func (g GitLister) List(ctx context.Context, dir string) ([]TrackedFile, error) {
	git := g.Git
	if git == "" {
		git = "git"
	}
	runner := g.Runner
	if runner == nil {
		runner = executil.OSRunner{}
	}
	cmd := &executil.Command{
		Argv: append([]string{git, "ls-files"}, g.Filters...),
		Dir:  dir,
	}
	res, err := runner.Capture(ctx, cmd)
	if err != nil {
		return nil, coverr.Wrap(coverr.Setup, dir, "list tracked files", err)
	}
	if !res.Success() {
		return nil, coverr.New(coverr.Setup, dir, fmt.Sprintf(
			"process didn't exit successfully: %s:\n\n%s", cmd, executil.FrameStreams(res.Stdout, res.Stderr)))
	}
	return existing(dir, strings.Split(res.Stdout, "\n"))
}

// ManifestLister reads the tracked file set from a JSON-with-comments array
// of relative paths stored inside the fixture directory.
type ManifestLister struct {
	Name string
}

// List reads the manifest and returns the entries that exist on disk.
func (m ManifestLister) List(_ context.Context, dir string) ([]TrackedFile, error) {
	name := m.Name
	if name == "" {
		name = DefaultManifestName
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coverr.Wrap(coverr.Setup, path, "read fixture manifest", err)
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, coverr.Wrap(coverr.Setup, path, "parse fixture manifest", err)
	}
	var entries []string
	if err := json.Unmarshal(std, &entries); err != nil {
		return nil, coverr.Wrap(coverr.Setup, path, "decode fixture manifest", err)
	}
	return existing(dir, entries)
}

func existing(dir string, lines []string) ([]TrackedFile, error) {
	files := make([]TrackedFile, 0, len(lines))
	for _, line := range lines {
		rel := strings.TrimSpace(line)
		if rel == "" {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return nil, coverr.New(coverr.Setup, dir, fmt.Sprintf("tracked path escapes fixture: %q", rel))
		}
		src := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, coverr.Wrap(coverr.Setup, src, "stat tracked file", err)
		}
		files = append(files, TrackedFile{Rel: rel, Source: src})
	}
	return files, nil
}
