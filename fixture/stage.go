package fixture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

// Workspace is an isolated, disposable copy of a fixture's tracked files.
type Workspace struct {
	Root  string
	Model string
	Files []TrackedFile
}

// Path joins slash-separated elements onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	parts := make([]string, 0, len(elem)+1)
	parts = append(parts, w.Root)
	for _, e := range elem {
		parts = append(parts, filepath.FromSlash(e))
	}
	return filepath.Join(parts...)
}

// Close removes the workspace tree.
func (w *Workspace) Close() error {
	if w == nil || w.Root == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}

// Stager materializes fixture workspaces.
type Stager struct {
	Resolver Resolver
	Lister   Lister
	// TempDir is the parent for new workspaces; empty means os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

// Stage copies exactly the tracked files of model into a fresh temporary
// directory. Any failure removes the partial workspace and is reported as a
// setup error.
func (s *Stager) Stage(ctx context.Context, model string) (*Workspace, error) {
	src, err := s.Resolver.ModelDir(model)
	if err != nil {
		return nil, err
	}
	if s.Lister == nil {
		return nil, coverr.New(coverr.Setup, src, "no tracked-file lister configured")
	}
	if s.TempDir != "" && within(src, s.TempDir) {
		return nil, coverr.New(coverr.Setup, s.TempDir, "workspace parent lies inside the fixture source tree")
	}

	files, err := s.Lister.List(ctx, src)
	if err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp(s.TempDir, "covharness-"+model+"-*")
	if err != nil {
		return nil, coverr.Wrap(coverr.Setup, "", "create workspace dir", err)
	}
	ws := &Workspace{Root: root, Model: model, Files: files}
	for _, f := range files {
		if err := copyTracked(f.Source, ws.Path(f.Rel)); err != nil {
			_ = ws.Close()
			return nil, coverr.Wrap(coverr.Setup, f.Source, fmt.Sprintf("stage %s", f.Rel), err)
		}
	}
	orDefault(s.Logger).Debug("staged fixture", "model", model, "files", len(files), "dir", root)
	return ws, nil
}

func copyTracked(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// within reports whether path is base or lies below it.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
