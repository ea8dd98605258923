package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/lattice-substrate/cov-conformance/profraw"
)

// function is one instrumented function of the fixture crate.
type function struct {
	Crate string `json:"crate"`
	Name  string `json:"name"`
	File  string `json:"file"`
	Line  int    `json:"line"`
	Count uint64 `json:"count"`
}

// profile is the payload following the raw profile magic.
type profile struct {
	Functions []function `json:"functions"`
}

var errNoManifest = errors.New("could not find `Cargo.toml` in the current directory")

// crateName reads the package name from the manifest in dir.
func crateName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "Cargo.toml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errNoManifest
		}
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if ok && strings.TrimSpace(key) == "name" {
			return strings.Trim(strings.TrimSpace(value), `"`), nil
		}
	}
	return "", fmt.Errorf("Cargo.toml has no package name")
}

// instrument finds every `fn` under dir/src and marks a function as executed
// when it is main or referenced as a call anywhere in the sources.
func instrument(dir string) (*profile, error) {
	crate, err := crateName(dir)
	if err != nil {
		return nil, err
	}
	var sources []string
	err = filepath.WalkDir(filepath.Join(dir, "src"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".rs" {
			sources = append(sources, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	slices.Sort(sources)

	var all strings.Builder
	p := &profile{}
	for _, path := range sources {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		all.Write(data)
		for i, line := range strings.Split(string(data), "\n") {
			name, ok := fnName(line)
			if !ok {
				continue
			}
			p.Functions = append(p.Functions, function{Crate: crate, Name: name, File: path, Line: i + 1})
		}
	}
	text := all.String()
	for i := range p.Functions {
		f := &p.Functions[i]
		if f.Name == "main" || strings.Count(text, f.Name+"(") > 1 {
			f.Count = 1
		}
	}
	return p, nil
}

func fnName(line string) (string, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "pub ")
	rest, ok := strings.CutPrefix(line, "fn ")
	if !ok {
		return "", false
	}
	name, _, ok := strings.Cut(rest, "(")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// writeProfile stores p as a raw profile in the build-output directory.
func writeProfile(dir string, p *profile) (string, error) {
	target := profraw.TargetDir(dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	payload, err := json.Marshal(p, json.Deterministic(true))
	if err != nil {
		return "", err
	}
	crate := "default"
	if len(p.Functions) > 0 {
		crate = p.Functions[0].Crate
	}
	path := filepath.Join(target, crate+"-0"+profraw.Ext)
	if err := os.WriteFile(path, append(profraw.Header(), payload...), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// mergeProfiles reads every raw profile in the build-output directory.
// A profile whose header is not the raw profile magic aborts the merge.
func mergeProfiles(dir string) (*profile, error) {
	target := profraw.TargetDir(dir)
	entries, err := os.ReadDir(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	merged := &profile{}
	found := false
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != profraw.Ext {
			continue
		}
		path := filepath.Join(target, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if len(data) < profraw.HeaderSize || !bytes.Equal(data[:profraw.HeaderSize], profraw.Header()) {
			return nil, fmt.Errorf("failed to merge profile data: %s: invalid instrumentation profile data (bad magic)", path)
		}
		var p profile
		if err := json.Unmarshal(data[profraw.HeaderSize:], &p); err != nil {
			return nil, fmt.Errorf("failed to merge profile data: %s: %w", path, err)
		}
		merged.Functions = append(merged.Functions, p.Functions...)
		found = true
	}
	if !found {
		return nil, fmt.Errorf("no input files specified: none of %s/*%s exist", target, profraw.Ext)
	}
	return merged, nil
}

// mangle renders a legacy Rust symbol for crate::name with a stable hash.
func mangle(crate, name string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(crate + "::" + name))
	return fmt.Sprintf("_ZN%d%s%d%s17h%016xE", len(crate), crate, len(name), name, h.Sum64())
}
