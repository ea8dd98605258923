package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/go-json-experiment/json"
)

type renderOptions struct {
	json        bool
	lcov        bool
	summaryOnly bool
	// dir is the project directory; remapPrefix is dir when remapping.
	dir         string
	remapPrefix string
}

type summary struct {
	Count   int     `json:"count"`
	Covered int     `json:"covered"`
	Percent float64 `json:"percent"`
}

func newSummary(count, covered int) summary {
	s := summary{Count: count, Covered: covered}
	if count > 0 {
		s.Percent = float64(covered) * 100 / float64(count)
	}
	return s
}

type fileSummary struct {
	Functions summary `json:"functions"`
	Lines     summary `json:"lines"`
}

type exportFile struct {
	Filename string      `json:"filename"`
	Summary  fileSummary `json:"summary"`
}

type exportFunction struct {
	Name      string   `json:"name"`
	Count     uint64   `json:"count"`
	Regions   [][8]int `json:"regions"`
	Branches  [][]int  `json:"branches"`
	Filenames []string `json:"filenames"`
}

type exportData struct {
	Files     []exportFile     `json:"files"`
	Functions []exportFunction `json:"functions,omitempty"`
	Totals    fileSummary      `json:"totals"`
}

type export struct {
	Data         []exportData      `json:"data"`
	Type         string            `json:"type"`
	Version      string            `json:"version"`
	CargoLLVMCov map[string]string `json:"cargo_llvm_cov"`
}

type fileCoverage struct {
	name      string
	functions []function
}

func (f fileCoverage) summary() fileSummary {
	covered := 0
	for _, fn := range f.functions {
		if fn.Count > 0 {
			covered++
		}
	}
	s := newSummary(len(f.functions), covered)
	return fileSummary{Functions: s, Lines: s}
}

// byFile groups functions per source file in first-seen order, applying the
// path remapping.
func byFile(p *profile, remapPrefix string) []fileCoverage {
	var files []fileCoverage
	index := make(map[string]int)
	for _, fn := range p.Functions {
		fn.File = displayPath(fn.File, remapPrefix)
		i, ok := index[fn.File]
		if !ok {
			i = len(files)
			index[fn.File] = i
			files = append(files, fileCoverage{name: fn.File})
		}
		files[i].functions = append(files[i].functions, fn)
	}
	return files
}

func displayPath(path, remapPrefix string) string {
	if remapPrefix == "" {
		return path
	}
	rel, err := filepath.Rel(remapPrefix, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func render(p *profile, opts renderOptions) ([]byte, error) {
	files := byFile(p, opts.remapPrefix)
	switch {
	case opts.json:
		return renderJSON(files, opts)
	case opts.lcov:
		return renderLCOV(files), nil
	default:
		return renderText(files)
	}
}

func renderJSON(files []fileCoverage, opts renderOptions) ([]byte, error) {
	var data exportData
	total := 0
	covered := 0
	for _, f := range files {
		s := f.summary()
		total += s.Functions.Count
		covered += s.Functions.Covered
		data.Files = append(data.Files, exportFile{Filename: f.name, Summary: s})
		if opts.summaryOnly {
			continue
		}
		for _, fn := range f.functions {
			data.Functions = append(data.Functions, exportFunction{
				Name:      mangle(fn.Crate, fn.Name),
				Count:     fn.Count,
				Regions:   [][8]int{{fn.Line, 1, fn.Line, 2, int(fn.Count), 0, 0, 0}},
				Branches:  [][]int{},
				Filenames: []string{f.name},
			})
		}
	}
	s := newSummary(total, covered)
	data.Totals = fileSummary{Functions: s, Lines: s}
	doc := export{
		Data:    []exportData{data},
		Type:    "llvm.coverage.json.export",
		Version: "2.0.1",
		CargoLLVMCov: map[string]string{
			"version":       "fakecov",
			"manifest_path": displayPath(filepath.Join(opts.dir, "Cargo.toml"), opts.remapPrefix),
		},
	}
	return json.Marshal(doc, json.Deterministic(true))
}

func renderLCOV(files []fileCoverage) []byte {
	var b bytes.Buffer
	for _, f := range files {
		fmt.Fprintf(&b, "SF:%s\n", f.name)
		hit := 0
		for _, fn := range f.functions {
			fmt.Fprintf(&b, "FN:%d,%s\n", fn.Line, mangle(fn.Crate, fn.Name))
		}
		for _, fn := range f.functions {
			fmt.Fprintf(&b, "FNDA:%d,%s\n", fn.Count, mangle(fn.Crate, fn.Name))
			if fn.Count > 0 {
				hit++
			}
		}
		fmt.Fprintf(&b, "FNF:%d\nFNH:%d\n", len(f.functions), hit)
		for _, fn := range f.functions {
			fmt.Fprintf(&b, "DA:%d,%d\n", fn.Line, fn.Count)
		}
		fmt.Fprintf(&b, "LF:%d\nLH:%d\nend_of_record\n", len(f.functions), hit)
	}
	return b.Bytes()
}

func renderText(files []fileCoverage) ([]byte, error) {
	var b bytes.Buffer
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Filename\tFunctions\tMissed Functions\tExecuted")
	for _, f := range files {
		s := f.summary().Functions
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f%%\n", f.name, s.Count, s.Count-s.Covered, s.Percent)
	}
	if err := tw.Flush(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
