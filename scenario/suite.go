// Package scenario loads report scenario suites and runs them, producing a
// machine-readable run report.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/tailscale/hujson"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

// SuiteVersion is the only suite document version understood.
const SuiteVersion = "v1"

// Extensions are the report file extensions a scenario may produce.
var Extensions = []string{"json", "lcov", "txt", "html", "xml", "info", "codecov"}

// Suite is an ordered list of report scenarios.
type Suite struct {
	Version   string     `json:"version"`
	Scenarios []Scenario `json:"scenarios"`
}

// Scenario is one report invocation checked against one golden.
type Scenario struct {
	Model      string            `json:"model"`
	Name       string            `json:"name"`
	Extension  string            `json:"extension"`
	Subcommand string            `json:"subcommand,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// ID is the golden-relative identity of the scenario.
func (s Scenario) ID() string {
	return s.Model + "/" + s.Name + "." + s.Extension
}

// LoadSuite reads, decodes and validates a suite document. Comments and
// trailing commas are accepted; unknown fields and trailing documents are not.
//
//nolint:gosec // suite path is explicit operator input.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coverr.Wrap(coverr.Config, path, "read suite", err)
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, coverr.Wrap(coverr.Config, path, "decode suite", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, coverr.Wrap(coverr.Config, path, "decode suite", err)
	}
	if err := ensureSingleJSONDocument(dec); err != nil {
		return nil, coverr.Wrap(coverr.Config, path, "decode suite", err)
	}
	if err := ValidateSuite(&s); err != nil {
		return nil, coverr.Wrap(coverr.Config, path, "invalid suite", err)
	}
	return &s, nil
}

func ensureSingleJSONDocument(dec *json.Decoder) error {
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing json content")
		}
		return fmt.Errorf("decode trailing json token: %w", err)
	}
	return nil
}

// ValidateSuite checks scenario identity and argument consistency.
func ValidateSuite(s *Suite) error {
	if s == nil {
		return fmt.Errorf("suite is nil")
	}
	if s.Version != SuiteVersion {
		return fmt.Errorf("unsupported suite version %q", s.Version)
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("suite must include at least one scenario")
	}
	seen := make(map[string]struct{}, len(s.Scenarios))
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		if sc.Model == "" {
			return fmt.Errorf("scenario[%d] model is required", i)
		}
		if sc.Name == "" {
			return fmt.Errorf("scenario[%d] name is required", i)
		}
		if !slices.Contains(Extensions, sc.Extension) {
			return fmt.Errorf("scenario %s: unknown extension %q", sc.ID(), sc.Extension)
		}
		if _, ok := seen[sc.ID()]; ok {
			return fmt.Errorf("duplicate scenario: %s", sc.ID())
		}
		seen[sc.ID()] = struct{}{}

		wantsJSON := slices.Contains(sc.Args, "--json")
		if wantsJSON != (sc.Extension == "json") {
			return fmt.Errorf("scenario %s: --json must be passed exactly when the extension is json", sc.ID())
		}
	}
	return nil
}

// Filter returns the scenarios whose model is in models, or all of them when
// models is empty. Order is preserved.
func (s *Suite) Filter(models []string) []Scenario {
	if len(models) == 0 {
		return append([]Scenario(nil), s.Scenarios...)
	}
	var out []Scenario
	for _, sc := range s.Scenarios {
		if slices.Contains(models, sc.Model) {
			out = append(out, sc)
		}
	}
	return out
}
