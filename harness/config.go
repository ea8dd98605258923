package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/hujson"

	"github.com/lattice-substrate/cov-conformance/coverr"
	"github.com/lattice-substrate/cov-conformance/fixture"
	"github.com/lattice-substrate/cov-conformance/invoke"
)

// ConfigFileName is the optional project config file in the working directory.
const ConfigFileName = "covharness.json"

// Environment variables overriding config files.
const (
	EnvTool     = "COVHARNESS_TOOL"
	EnvFixtures = "COVHARNESS_FIXTURES"
	EnvGit      = "COVHARNESS_GIT"
)

// Tracked-file listing strategies.
const (
	ListerGit      = "git"
	ListerManifest = "manifest"
)

// Config configures a Harness.
type Config struct {
	Tool       string   `json:"tool"`
	ToolPrefix []string `json:"tool_prefix"`
	Setup      []string `json:"setup"`
	Git        string   `json:"git"`
	// FixturesRoot holds crates/<model> templates.
	FixturesRoot string `json:"fixtures_root"`
	// ReportsRoot holds <model>/<name>.<ext> goldens; empty means
	// <FixturesRoot>/coverage-reports.
	ReportsRoot string `json:"reports_root,omitempty"`
	Lister      string `json:"lister"`
	// CI forces enforcement on or off; nil consults the CI variable.
	CI *bool `json:"ci,omitempty"`
	// WorkDir is the parent of staged workspaces; empty means the system temp dir.
	WorkDir string `json:"work_dir,omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Tool:         "cargo-llvm-cov",
		ToolPrefix:   []string{"llvm-cov"},
		Setup:        append([]string(nil), invoke.DefaultSetup...),
		Git:          "git",
		FixturesRoot: fixture.Root(),
		Lister:       ListerGit,
	}
}

// Reports returns the effective golden reports root.
func (c Config) Reports() string {
	if c.ReportsRoot != "" {
		return c.ReportsRoot
	}
	return filepath.Join(c.FixturesRoot, "coverage-reports")
}

// LoadConfig layers, lowest first: defaults, the project config file in
// workDir, the explicit config file, environment variables, then overlay
// (typically command-line flags). It returns the merged config and the
// files that contributed to it.
func LoadConfig(workDir, configPath string, lookup func(string) (string, bool), overlay Config) (Config, []string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	var sources []string

	projectPath := filepath.Join(workDir, ConfigFileName)
	projectCfg, loaded, err := loadConfigFile(projectPath, false)
	if err != nil {
		return Config{}, nil, err
	}
	if loaded {
		cfg = mergeConfig(cfg, projectCfg)
		sources = append(sources, projectPath)
	}

	if configPath != "" {
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(workDir, configPath)
		}
		explicitCfg, _, err := loadConfigFile(configPath, true)
		if err != nil {
			return Config{}, nil, err
		}
		cfg = mergeConfig(cfg, explicitCfg)
		sources = append(sources, configPath)
	}

	cfg = mergeConfig(cfg, envConfig(lookup))
	cfg = mergeConfig(cfg, overlay)

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, sources, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path is operator input
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		return Config{}, false, coverr.Wrap(coverr.Config, path, "read config", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, false, coverr.Wrap(coverr.Config, path, "invalid config", err)
	}
	return cfg, true, nil
}

// ParseConfig decodes a JSON-with-comments config document. Unknown fields
// and trailing documents are rejected.
func ParseConfig(data []byte) (Config, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return Config{}, fmt.Errorf("unexpected trailing json content")
	}
	return cfg, nil
}

func envConfig(lookup func(string) (string, bool)) Config {
	var cfg Config
	if v, ok := lookup(EnvTool); ok && v != "" {
		cfg.Tool = v
	}
	if v, ok := lookup(EnvFixtures); ok && v != "" {
		cfg.FixturesRoot = v
	}
	if v, ok := lookup(EnvGit); ok && v != "" {
		cfg.Git = v
	}
	return cfg
}

// mergeConfig overlays set fields. Slices override when non-nil, so an
// explicit empty list clears the base value.
func mergeConfig(base, overlay Config) Config {
	if overlay.Tool != "" {
		base.Tool = overlay.Tool
	}
	if overlay.ToolPrefix != nil {
		base.ToolPrefix = overlay.ToolPrefix
	}
	if overlay.Setup != nil {
		base.Setup = overlay.Setup
	}
	if overlay.Git != "" {
		base.Git = overlay.Git
	}
	if overlay.FixturesRoot != "" {
		base.FixturesRoot = overlay.FixturesRoot
	}
	if overlay.ReportsRoot != "" {
		base.ReportsRoot = overlay.ReportsRoot
	}
	if overlay.Lister != "" {
		base.Lister = overlay.Lister
	}
	if overlay.CI != nil {
		base.CI = overlay.CI
	}
	if overlay.WorkDir != "" {
		base.WorkDir = overlay.WorkDir
	}
	return base
}

// ValidateConfig checks a merged config.
func ValidateConfig(cfg Config) error {
	if cfg.Tool == "" {
		return coverr.New(coverr.Config, "", "tool is required")
	}
	if cfg.FixturesRoot == "" {
		return coverr.New(coverr.Config, "", "fixtures_root is required")
	}
	switch cfg.Lister {
	case ListerGit, ListerManifest:
	default:
		return coverr.New(coverr.Config, "", fmt.Sprintf("lister must be %q or %q, got %q", ListerGit, ListerManifest, cfg.Lister))
	}
	return nil
}

// FormatConfig returns the config as indented JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", coverr.Wrap(coverr.InternalIO, "", "format config", err)
	}
	return string(data), nil
}

// ParseBool parses an optional boolean flag value into a *bool.
func ParseBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, coverr.Wrap(coverr.CLIUsage, "", fmt.Sprintf("invalid boolean %q", s), err)
	}
	return &b, nil
}
