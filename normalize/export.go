package normalize

import (
	"regexp"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/ianlancetaylor/demangle"
)

// ExportType is the "type" of an llvm-cov JSON export document.
const ExportType = "llvm.coverage.json.export"

// Export is the logical model of the tool's machine-readable report. Only the
// members the harness rewrites are typed; everything else round-trips through
// the Unknown members untouched.
type Export struct {
	Data    []ExportData   `json:"data"`
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Unknown jsontext.Value `json:",unknown"`
}

// ExportData is one coverage mapping export unit.
type ExportData struct {
	Files     []jsontext.Value `json:"files,omitzero"`
	Functions []Function       `json:"functions,omitzero"`
	Totals    jsontext.Value   `json:"totals,omitzero"`
	Unknown   jsontext.Value   `json:",unknown"`
}

// Function is a per-symbol coverage record.
type Function struct {
	Name      string         `json:"name"`
	Count     uint64         `json:"count"`
	Regions   jsontext.Value `json:"regions,omitzero"`
	Branches  jsontext.Value `json:"branches,omitzero"`
	Filenames []string       `json:"filenames,omitzero"`
	Unknown   jsontext.Value `json:",unknown"`
}

// ParseExport decodes an export document. Duplicate members and invalid
// UTF-8 are rejected.
func ParseExport(data []byte) (*Export, error) {
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Marshal renders e with two-space indentation and deterministic ordering.
func (e *Export) Marshal() ([]byte, error) {
	out, err := json.Marshal(e, jsontext.WithIndent("  "), json.Deterministic(true))
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Demangle rewrites every function name to its demangled form.
func (e *Export) Demangle() {
	for i := range e.Data {
		fns := e.Data[i].Functions
		for j := range fns {
			fns[j].Name = Demangle(fns[j].Name)
		}
	}
}

var rustHash = regexp.MustCompile(`::h[0-9a-f]{16}$`)

// Demangle returns the human-readable form of a mangled symbol. Rust legacy
// hash suffixes are dropped. Names that do not demangle are returned as is;
// a "<file>:" prefix on local symbols is kept.
func Demangle(name string) string {
	if s, ok := demangleSymbol(name); ok {
		return s
	}
	if i := strings.LastIndexByte(name, ':'); i >= 0 && i+1 < len(name) {
		if s, ok := demangleSymbol(name[i+1:]); ok {
			return name[:i+1] + s
		}
	}
	return name
}

func demangleSymbol(sym string) (string, bool) {
	if !strings.HasPrefix(sym, "_Z") && !strings.HasPrefix(sym, "_R") && !strings.HasPrefix(sym, "__Z") {
		return "", false
	}
	if strings.HasPrefix(sym, "__Z") {
		sym = sym[1:]
	}
	s, err := demangle.ToString(sym)
	if err != nil {
		return "", false
	}
	return rustHash.ReplaceAllString(s, ""), true
}
