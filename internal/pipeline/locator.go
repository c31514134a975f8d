package pipeline

import (
	"os/exec"
	"path/filepath"
)

// Source records where a binding came from.
type Source string

const (
	SourceOverride Source = "override"
	SourcePath     Source = "path"
	SourceLibrary  Source = "library"
)

// ToolBinding is a resolved executable for a logical tool name. Library bindings have
// no path; the caller runs its in-process fallback instead.
type ToolBinding struct {
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	Source Source `json:"source"`
}

// IsLibrary reports whether the binding selects the in-process fallback.
func (b ToolBinding) IsLibrary() bool {
	return b.Source == SourceLibrary
}

// Chain is an ordered list of candidate tools for one logical operation.
type Chain struct {
	Tools []string
	// Library marks that an in-process implementation exists after the last tool.
	Library bool
}

// Locator resolves tool names to executables. Overrides are checked first, then
// the system PATH.
type Locator struct {
	overrides map[string]string
	envNames  map[string]string
	lookPath  func(string) (string, error)
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) LocatorOption {
	return func(l *Locator) { l.lookPath = fn }
}

// NewLocator creates a locator. overrides maps tool name to a pinned path, envNames
// maps tool name to the environment variable an operator sets to pin it.
func NewLocator(overrides, envNames map[string]string, opts ...LocatorOption) *Locator {
	l := &Locator{
		overrides: overrides,
		envNames:  envNames,
		lookPath:  exec.LookPath,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves a single tool.
func (l *Locator) Locate(name string) (ToolBinding, error) {
	return l.Resolve(Chain{Tools: []string{name}})
}

// Resolve walks the chain in order and returns the first tool found. When no tool is
// found and the chain has a library fallback, a library binding is returned instead
// of an error.
func (l *Locator) Resolve(chain Chain) (ToolBinding, error) {
	for _, name := range chain.Tools {
		if b, ok := l.find(name); ok {
			return b, nil
		}
	}
	if chain.Library {
		return ToolBinding{Name: "library", Source: SourceLibrary}, nil
	}

	env := ""
	if len(chain.Tools) > 0 {
		env = l.envNames[chain.Tools[0]]
	}
	return ToolBinding{}, ToolNotFound(chain.Tools, env)
}

// An override that is not executable makes that candidate unavailable rather than
// falling back to PATH; the operator asked for that exact binary.
func (l *Locator) find(name string) (ToolBinding, bool) {
	if p := l.overrides[name]; p != "" {
		resolved, err := l.lookPath(p)
		if err != nil {
			return ToolBinding{}, false
		}
		return ToolBinding{Name: name, Path: absPath(resolved), Source: SourceOverride}, true
	}
	resolved, err := l.lookPath(name)
	if err != nil {
		return ToolBinding{}, false
	}
	return ToolBinding{Name: name, Path: absPath(resolved), Source: SourcePath}, true
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Resolution is one line of a dependency report.
type Resolution struct {
	Tool    string      `json:"tool"`
	Env     string      `json:"env,omitempty"`
	Found   bool        `json:"found"`
	Binding ToolBinding `json:"binding"`
}

// Report resolves every named tool without failing.
func (l *Locator) Report(names ...string) []Resolution {
	out := make([]Resolution, 0, len(names))
	for _, name := range names {
		b, ok := l.find(name)
		out = append(out, Resolution{Tool: name, Env: l.envNames[name], Found: ok, Binding: b})
	}
	return out
}
