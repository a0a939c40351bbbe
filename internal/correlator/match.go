package correlator

import (
	"path/filepath"
	"runtime"
	"strings"
)

// ExecutableMatcher maps process executables back to service identifiers.
// Absolute paths match the process executable; bare names match the process
// name. darwin and windows filesystems are case-insensitive by default, so
// matching follows suit there.
type ExecutableMatcher struct {
	byPath          map[string][]string
	byName          map[string][]string
	caseInsensitive bool
}

// NewExecutableMatcher creates an empty matcher for the running platform.
func NewExecutableMatcher() *ExecutableMatcher {
	return newExecutableMatcher(runtime.GOOS == "darwin" || runtime.GOOS == "windows")
}

func newExecutableMatcher(caseInsensitive bool) *ExecutableMatcher {
	return &ExecutableMatcher{
		byPath:          make(map[string][]string),
		byName:          make(map[string][]string),
		caseInsensitive: caseInsensitive,
	}
}

// Add registers identifier as started by executable.
func (m *ExecutableMatcher) Add(executable, identifier string) {
	if executable == "" {
		return
	}
	if filepath.IsAbs(executable) {
		key := m.key(filepath.Clean(executable))
		m.byPath[key] = appendUnique(m.byPath[key], identifier)
		return
	}
	key := m.key(filepath.Base(executable))
	m.byName[key] = appendUnique(m.byName[key], identifier)
}

// Match returns the identifiers whose executable is p.
func (m *ExecutableMatcher) Match(p Process) []string {
	var out []string
	if p.Executable != "" {
		out = append(out, m.byPath[m.key(filepath.Clean(p.Executable))]...)
	}
	if p.Name != "" {
		for _, id := range m.byName[m.key(p.Name)] {
			out = appendUnique(out, id)
		}
	}
	return out
}

// HasWatchList reports whether any executable has been registered.
func (m *ExecutableMatcher) HasWatchList() bool {
	return len(m.byPath) > 0 || len(m.byName) > 0
}

func (m *ExecutableMatcher) key(s string) string {
	if m.caseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
