// Package ignore filters repository paths before they are submitted for
// indexing: build outputs, dependency trees, generated bundles, and editor
// litter never reach the service.
package ignore

import (
	"path/filepath"
	"strings"
)

// Matcher reports whether a repository-relative path should be excluded
// from an indexing submission.
type Matcher struct {
	dirNames map[string]bool // directory names excluded anywhere in the path
	globs    []string        // filepath.Match patterns applied to the base name
	prefixes []string        // path prefixes relative to the repository root
}

// NewMatcher compiles patterns into a Matcher. Three pattern forms are
// supported: "name/**" excludes a directory name wherever it appears,
// "*.ext" globs against the file's base name, and anything else is treated
// as a root-relative prefix.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{dirNames: make(map[string]bool)}
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		switch {
		case p == "":
		case strings.HasSuffix(p, "/**") && !strings.Contains(strings.TrimSuffix(p, "/**"), "/"):
			m.dirNames[strings.TrimSuffix(p, "/**")] = true
		case strings.ContainsAny(p, "*?["):
			m.globs = append(m.globs, strings.TrimPrefix(p, "**/"))
		default:
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "/"))
		}
	}
	return m
}

// ShouldIgnore reports whether path (repository-relative, any separator)
// matches a compiled pattern.
func (m *Matcher) ShouldIgnore(path string) bool {
	path = filepath.ToSlash(path)

	for _, seg := range strings.Split(path, "/") {
		if m.dirNames[seg] {
			return true
		}
	}

	base := filepath.Base(path)
	for _, g := range m.globs {
		if ok, err := filepath.Match(g, base); err == nil && ok {
			return true
		}
	}

	for _, prefix := range m.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// DefaultPatterns is the exclusion set the CLI applies when scanning a
// checkout for submission.
func DefaultPatterns() []string {
	return []string{
		// Build outputs
		"target/**",
		"build/**",
		"dist/**",
		"out/**",
		"bin/**",

		// Dependency trees
		"node_modules/**",
		"vendor/**",
		".venv/**",
		"__pycache__/**",

		// Generated artifacts
		"*.min.js",
		"*.bundle.js",
		"*.map",
		"*.lock",

		// Version control and editor state
		".git/**",
		".idea/**",
		".vscode/**",
		"*.iml",
	}
}
