package ignore

import (
	"path"
	"strings"
)

// Matcher evaluates workspace-relative paths against a set of glob patterns
// produced by Parser.ParseProject.
type Matcher struct {
	patterns []string
}

// NewMatcher builds a Matcher over the given patterns.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// Match reports whether path (workspace-relative, forward-slash separated)
// matches any configured pattern.
func (m *Matcher) Match(path string) bool {
	for _, p := range m.patterns {
		if matchGlob(p, path) {
			return true
		}
	}
	return false
}

// matchGlob implements the subset of doublestar semantics ignore.go's
// patterns actually use: "**" matches zero or more path segments, "*"
// matches within a single segment.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, name []string) bool {
	if len(pat) == 0 {
		return len(name) == 0
	}
	if pat[0] == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(name); i++ {
			if matchSegments(pat[1:], name[i:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	if !matchSegment(pat[0], name[0]) {
		return false
	}
	return matchSegments(pat[1:], name[1:])
}

func matchSegment(pat, name string) bool {
	ok, err := path.Match(pat, name)
	return err == nil && ok
}
