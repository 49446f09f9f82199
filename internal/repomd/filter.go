package repomd

import (
	"regexp"
	"strings"
)

// Filter narrows the package list of a repository. Empty fields match
// everything.
type Filter struct {
	// Arches keeps only packages whose arch is listed
	Arches []string `yaml:"arches"`
	// Requires keeps only packages with at least one requires entry matching
	// one of these shell-style wildcards (* and ?)
	Requires []string `yaml:"requires"`
}

// LikeFromWildcard translates a shell-style wildcard into a SQL LIKE
// pattern using backslash as the escape character.
func LikeFromWildcard(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(c)
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// requiresMatcher evaluates Requires patterns the way SQLite's LIKE does:
// anchored and case-insensitive for ASCII.
type requiresMatcher struct {
	patterns []*regexp.Regexp
}

func newRequiresMatcher(wildcards []string) *requiresMatcher {
	m := &requiresMatcher{}
	for _, w := range wildcards {
		var b strings.Builder
		b.WriteString("(?is)^")
		for _, c := range w {
			switch c {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		}
		b.WriteString("$")
		m.patterns = append(m.patterns, regexp.MustCompile(b.String()))
	}
	return m
}

// any reports whether one of names matches one of the patterns. A matcher
// without patterns accepts everything.
func (m *requiresMatcher) any(names []string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	for _, n := range names {
		for _, p := range m.patterns {
			if p.MatchString(n) {
				return true
			}
		}
	}
	return false
}

func archSet(arches []string) map[string]struct{} {
	if len(arches) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(arches))
	for _, a := range arches {
		set[a] = struct{}{}
	}
	return set
}
