// Package exclude decides which local paths the workspace walk skips.
package exclude

import (
	"path"
	"strings"
)

// Matcher holds a set of exclusion patterns. A pattern ending in "/" names a
// directory at any depth; a pattern with glob characters matches the whole
// relative path or its base name; anything else matches a path, one of its
// ancestors, or a file base name.
type Matcher struct {
	patterns []string
}

// DefaultPatterns covers version-control metadata, dependency trees and
// editor or OS droppings.
func DefaultPatterns() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		"node_modules/",
		"__pycache__/",
		".DS_Store",
		"._*",
		"*.tmp",
	}
}

// New builds a matcher from patterns, prefixed by DefaultPatterns when
// includeDefaults is set.
func New(patterns []string, includeDefaults bool) *Matcher {
	var merged []string
	if includeDefaults {
		merged = append(merged, DefaultPatterns()...)
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}
}

// Patterns returns the effective pattern list.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// IsExcluded reports whether relPath ('/'-delimited, relative to the walk
// root) is skipped. A nil matcher excludes nothing.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	for _, p := range m.patterns {
		if strings.HasSuffix(p, "/") {
			if hasComponent(relPath, strings.TrimSuffix(p, "/"), isDir) {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, path.Base(relPath)); ok {
				return true
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if !isDir && path.Base(relPath) == p {
			return true
		}
	}
	return false
}

// hasComponent reports whether dir names one of relPath's directories. The
// last segment only counts when relPath is itself a directory.
func hasComponent(relPath, dir string, isDir bool) bool {
	segs := strings.Split(relPath, "/")
	if !isDir {
		segs = segs[:len(segs)-1]
	}
	for _, s := range segs {
		if ok, _ := path.Match(dir, s); ok {
			return true
		}
	}
	return false
}
