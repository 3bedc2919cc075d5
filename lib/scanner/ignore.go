// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanner walks the live filesystem in parallel and produces
// observed file entries for the integrity comparator. Symlinks are
// never followed; ignore globs prune whole subtrees before descent.
package scanner

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnores are the paths no personal configuration wants
// scanned: volatile filesystems, user homes, and mount points.
func DefaultIgnores() []string {
	return []string{
		"/dev/**",
		"/proc/**",
		"/sys/**",
		"/run/**",
		"/tmp/**",
		"/var/tmp/**",
		"/home/**",
		"/root/**",
		"/media/**",
		"/mnt/**",
		"**/lost+found",
	}
}

// IgnoreSet decides whether a path is excluded from scanning and
// from unexpected-file reporting. A path matches prefix-wise: a glob
// ending in a "**" segment or a trailing "*" collapses to a subtree
// ignore, so the walk can prune the directory without statting its
// contents.
type IgnoreSet struct {
	globs []string
	// subtrees are the prefixes extracted from collapsible globs:
	// "/x/**" and "/x/*" both ignore everything under /x.
	subtrees []string
}

// NewIgnoreSet validates and compiles the given patterns.
func NewIgnoreSet(globs ...string) (*IgnoreSet, error) {
	set := &IgnoreSet{}
	for _, glob := range globs {
		if err := set.Add(glob); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Add appends one pattern.
func (s *IgnoreSet) Add(glob string) error {
	if !doublestar.ValidatePattern(glob) {
		return fmt.Errorf("invalid ignore pattern %q", glob)
	}
	s.globs = append(s.globs, glob)
	if prefix, ok := subtreePrefix(glob); ok {
		s.subtrees = append(s.subtrees, prefix)
	}
	return nil
}

// subtreePrefix extracts the literal directory prefix of a glob that
// ignores an entire subtree.
func subtreePrefix(glob string) (string, bool) {
	switch {
	case strings.HasSuffix(glob, "/**"):
		prefix := strings.TrimSuffix(glob, "/**")
		if !strings.ContainsAny(prefix, "*?[{") {
			return prefix, true
		}
	case strings.HasSuffix(glob, "/*"):
		prefix := strings.TrimSuffix(glob, "/*")
		if !strings.ContainsAny(prefix, "*?[{") {
			return prefix, true
		}
	}
	return "", false
}

// Match reports whether path is ignored: it lies at or under a
// collapsed subtree, or the path itself matches a pattern. Ancestors
// are not tested against non-collapsible patterns; the scan skips
// their contents by never descending into a matched directory.
func (s *IgnoreSet) Match(path string) bool {
	if s == nil {
		return false
	}
	for _, subtree := range s.subtrees {
		if path == subtree || strings.HasPrefix(path, subtree+"/") {
			return true
		}
	}
	for _, glob := range s.globs {
		if matched, _ := doublestar.Match(glob, path); matched {
			return true
		}
	}
	return false
}

// PruneDir reports whether a directory can be skipped entirely: the
// directory itself is inside an ignored subtree. Non-collapsible
// globs still require descending so individual entries can match.
func (s *IgnoreSet) PruneDir(path string) bool {
	if s == nil {
		return false
	}
	for _, subtree := range s.subtrees {
		if path == subtree || strings.HasPrefix(path, subtree+"/") {
			return true
		}
	}
	return false
}
