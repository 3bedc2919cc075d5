// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"bufio"
	"fmt"
	"io"

	"github.com/stateward/stateward/lib/intern"
)

// Diversion records one dpkg-divert entry: the original path is
// diverted to NewPath for every package except ByPackage.
type Diversion struct {
	NewPath   string
	ByPackage intern.PackageRef
}

// Diversions maps the original (diverted-from) path to its diversion.
type Diversions map[string]Diversion

// ParseDiversions parses /var/lib/dpkg/diversions. The file is
// triples of lines: original path, diverted-to path, diverting
// package (or ":" for local diversions held by the administrator).
func ParseDiversions(interner *intern.Interner, r io.Reader) (Diversions, error) {
	result := make(Diversions)
	scanner := bufio.NewScanner(r)
	var triple [3]string
	index := 0
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if line == "" {
			continue
		}
		triple[index] = line
		index++
		if index < 3 {
			continue
		}
		index = 0
		original, diverted, holder := triple[0], triple[1], triple[2]
		if _, duplicate := result[original]; duplicate {
			return nil, fmt.Errorf("duplicate diversion for %s at line %d", original, lineNumber)
		}
		diversion := Diversion{NewPath: diverted}
		if holder != ":" {
			diversion.ByPackage = intern.InternPackage(interner, holder)
		}
		result[original] = diversion
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading diversions: %w", err)
	}
	if index != 0 {
		return nil, fmt.Errorf("diversions file truncated mid-record at line %d", lineNumber)
	}
	return result, nil
}

// Apply rewrites a package's effective file list through the
// diversion table: for any package other than the diverter, the
// original path is actually installed at the diverted location.
// Must run before entries are deduplicated across packages.
func (d Diversions) Apply(path string, pkg intern.PackageRef) string {
	diversion, ok := d[path]
	if !ok {
		return path
	}
	if diversion.ByPackage != 0 && diversion.ByPackage == pkg {
		return path
	}
	return diversion.NewPath
}
