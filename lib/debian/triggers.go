// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// TriggerInterests maps a file or directory path to the package
// whose trigger watches it. Files under trigger interest are
// regenerated by post-install processing (man-db caches, info dir),
// so their content legitimately differs from the shipped bytes.
type TriggerInterests map[string]string

// ParseTriggers parses the dpkg triggers/File table: one
// "path package" pair per line.
func ParseTriggers(r io.Reader) (TriggerInterests, error) {
	result := make(TriggerInterests)
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		path, pkg, found := strings.Cut(line, " ")
		if !found {
			return nil, fmt.Errorf("triggers line %d: no package field in %q", lineNumber, line)
		}
		result[path] = strings.TrimSpace(pkg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading triggers: %w", err)
	}
	return result, nil
}

// Covers reports whether path is a trigger interest or lies under an
// interest directory.
func (t TriggerInterests) Covers(path string) bool {
	if _, direct := t[path]; direct {
		return true
	}
	for interest := range t {
		if strings.HasPrefix(path, interest+"/") {
			return true
		}
	}
	return false
}
