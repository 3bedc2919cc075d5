// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// ParseMD5Sums parses an info/<pkg>.md5sums sidecar. Each line is a
// 32-character hex MD5, exactly two spaces, then the path without its
// leading slash.
func ParseMD5Sums(pkg intern.PackageRef, r io.Reader) ([]schema.FileEntry, error) {
	var entries []schema.FileEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(line) < 35 {
			return nil, fmt.Errorf("md5sums line %d too short: %q", lineNumber, line)
		}
		checksum, err := schema.ParseChecksumHex(schema.ChecksumMD5, line[:32])
		if err != nil {
			return nil, fmt.Errorf("md5sums line %d: %w", lineNumber, err)
		}
		entries = append(entries, schema.FileEntry{
			Path:    "/" + line[34:],
			Package: pkg,
			Properties: schema.Properties{
				Kind:     schema.KindRegularFile,
				Checksum: checksum,
			},
			Source: schema.SourcePackageManager,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading md5sums: %w", err)
	}
	return entries, nil
}

// ParseFileList parses an info/<pkg>.list sidecar: one absolute path
// per line, with "/." denoting the root directory. The list names
// every path the package installs, including non-regular files, but
// carries no type information.
func ParseFileList(pkg intern.PackageRef, r io.Reader) ([]schema.FileEntry, error) {
	var entries []schema.FileEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "/." {
			line = "/"
		}
		entries = append(entries, schema.FileEntry{
			Path:       line,
			Package:    pkg,
			Properties: schema.Properties{Kind: schema.KindUnknown},
			Source:     schema.SourcePackageManager,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file list: %w", err)
	}
	return entries, nil
}

// ParseExtendedStates parses apt's extended_states file and returns
// the install reason per (package, architecture). Entries are keyed
// both by the recorded architecture and by "all": the file sometimes
// records the primary architecture for arch-independent packages.
func ParseExtendedStates(interner *intern.Interner, r io.Reader) (map[PkgArch]schema.InstallReason, error) {
	allArch := intern.InternArch(interner, "all")
	result := make(map[PkgArch]schema.InstallReason)

	var pkg intern.PackageRef
	var arch intern.ArchRef
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Package:"):
			pkg = intern.InternPackage(interner, strings.TrimSpace(line[len("Package:"):]))
			arch = 0
		case strings.HasPrefix(line, "Architecture:"):
			arch = intern.InternArch(interner, strings.TrimSpace(line[len("Architecture:"):]))
		case strings.HasPrefix(line, "Auto-Installed:"):
			if pkg == 0 || arch == 0 {
				continue
			}
			reason := schema.ReasonExplicit
			if strings.TrimSpace(line[len("Auto-Installed:"):]) == "1" {
				reason = schema.ReasonDependency
			}
			result[PkgArch{pkg, arch}] = reason
			result[PkgArch{pkg, allArch}] = reason
			pkg, arch = 0, 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading extended_states: %w", err)
	}
	return result, nil
}

// PkgArch keys the extended-states map.
type PkgArch struct {
	Pkg  intern.PackageRef
	Arch intern.ArchRef
}
