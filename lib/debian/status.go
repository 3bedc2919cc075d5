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

// StatusResult is the outcome of parsing /var/lib/dpkg/status.
type StatusResult struct {
	Packages []*schema.Package

	// ConfFiles are the conffile entries from every stanza, with MD5
	// checksums. These take precedence over md5sums sidecar entries
	// for the same path: the status file tracks the current expected
	// content of a conffile, the sidecar the as-shipped one.
	ConfFiles []schema.FileEntry
}

// ParseStatus parses a dpkg status file. Stanzas are separated by
// blank lines; field names compare ASCII case-insensitively;
// continuation lines begin with a space.
//
// primaryArch is the dpkg primary architecture (dpkg
// --print-architecture); it determines which packages answer to a
// bare name in addition to name:arch.
func ParseStatus(interner *intern.Interner, r io.Reader, primaryArch intern.ArchRef) (*StatusResult, error) {
	allArch := intern.InternArch(interner, "all")
	result := &StatusResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var stanza stanzaState
	lineNumber := 0
	flush := func() error {
		if stanza.name == "" {
			return nil
		}
		pkg, confFiles, err := stanza.build(interner, primaryArch, allArch)
		if err != nil {
			return err
		}
		result.Packages = append(result.Packages, pkg)
		result.ConfFiles = append(result.ConfFiles, confFiles...)
		stanza = stanzaState{}
		return nil
	}

	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("status stanza ending at line %d: %w", lineNumber, err)
			}
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			stanza.continuation(line)
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("status line %d: no colon in %q", lineNumber, line)
		}
		stanza.field(strings.ToLower(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("final status stanza: %w", err)
	}
	return result, nil
}

// stanzaState accumulates one package stanza.
type stanzaState struct {
	name       string
	version    string
	arch       string
	status     string
	preDepends string
	depends    string
	recommends string
	provides   string
	replaces   string

	// currentField tracks which multi-line field continuation lines
	// belong to. Only Conffiles is consumed line-wise.
	currentField string
	confLines    []string
}

func (s *stanzaState) field(key, value string) {
	s.currentField = key
	switch key {
	case "package":
		s.name = value
	case "version":
		s.version = value
	case "architecture":
		s.arch = value
	case "status":
		s.status = value
	case "pre-depends":
		s.preDepends = value
	case "depends":
		s.depends = value
	case "recommends":
		s.recommends = value
	case "provides":
		s.provides = value
	case "replaces":
		s.replaces = value
	}
}

func (s *stanzaState) continuation(line string) {
	if s.currentField == "conffiles" {
		s.confLines = append(s.confLines, strings.TrimSpace(line))
	}
	// Continuations of Description and friends are not needed.
}

func (s *stanzaState) build(interner *intern.Interner, primaryArch, allArch intern.ArchRef) (*schema.Package, []schema.FileEntry, error) {
	if s.version == "" {
		return nil, nil, fmt.Errorf("package %s has no Version", s.name)
	}
	name := intern.InternPackage(interner, s.name)

	pkg := &schema.Package{
		Name:    name,
		Version: s.version,
		Status:  parseInstallStatus(s.status),
		// The real reason arrives from extended_states; stanzas do
		// not carry one. Explicit is the conservative default.
		Reason: schema.ReasonExplicit,
	}
	if s.arch != "" {
		pkg.Arch = intern.InternArch(interner, s.arch)
	}

	for _, field := range []string{s.preDepends, s.depends} {
		if field != "" {
			pkg.Depends = append(pkg.Depends, parseDependsList(interner, field)...)
		}
	}
	if s.recommends != "" {
		pkg.Recommends = parseDependsList(interner, s.recommends)
	}
	if s.provides != "" {
		pkg.Provides = parseNameList(interner, s.provides)
	}
	if s.replaces != "" {
		pkg.Replaces = parseNameList(interner, s.replaces)
	}

	// Packages of the primary architecture (and arch "all") answer to
	// the bare name; every package answers to name:arch.
	if s.arch != "" {
		qualified := intern.InternPackage(interner, s.name+":"+s.arch)
		if pkg.Arch == primaryArch || pkg.Arch == allArch {
			pkg.IDs = []intern.PackageRef{name, qualified}
		} else {
			pkg.IDs = []intern.PackageRef{qualified}
		}
	} else {
		pkg.IDs = []intern.PackageRef{name}
	}

	confFiles, err := s.buildConfFiles(name)
	if err != nil {
		return nil, nil, err
	}
	return pkg, confFiles, nil
}

func (s *stanzaState) buildConfFiles(pkg intern.PackageRef) ([]schema.FileEntry, error) {
	var entries []schema.FileEntry
	for _, line := range s.confLines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("package conffile line %q too short", line)
		}
		marker := fields[len(fields)-1]
		switch marker {
		case "remove-on-upgrade", "newconffile":
			continue
		}
		flags := schema.FlagConfig
		digestField := fields[1]
		if marker == "obsolete" {
			if len(fields) < 3 {
				return nil, fmt.Errorf("obsolete conffile line %q too short", line)
			}
			flags |= schema.FlagObsolete
		}
		checksum, err := schema.ParseChecksumHex(schema.ChecksumMD5, digestField)
		if err != nil {
			return nil, fmt.Errorf("conffile %s: %w", fields[0], err)
		}
		entries = append(entries, schema.FileEntry{
			Path:    fields[0],
			Package: pkg,
			Properties: schema.Properties{
				Kind:     schema.KindRegularFile,
				Checksum: checksum,
			},
			Source: schema.SourcePackageManager,
			Flags:  flags,
		})
	}
	return entries, nil
}

func parseInstallStatus(status string) schema.InstallStatus {
	switch {
	case status == "install ok installed":
		return schema.StatusInstalled
	case strings.HasSuffix(status, "config-files"):
		return schema.StatusConfigFiles
	default:
		return schema.StatusNotInstalled
	}
}

// parseDependsList parses a Depends-style list: comma-separated
// entries, each possibly a "|"-joined disjunction. Version
// constraints and ":arch" qualifiers are stripped.
func parseDependsList(interner *intern.Interner, input string) []schema.Dependency {
	var result []schema.Dependency
	for _, segment := range strings.Split(input, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		alternatives := strings.Split(segment, "|")
		dep := schema.Dependency{Alternatives: make([]intern.PackageRef, 0, len(alternatives))}
		for _, alternative := range alternatives {
			dep.Alternatives = append(dep.Alternatives,
				dependencyName(interner, strings.TrimSpace(alternative)))
		}
		result = append(result, dep)
	}
	return result
}

func parseNameList(interner *intern.Interner, input string) []intern.PackageRef {
	var result []intern.PackageRef
	for _, segment := range strings.Split(input, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		result = append(result, dependencyName(interner, segment))
	}
	return result
}

// dependencyName strips " (>= 1.2)" version constraints and ":any" /
// ":arch" qualifiers, leaving the bare package name.
func dependencyName(interner *intern.Interner, segment string) intern.PackageRef {
	if name, _, found := strings.Cut(segment, " "); found {
		segment = name
	}
	if name, _, found := strings.Cut(segment, "("); found {
		segment = strings.TrimSpace(name)
	}
	if name, _, found := strings.Cut(segment, ":"); found {
		segment = name
	}
	return intern.InternPackage(interner, segment)
}
