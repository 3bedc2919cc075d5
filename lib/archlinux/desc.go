// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package archlinux implements the pacman backend: the local package
// database under /var/lib/pacman/local (desc, files, mtree), the
// package cache under /var/cache/pacman/pkg, and the pacman CLI for
// transactions.
package archlinux

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// ParseDesc parses one local-database desc file: %SECTION% headers
// each followed by value lines and a blank line.
func ParseDesc(r io.Reader, interner *intern.Interner) (*schema.Package, error) {
	pkg := &schema.Package{Status: schema.StatusInstalled, Reason: schema.ReasonExplicit}
	var sawName, sawVersion bool

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		section := scanner.Text()
		if !strings.HasPrefix(section, "%") || !strings.HasSuffix(section, "%") {
			continue
		}
		switch section {
		case "%NAME%":
			value, err := readValue(scanner, section)
			if err != nil {
				return nil, err
			}
			pkg.Name = intern.InternPackage(interner, value)
			sawName = true
		case "%VERSION%":
			value, err := readValue(scanner, section)
			if err != nil {
				return nil, err
			}
			pkg.Version = value
			sawVersion = true
		case "%ARCH%":
			value, err := readValue(scanner, section)
			if err != nil {
				return nil, err
			}
			pkg.Arch = intern.InternArch(interner, value)
		case "%REASON%":
			value, err := readValue(scanner, section)
			if err != nil {
				return nil, err
			}
			// 1 means installed as a dependency; unset means explicit.
			if value == "1" {
				pkg.Reason = schema.ReasonDependency
			}
		case "%DEPENDS%":
			for _, name := range readList(scanner) {
				pkg.Depends = append(pkg.Depends, schema.Single(internConstraint(interner, name)))
			}
		case "%PROVIDES%":
			for _, name := range readList(scanner) {
				pkg.Provides = append(pkg.Provides, internConstraint(interner, name))
			}
		case "%REPLACES%":
			for _, name := range readList(scanner) {
				pkg.Replaces = append(pkg.Replaces, internConstraint(interner, name))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading desc: %w", err)
	}
	if !sawName {
		return nil, fmt.Errorf("desc has no %%NAME%%")
	}
	if !sawVersion {
		return nil, fmt.Errorf("desc has no %%VERSION%%")
	}
	pkg.IDs = []intern.PackageRef{pkg.Name}
	return pkg, nil
}

// readValue reads the single value line of a section.
func readValue(scanner *bufio.Scanner, section string) (string, error) {
	if !scanner.Scan() {
		return "", fmt.Errorf("section %s has no value", section)
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// readList reads value lines until a blank line.
func readList(scanner *bufio.Scanner) []string {
	var values []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		values = append(values, line)
	}
	return values
}

// internConstraint strips version constraints ("somelib=1.2",
// "headers>=4.10") before interning.
func internConstraint(interner *intern.Interner, value string) intern.PackageRef {
	if index := strings.IndexAny(value, "=<>"); index >= 0 {
		value = value[:index]
	}
	return intern.InternPackage(interner, value)
}

// ParseBackupFiles extracts the %BACKUP% section of a local-database
// files file: the per-package list of config files, relative paths
// with an md5 after a tab.
func ParseBackupFiles(r io.Reader) ([]string, error) {
	var backups []string
	scanner := bufio.NewScanner(r)
	inBackup := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "%BACKUP%":
			inBackup = true
		case strings.HasPrefix(line, "%"):
			inBackup = false
		case inBackup && line != "":
			name, _, _ := strings.Cut(line, "\t")
			backups = append(backups, "/"+strings.TrimSpace(name))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading files list: %w", err)
	}
	return backups, nil
}
