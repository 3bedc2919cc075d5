// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/stateward/stateward/lib/intern"

// InstallReason records whether a package was requested by the
// operator or pulled in as a dependency.
type InstallReason uint8

const (
	ReasonExplicit InstallReason = iota
	ReasonDependency
)

// String returns the reason as used in save-file comments.
func (r InstallReason) String() string {
	if r == ReasonDependency {
		return "dependency"
	}
	return "explicit"
}

// InstallStatus is the package's state in the database.
type InstallStatus uint8

const (
	StatusInstalled InstallStatus = iota
	// StatusConfigFiles means removed but with conffiles retained
	// (dpkg "deinstall ok config-files").
	StatusConfigFiles
	StatusNotInstalled
)

// String returns the status name.
func (s InstallStatus) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusConfigFiles:
		return "config-files"
	default:
		return "not-installed"
	}
}

// Package is one entry from a package database. All cross-package
// references go through interned handles; the dependency graph is
// adjacency by handle, never pointers.
type Package struct {
	Name    intern.PackageRef
	Arch    intern.ArchRef
	Version string

	Status InstallStatus
	Reason InstallReason

	// Depends is the dependency closure input: Pre-Depends ∪ Depends
	// on Debian, %DEPENDS% on Arch. Recommends and Suggests are
	// intentionally absent; they do not keep a package installed.
	Depends []Dependency

	// Recommends is parsed for reporting but never considered when
	// computing which packages are unused.
	Recommends []Dependency

	Provides []intern.PackageRef
	Replaces []intern.PackageRef

	// IDs are the names this package answers to: the bare name, and
	// on Debian also "name:arch".
	IDs []intern.PackageRef
}

// Dependency is a single dependency or a disjunction of alternatives
// ("a | b" on Debian). Version constraints are stripped; they are not
// needed for the mark-unused computation.
type Dependency struct {
	Alternatives []intern.PackageRef
}

// Single builds a dependency with one alternative.
func Single(ref intern.PackageRef) Dependency {
	return Dependency{Alternatives: []intern.PackageRef{ref}}
}

// PackageMap indexes packages by every ID they answer to.
type PackageMap map[intern.PackageRef]*Package

// BuildPackageMap indexes a package list by all IDs. Later packages
// do not displace earlier ones on ID collision; the first claimant
// wins, matching dpkg's own resolution order.
func BuildPackageMap(packages []*Package) PackageMap {
	m := make(PackageMap, len(packages))
	for _, pkg := range packages {
		ids := pkg.IDs
		if len(ids) == 0 {
			ids = []intern.PackageRef{pkg.Name}
		}
		for _, id := range ids {
			if _, taken := m[id]; !taken {
				m[id] = pkg
			}
		}
	}
	return m
}
