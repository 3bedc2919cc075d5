// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/stateward/stateward/lib/intern"

// EntrySource records which subsystem produced a FileEntry.
type EntrySource uint8

const (
	// SourcePackageManager marks entries derived from a package
	// database or archive.
	SourcePackageManager EntrySource = iota
	// SourceExplicit marks entries declared directly by the operator's
	// configuration.
	SourceExplicit
	// SourceScanner marks entries observed on the live filesystem.
	SourceScanner
)

// EntryFlag carries per-entry markers from the package database.
type EntryFlag uint8

const (
	// FlagConfig marks a configuration file (dpkg conffile, pacman
	// %BACKUP% entry). Config files are expected to drift.
	FlagConfig EntryFlag = 1 << iota
	// FlagOKIfMissing suppresses the missing-file issue. Set for
	// pacman backup entries, which packages may never install.
	FlagOKIfMissing
	// FlagObsolete marks a dpkg conffile the package no longer ships.
	FlagObsolete
)

// FileEntry is one filesystem path with its metadata, either expected
// (from a package manager or the configuration) or observed (from the
// scanner). Immutable once constructed.
type FileEntry struct {
	// Path is absolute, with no trailing slash except for "/" itself.
	Path string

	// Package is the owning package, zero when unowned.
	Package intern.PackageRef

	Properties Properties
	Source     EntrySource
	Flags      EntryFlag
}

// Owned reports whether a package claims this entry.
func (e *FileEntry) Owned() bool {
	return e.Package != 0
}

// IsConfig reports whether the entry is a configuration file.
func (e *FileEntry) IsConfig() bool {
	return e.Flags&FlagConfig != 0
}
