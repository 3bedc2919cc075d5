// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the uniform interfaces over package
// ecosystems. A backend provides a Files view (what does each package
// install, what are the original bytes), a Packages view (what is
// installed, install/remove transactions), or both.
//
// Implementations live in lib/archlinux and lib/debian; the disk
// cache in lib/filecache wraps any Files implementation.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// ID identifies a package ecosystem.
type ID uint8

const (
	Pacman ID = iota
	Apt
)

// String returns the backend name as used in configuration and save
// files.
func (id ID) String() string {
	switch id {
	case Pacman:
		return "pacman"
	case Apt:
		return "apt"
	default:
		return fmt.Sprintf("backend(%d)", uint8(id))
	}
}

// ParseID resolves a backend name.
func ParseID(name string) (ID, error) {
	switch name {
	case "pacman":
		return Pacman, nil
	case "apt", "dpkg":
		return Apt, nil
	default:
		return 0, fmt.Errorf("unknown package backend %q", name)
	}
}

// ErrUnsupportedOperation is returned by backends that cannot perform
// a requested package operation (for example dependency marking on a
// manager without that concept). Callers fall back to a direct
// uninstall.
var ErrUnsupportedOperation = errors.New("operation not supported by this backend")

// OriginalFileQuery asks for the as-shipped bytes of one path from
// one package.
type OriginalFileQuery struct {
	Package string
	Path    string
}

// PackageFileSet is the result of a batched archive read: every file
// entry one package installs, with full metadata.
type PackageFileSet struct {
	Package intern.PackageRef
	Entries []schema.FileEntry
}

// Files is the file-level view of a backend.
type Files interface {
	Name() string
	ID() ID

	// Files lists every file entry the package database claims, with
	// whatever metadata the database itself carries. Cheap relative
	// to archive reads.
	Files(ctx context.Context, interner *intern.Interner) ([]schema.FileEntry, error)

	// OriginalFile returns the as-shipped bytes for a query,
	// extracting from the package archive (downloading it first when
	// absent from the local package cache).
	OriginalFile(ctx context.Context, query OriginalFileQuery, packages schema.PackageMap, interner *intern.Interner) ([]byte, error)

	// PackageFiles reads full per-file metadata for the given
	// packages from their archives. This is the slow batched path;
	// lib/filecache memoises it.
	PackageFiles(ctx context.Context, refs []intern.PackageRef, packages schema.PackageMap, interner *intern.Interner) ([]PackageFileSet, error)

	// OwningPackages resolves which package owns each path, honouring
	// diversions and replacements.
	OwningPackages(ctx context.Context, paths []string, interner *intern.Interner) (map[string]intern.PackageRef, error)

	// PreferArchiveFiles reports whether Files output lacks metadata
	// that only PackageFiles can supply (true for dpkg, false for
	// pacman whose manifests are complete).
	PreferArchiveFiles() bool

	// CacheVersion changes when the backend's file-entry encoding
	// changes, invalidating summary cache records.
	CacheVersion() uint16
}

// Packages is the package-level view of a backend.
type Packages interface {
	Name() string
	ID() ID

	// Packages lists the package database.
	Packages(ctx context.Context, interner *intern.Interner) ([]*schema.Package, error)

	// Transact installs and removes packages in one transaction.
	Transact(ctx context.Context, install []string, remove []string) error

	// Mark flips install reasons. Returns ErrUnsupportedOperation
	// when the manager cannot mark.
	Mark(ctx context.Context, asDependency []string, asExplicit []string) error

	// RemoveUnused removes packages no longer reachable from any
	// explicitly installed package.
	RemoveUnused(ctx context.Context) error
}

// FilesystemOwner is the backend that owns the host filesystem: the
// one restore-to-package operations resolve against. Exactly one
// Files backend per host is the filesystem owner.
type FilesystemOwner interface {
	Files
	Packages
}
