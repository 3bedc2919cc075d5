// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"slices"
)

// Registry holds the constructed backends for a run, keyed by ID.
// Backends are registered during startup, after the interner and the
// disk cache exist, and never change afterwards.
type Registry struct {
	files     map[ID]Files
	packages  map[ID]Packages
	fsOwnerID ID
	hasOwner  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		files:    make(map[ID]Files),
		packages: make(map[ID]Packages),
	}
}

// AddFiles registers a Files backend.
func (r *Registry) AddFiles(files Files) {
	r.files[files.ID()] = files
}

// AddPackages registers a Packages backend.
func (r *Registry) AddPackages(packages Packages) {
	r.packages[packages.ID()] = packages
}

// SetFilesystemOwner declares which backend owns the filesystem.
func (r *Registry) SetFilesystemOwner(id ID) error {
	if _, ok := r.files[id]; !ok {
		return fmt.Errorf("filesystem owner %s has no registered Files backend", id)
	}
	r.fsOwnerID = id
	r.hasOwner = true
	return nil
}

// Files returns the file view for a backend.
func (r *Registry) Files(id ID) (Files, error) {
	files, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("no Files backend registered for %s", id)
	}
	return files, nil
}

// Packages returns the package view for a backend.
func (r *Registry) Packages(id ID) (Packages, error) {
	packages, ok := r.packages[id]
	if !ok {
		return nil, fmt.Errorf("no Packages backend registered for %s", id)
	}
	return packages, nil
}

// FilesystemOwner returns the file view of the declared owner.
func (r *Registry) FilesystemOwner() (Files, error) {
	if !r.hasOwner {
		return nil, fmt.Errorf("no filesystem owner declared")
	}
	return r.files[r.fsOwnerID], nil
}

// FilesystemOwnerID returns the declared owner's ID.
func (r *Registry) FilesystemOwnerID() (ID, bool) {
	return r.fsOwnerID, r.hasOwner
}

// EnabledPackages lists the registered package views in ID order.
func (r *Registry) EnabledPackages() []Packages {
	ids := make([]ID, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	result := make([]Packages, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.packages[id])
	}
	return result
}
