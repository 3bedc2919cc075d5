// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package hostapi

import (
	"context"
	"fmt"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// PackageManagers is the read-only package-manager view the scripts
// query: installed packages, per-package lookups, and original file
// contents.
type PackageManagers struct {
	registry *backend.Registry
	interner *intern.Interner

	// packageMaps per backend, built by the run orchestrator before
	// script execution.
	packageMaps map[backend.ID]schema.PackageMap
}

// NewPackageManagers wires the view over the run's backends.
func NewPackageManagers(registry *backend.Registry, interner *intern.Interner, packageMaps map[backend.ID]schema.PackageMap) *PackageManagers {
	return &PackageManagers{registry: registry, interner: interner, packageMaps: packageMaps}
}

// Files lists every expected file entry of the filesystem owner.
func (p *PackageManagers) Files(ctx context.Context) ([]schema.FileEntry, error) {
	files, err := p.registry.FilesystemOwner()
	if err != nil {
		return nil, err
	}
	return files.Files(ctx, p.interner)
}

// Get resolves a package by name in any enabled backend.
func (p *PackageManagers) Get(name string) (*schema.Package, bool) {
	ref, known := p.interner.Lookup(name)
	if !known {
		return nil, false
	}
	for _, packageMap := range p.packageMaps {
		if pkg, present := packageMap[intern.PackageRef(ref)]; present {
			return pkg, true
		}
	}
	return nil, false
}

// OriginalFileContents returns the as-shipped bytes of one path from
// one package, through the disk cache.
func (p *PackageManagers) OriginalFileContents(ctx context.Context, pkg, path string) ([]byte, error) {
	files, err := p.registry.FilesystemOwner()
	if err != nil {
		return nil, err
	}
	packageMap := p.packageMaps[files.ID()]
	if packageMap == nil {
		return nil, fmt.Errorf("no package map loaded for backend %s", files.ID())
	}
	return files.OriginalFile(ctx, backend.OriginalFileQuery{Package: pkg, Path: path}, packageMap, p.interner)
}
