// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package apply executes a reconciliation plan: it partitions the
// diff into ordered phases, drives the package manager backends, and
// mutates the filesystem. It also hosts the applicator
// implementations (in-process, interactive, dry-run).
package apply

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/state"
)

// DefaultEarlyGlobs are restored before package transactions run, so
// package post-install scripts see consistent user and group IDs.
func DefaultEarlyGlobs() []string {
	return []string{"/etc/passwd", "/etc/group", "/etc/shadow", "/etc/gshadow"}
}

// Plan is the diff partitioned into application phases. Phases
// execute strictly in struct order; each drains fully before the
// next starts.
type Plan struct {
	// EarlyRestores resets identity-defining files before any
	// package transaction.
	EarlyRestores []state.Instruction

	// PackageOps per backend: installs before removals, so transient
	// file dependencies stay satisfied.
	PackageOps []state.Instruction

	// Removals run innermost-first.
	Removals []state.Instruction

	// Restores are restore-to-package operations not matched by an
	// early glob.
	Restores []state.Instruction

	// DirCreations run outermost-first.
	DirCreations []state.Instruction

	// Writes create file content, symlinks, FIFOs, and device nodes.
	Writes []state.Instruction

	// Permissions fixes run last: chmod, then chown, then chgrp.
	Permissions []state.Instruction
}

// BuildPlan partitions instructions into phases and orders each
// phase deterministically.
func BuildPlan(instructions []state.Instruction, earlyGlobs []string) *Plan {
	plan := &Plan{}
	for _, instruction := range instructions {
		switch instruction.Op {
		case state.OpFileRestoreFromPkg:
			if matchesAny(instruction.Path, earlyGlobs) {
				plan.EarlyRestores = append(plan.EarlyRestores, instruction)
			} else {
				plan.Restores = append(plan.Restores, instruction)
			}
		case state.OpPkgAdd, state.OpPkgRemove, state.OpPkgDepMark:
			plan.PackageOps = append(plan.PackageOps, instruction)
		case state.OpFileRemove:
			plan.Removals = append(plan.Removals, instruction)
		case state.OpMkdir:
			plan.DirCreations = append(plan.DirCreations, instruction)
		case state.OpFileWrite, state.OpFileCopyFromConfig, state.OpSymlink, state.OpMkFifo, state.OpMkDevice:
			plan.Writes = append(plan.Writes, instruction)
		case state.OpChmod, state.OpChown, state.OpChgrp:
			plan.Permissions = append(plan.Permissions, instruction)
		case state.OpComment, state.OpIgnorePath, state.OpEarlyConfig, state.OpSensitiveFile:
			// Not applied.
		}
	}

	byPath := func(list []state.Instruction) func(int, int) bool {
		return func(i, j int) bool { return list[i].Path < list[j].Path }
	}
	sort.SliceStable(plan.EarlyRestores, byPath(plan.EarlyRestores))
	// Removals innermost-first: reverse lexical order removes
	// directory contents before the directory.
	sort.SliceStable(plan.Removals, func(i, j int) bool {
		return plan.Removals[i].Path > plan.Removals[j].Path
	})
	sort.SliceStable(plan.Restores, byPath(plan.Restores))
	// Creations outermost-first.
	sort.SliceStable(plan.DirCreations, byPath(plan.DirCreations))
	sort.SliceStable(plan.Writes, byPath(plan.Writes))
	// Permission fixes: chmod before chown before chgrp, each by
	// path.
	sort.SliceStable(plan.Permissions, func(i, j int) bool {
		if plan.Permissions[i].Op != plan.Permissions[j].Op {
			return permRank(plan.Permissions[i].Op) < permRank(plan.Permissions[j].Op)
		}
		return plan.Permissions[i].Path < plan.Permissions[j].Path
	})
	// Package operations: installs first, then marks, then removals,
	// grouped by backend.
	sort.SliceStable(plan.PackageOps, func(i, j int) bool {
		a, b := plan.PackageOps[i], plan.PackageOps[j]
		if a.Backend != b.Backend {
			return a.Backend < b.Backend
		}
		if a.Op != b.Op {
			return pkgRank(a.Op) < pkgRank(b.Op)
		}
		return a.PackageName < b.PackageName
	})
	return plan
}

func permRank(op state.Op) int {
	switch op {
	case state.OpChmod:
		return 0
	case state.OpChown:
		return 1
	default:
		return 2
	}
}

func pkgRank(op state.Op) int {
	switch op {
	case state.OpPkgAdd:
		return 0
	case state.OpPkgDepMark:
		return 1
	default:
		return 2
	}
}

// Empty reports whether the plan performs no work.
func (p *Plan) Empty() bool {
	return len(p.EarlyRestores) == 0 && len(p.PackageOps) == 0 && len(p.Removals) == 0 &&
		len(p.Restores) == 0 && len(p.DirCreations) == 0 && len(p.Writes) == 0 &&
		len(p.Permissions) == 0
}

// OperationCount is the total number of plan items.
func (p *Plan) OperationCount() int {
	return len(p.EarlyRestores) + len(p.PackageOps) + len(p.Removals) +
		len(p.Restores) + len(p.DirCreations) + len(p.Writes) + len(p.Permissions)
}

// packageBatch groups one backend's package operations.
type packageBatch struct {
	backend      backend.ID
	install      []string
	markExplicit []string
	uninstall    []string
}

// packageBatches splits the package phase by backend, preserving
// install-before-remove ordering inside each.
func (p *Plan) packageBatches() []packageBatch {
	var batches []packageBatch
	index := make(map[backend.ID]int)
	for _, instruction := range p.PackageOps {
		i, ok := index[instruction.Backend]
		if !ok {
			i = len(batches)
			index[instruction.Backend] = i
			batches = append(batches, packageBatch{backend: instruction.Backend})
		}
		switch instruction.Op {
		case state.OpPkgAdd:
			batches[i].install = append(batches[i].install, instruction.PackageName)
		case state.OpPkgDepMark:
			batches[i].markExplicit = append(batches[i].markExplicit, instruction.PackageName)
		case state.OpPkgRemove:
			batches[i].uninstall = append(batches[i].uninstall, instruction.PackageName)
		}
	}
	return batches
}

func matchesAny(path string, globs []string) bool {
	for _, glob := range globs {
		if matched, _ := doublestar.Match(glob, path); matched {
			return true
		}
	}
	return false
}
