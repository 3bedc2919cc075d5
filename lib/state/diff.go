// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"sort"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/schema"
)

// DiffGoal selects what the generated instructions are for. Apply
// produces the change plan for this machine; Save produces the
// instructions an operator would add to their configuration.
type DiffGoal uint8

const (
	GoalApply DiffGoal = iota
	GoalSave
)

// DiffOptions configures Diff.
type DiffOptions struct {
	Goal DiffGoal

	// Expected maps paths to their package-manager entries; consulted
	// when an observed path is absent from the desired state, to
	// decide between restore and removal.
	Expected map[string]schema.FileEntry

	// ResolveUser and ResolveGroup turn numeric IDs into names for
	// emitted chown/chgrp instructions. Nil falls back to numeric
	// strings.
	ResolveUser  func(uint32) string
	ResolveGroup func(uint32) string
}

const typeConflictComment = "removed and recreated due to file type conflict"

// Diff generates the instructions that transform the machine
// described by before into the one described by after. For apply,
// before is the observed state and after the desired one.
//
// For any s: Diff(s, s) is empty. Emission is in lexical path order;
// the apply orchestrator re-partitions into phases (removals
// reversed innermost-first there).
func Diff(before, after *State, options DiffOptions) ([]Instruction, error) {
	var result []Instruction

	beforePaths := before.sortedPaths()
	afterPaths := after.sortedPaths()

	i, j := 0, 0
	for i < len(beforePaths) || j < len(afterPaths) {
		switch {
		case j >= len(afterPaths) || (i < len(beforePaths) && beforePaths[i] < afterPaths[j]):
			// Only in before.
			p := beforePaths[i]
			instructions, err := diffOnlyBefore(p, before.files[p], options)
			if err != nil {
				return nil, err
			}
			result = append(result, instructions...)
			i++
		case i >= len(beforePaths) || afterPaths[j] < beforePaths[i]:
			// Only in after.
			p := afterPaths[j]
			result = append(result, nodeInstructions(p, after.files[p])...)
			j++
		default:
			p := beforePaths[i]
			beforeNode, afterNode := before.files[p], after.files[p]
			if !beforeNode.Equal(afterNode) {
				result = append(result, diffBoth(p, beforeNode, afterNode)...)
			}
			i++
			j++
		}
	}
	return result, nil
}

// diffBoth emits instructions moving one path from its before shape
// to its after shape.
func diffBoth(p string, before, after *Node) []Instruction {
	var result []Instruction
	pkg := before.pkg
	if pkg == 0 {
		pkg = after.pkg
	}

	if before.kind != after.kind || !before.contents.Equal(after.contents) ||
		before.target != after.target || before.major != after.major || before.minor != after.minor {
		if before.removedBeforeAdded || before.kind != after.kind {
			result = append(result, Instruction{
				Op:      OpFileRemove,
				Path:    p,
				Comment: typeConflictComment,
				Pkg:     pkg,
			})
		}
		if base := baseInstruction(p, after); base != nil {
			base.Pkg = pkg
			result = append(result, *base)
		}
	}

	// An implicit parent on the desired side imposes nothing beyond
	// existing: whatever metadata the observed directory has stands.
	if after.implicit {
		return result
	}

	// Metadata compares by effective value: an unspecified mode or
	// owner stands for the kind's default, so an implicit parent and
	// an explicit default-mode mkdir do not differ.
	if mode := effectiveMode(after); mode != effectiveMode(before) {
		result = append(result, Instruction{Op: OpChmod, Path: p, Mode: mode, Pkg: pkg})
	}
	if owner := effectiveName(after.owner); owner != effectiveName(before.owner) {
		result = append(result, Instruction{Op: OpChown, Path: p, Owner: owner, Pkg: pkg})
	}
	if group := effectiveName(after.group); group != effectiveName(before.group) {
		result = append(result, Instruction{Op: OpChgrp, Path: p, Group: group, Pkg: pkg})
	}
	return result
}

// effectiveMode resolves a node's mode, falling back to the default
// for its kind.
func effectiveMode(node *Node) uint32 {
	if node.mode != nil {
		return *node.mode
	}
	if node.kind == entryDir {
		return DefaultDirMode
	}
	return DefaultFileMode
}

func effectiveName(name *string) string {
	if name != nil {
		return *name
	}
	return DefaultOwner
}

// diffOnlyBefore handles a path present in the observed state but
// absent from the desired one.
func diffOnlyBefore(p string, node *Node, options DiffOptions) ([]Instruction, error) {
	// Implicit parents exist only as fold bookkeeping; their absence
	// from the other state means nothing.
	if node.implicit {
		return nil, nil
	}
	if options.Goal == GoalSave {
		reason := saveRemovalAdvice(node)
		return []Instruction{{Op: OpComment, Path: p, Comment: reason, Pkg: node.pkg}}, nil
	}

	expected, owned := options.Expected[p]
	if !owned {
		// Nothing owns it and the config stopped mentioning it.
		return []Instruction{{Op: OpFileRemove, Path: p, Comment: node.comment, Pkg: node.pkg}}, nil
	}

	var result []Instruction
	pkg := node.pkg
	if pkg == 0 {
		pkg = expected.Package
	}

	if node.kind != entryUnchanged {
		switch expected.Properties.Kind {
		case schema.KindRegularFile, schema.KindUnknown:
			result = append(result, Instruction{Op: OpFileRestoreFromPkg, Path: p, Comment: node.comment, Pkg: pkg})
		case schema.KindSymlink:
			result = append(result, Instruction{Op: OpSymlink, Path: p, Target: expected.Properties.LinkTarget, Comment: node.comment, Pkg: pkg})
		case schema.KindDirectory:
			result = append(result, Instruction{Op: OpMkdir, Path: p, Comment: node.comment, Pkg: pkg})
		default:
			return nil, fmt.Errorf("%s must be restored to package state, but restoring a %s is not supported",
				p, expected.Properties.Kind)
		}
	}

	// Reset metadata drift back to the package's values.
	if expected.Properties.HasMode && node.mode != nil && *node.mode != expected.Properties.Mode {
		result = append(result, Instruction{Op: OpChmod, Path: p, Mode: expected.Properties.Mode, Pkg: pkg})
	}
	if expected.Properties.HasOwner {
		owner := resolveName(options.ResolveUser, expected.Properties.UID)
		if node.owner != nil && *node.owner != owner {
			result = append(result, Instruction{Op: OpChown, Path: p, Owner: owner, Pkg: pkg})
		}
		group := resolveName(options.ResolveGroup, expected.Properties.GID)
		if node.group != nil && *node.group != group {
			result = append(result, Instruction{Op: OpChgrp, Path: p, Group: group, Pkg: pkg})
		}
	}
	return result, nil
}

func resolveName(resolve func(uint32) string, id uint32) string {
	if resolve != nil {
		return resolve(id)
	}
	return fmt.Sprintf("%d", id)
}

// saveRemovalAdvice explains, in a save-file comment, why an entry in
// the configuration no longer matches the machine.
func saveRemovalAdvice(node *Node) string {
	switch node.kind {
	case entryRemoved:
		return "rm in config is no longer needed"
	case entryUnchanged:
		return "owner/group/mode in config is no longer needed"
	case entryDir:
		return "mkdir in config is no longer needed (may be implied by contained files)"
	case entryFile:
		return "file matches the system or no longer exists"
	case entrySymlink:
		return "symlink in config is no longer needed"
	case entryFifo:
		return "mkfifo in config is no longer needed"
	case entryBlock, entryChar:
		return "device node in config is no longer needed"
	case entryRestored:
		return "restore in config is no longer needed"
	default:
		return "entry in config is no longer needed"
	}
}

// nodeInstructions expands a desired node with no observed
// counterpart into creation instructions.
func nodeInstructions(p string, node *Node) []Instruction {
	var result []Instruction

	if node.removedBeforeAdded && node.kind != entryRemoved {
		result = append(result, Instruction{
			Op:      OpFileRemove,
			Path:    p,
			Comment: typeConflictComment,
			Pkg:     node.pkg,
		})
	}
	if base := baseInstruction(p, node); base != nil {
		result = append(result, *base)
	}
	if node.kind == entryRemoved || node.kind == entryUnchanged || node.kind == entryRestored {
		if node.kind != entryRemoved {
			result = append(result, metadataInstructions(p, node)...)
		}
		return result
	}

	// Metadata beyond the creation defaults becomes explicit fixes.
	defaultMode := DefaultFileMode
	if node.kind == entryDir {
		defaultMode = DefaultDirMode
	}
	if node.kind != entrySymlink && node.mode != nil && *node.mode != defaultMode {
		result = append(result, Instruction{Op: OpChmod, Path: p, Mode: *node.mode, Pkg: node.pkg})
	}
	if node.owner != nil && *node.owner != DefaultOwner {
		result = append(result, Instruction{Op: OpChown, Path: p, Owner: *node.owner, Pkg: node.pkg})
	}
	if node.group != nil && *node.group != DefaultGroup {
		result = append(result, Instruction{Op: OpChgrp, Path: p, Group: *node.group, Pkg: node.pkg})
	}
	return result
}

// metadataInstructions emits bare metadata changes for nodes that
// carry no creation.
func metadataInstructions(p string, node *Node) []Instruction {
	var result []Instruction
	if node.mode != nil {
		result = append(result, Instruction{Op: OpChmod, Path: p, Mode: *node.mode, Pkg: node.pkg})
	}
	if node.owner != nil {
		result = append(result, Instruction{Op: OpChown, Path: p, Owner: *node.owner, Pkg: node.pkg})
	}
	if node.group != nil {
		result = append(result, Instruction{Op: OpChgrp, Path: p, Group: *node.group, Pkg: node.pkg})
	}
	return result
}

// baseInstruction renders the creating instruction for a node, nil
// when the node is metadata-only.
func baseInstruction(p string, node *Node) *Instruction {
	switch node.kind {
	case entryRemoved:
		return &Instruction{Op: OpFileRemove, Path: p, Comment: node.comment, Pkg: node.pkg}
	case entryUnchanged:
		return nil
	case entryRestored:
		return &Instruction{Op: OpFileRestoreFromPkg, Path: p, Comment: node.comment, Pkg: node.pkg}
	case entryDir:
		return &Instruction{Op: OpMkdir, Path: p, Comment: node.comment, Pkg: node.pkg}
	case entryFile:
		op := OpFileWrite
		if node.contents != nil && node.contents.SourcePath != "" {
			op = OpFileCopyFromConfig
		}
		return &Instruction{Op: op, Path: p, Contents: node.contents, Comment: node.comment, Pkg: node.pkg}
	case entrySymlink:
		return &Instruction{Op: OpSymlink, Path: p, Target: node.target, Comment: node.comment, Pkg: node.pkg}
	case entryFifo:
		return &Instruction{Op: OpMkFifo, Path: p, Comment: node.comment, Pkg: node.pkg}
	case entryBlock:
		return &Instruction{Op: OpMkDevice, Path: p, DeviceKind: schema.KindBlockDevice, Major: node.major, Minor: node.minor, Comment: node.comment, Pkg: node.pkg}
	case entryChar:
		return &Instruction{Op: OpMkDevice, Path: p, DeviceKind: schema.KindCharDevice, Major: node.major, Minor: node.minor, Comment: node.comment, Pkg: node.pkg}
	default:
		return nil
	}
}

// InstalledPackage is one observed package-database row used by the
// package diff.
type InstalledPackage struct {
	Name   string
	Reason schema.InstallReason
}

// DiffPackages compares the desired package set against the observed
// database for one backend and emits package instructions. For
// apply: additions, explicit marks, and removals. For save: add_pkg
// lines for unlisted explicitly-installed packages and remove_pkg
// lines for configured-but-absent ones.
func DiffPackages(desired map[string]PkgDesire, installed []InstalledPackage, goal DiffGoal, backendID backend.ID) []Instruction {
	installedByName := make(map[string]InstalledPackage, len(installed))
	for _, pkg := range installed {
		installedByName[pkg.Name] = pkg
	}

	var result []Instruction

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		desire := desired[name]
		observed, isInstalled := installedByName[name]
		switch {
		case desire.Install && !isInstalled:
			if goal == GoalApply {
				result = append(result, Instruction{Op: OpPkgAdd, Backend: backendID, PackageName: name, Comment: desire.Comment})
			} else {
				result = append(result, Instruction{Op: OpPkgRemove, Backend: backendID, PackageName: name,
					Comment: "configured but not installed"})
			}
		case desire.Install && isInstalled && desire.Reason == schema.ReasonExplicit && observed.Reason == schema.ReasonDependency:
			if goal == GoalApply {
				result = append(result, Instruction{Op: OpPkgDepMark, Backend: backendID, PackageName: name, Reason: schema.ReasonExplicit})
			}
		case !desire.Install && isInstalled:
			if goal == GoalApply {
				result = append(result, Instruction{Op: OpPkgRemove, Backend: backendID, PackageName: name, Comment: desire.Comment})
			}
		}
	}

	if goal == GoalSave {
		installedNames := make([]string, 0, len(installedByName))
		for name := range installedByName {
			installedNames = append(installedNames, name)
		}
		sort.Strings(installedNames)
		for _, name := range installedNames {
			pkg := installedByName[name]
			if pkg.Reason != schema.ReasonExplicit {
				continue
			}
			if desire, mentioned := desired[name]; mentioned && desire.Install {
				continue
			}
			result = append(result, Instruction{Op: OpPkgAdd, Backend: backendID, PackageName: name})
		}
	}
	return result
}
