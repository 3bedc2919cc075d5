// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// Default metadata adopted by creation instructions until a later
// Chmod/Chown/Chgrp overrides them. Mkdir additionally defers to the
// package manager's defaults at diff time when untouched.
const (
	DefaultFileMode = uint32(0o644)
	DefaultDirMode  = uint32(0o755)
	DefaultOwner    = "root"
	DefaultGroup    = "root"
)

// entryKind is the node-level filesystem shape inside a State.
type entryKind uint8

const (
	// entryRemoved is a tombstone: the path must not exist, even if
	// a package installs it. Distinct from "absent from the map".
	entryRemoved entryKind = iota
	// entryUnchanged carries only metadata changes (a bare chmod on
	// a package-managed path).
	entryUnchanged
	// entryRestored pins the path to its package-manager state.
	entryRestored
	entryDir
	entryFile
	entrySymlink
	entryFifo
	entryBlock
	entryChar
)

// Node is the folded value for one path.
type Node struct {
	kind     entryKind
	contents *FileContents
	target   string
	major    uint64
	minor    uint64

	// Metadata is tri-state: nil means "not specified", adopting
	// defaults at diff time.
	mode  *uint32
	owner *string
	group *string

	// removedBeforeAdded marks a path removed and then recreated in
	// one fold; the diff must emit an explicit removal first.
	removedBeforeAdded bool

	// implicit marks parent directories materialised by the fold
	// rather than instructed. Implicit nodes never cause removals or
	// restores when absent from the other state.
	implicit bool

	comment string
	pkg     intern.PackageRef
}

// Equal compares two nodes structurally.
func (n *Node) Equal(other *Node) bool {
	if n.kind != other.kind || n.target != other.target ||
		n.major != other.major || n.minor != other.minor ||
		n.removedBeforeAdded != other.removedBeforeAdded {
		return false
	}
	if !n.contents.Equal(other.contents) {
		return false
	}
	return equalPtr(n.mode, other.mode) && equalPtr(n.owner, other.owner) && equalPtr(n.group, other.group)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PkgDesire is the folded package-level want.
type PkgDesire struct {
	Install bool
	Reason  schema.InstallReason
	Comment string
}

// State is the canonical fold target: one frozen description of a
// machine. Built once per run, mutated only during fold, then frozen
// before diffing.
type State struct {
	files map[string]*Node

	// packages maps backend → package name → desire.
	packages map[backend.ID]map[string]PkgDesire

	ignores        []string
	earlyGlobs     []string
	sensitiveGlobs []string
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		files:    make(map[string]*Node),
		packages: make(map[backend.ID]map[string]PkgDesire),
	}
}

// Ignores returns the folded ignore globs.
func (s *State) Ignores() []string { return s.ignores }

// EarlyGlobs returns the folded early-restore globs.
func (s *State) EarlyGlobs() []string { return s.earlyGlobs }

// SensitiveGlobs returns the folded sensitive globs.
func (s *State) SensitiveGlobs() []string { return s.sensitiveGlobs }

// Packages returns the desired package set for one backend.
func (s *State) Packages(id backend.ID) map[string]PkgDesire {
	return s.packages[id]
}

// PackageBackends lists backends with any package desire, sorted.
func (s *State) PackageBackends() []backend.ID {
	ids := make([]backend.ID, 0, len(s.packages))
	for id := range s.packages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortedPaths returns every path in lexical order. The diff relies
// on this ordering.
func (s *State) sortedPaths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// UnownedRestoreError reports a FileRestoreFromPkg on a path no
// package owns.
type UnownedRestoreError struct {
	Path string
}

func (e *UnownedRestoreError) Error() string {
	return fmt.Sprintf("cannot restore %s: no package owns it", e.Path)
}

// ConflictError reports two packages claiming one path with
// incompatible properties. Always fatal: the plan is inconsistent.
type ConflictError struct {
	Path     string
	Packages [2]string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: packages %s and %s disagree about its properties",
		e.Path, e.Packages[0], e.Packages[1])
}

// FoldOptions configures Fold.
type FoldOptions struct {
	// Owned reports whether any package owns a path; required for
	// FileRestoreFromPkg validation.
	Owned func(path string) bool

	// WarnRedundant logs chmod/chown/chgrp instructions that set the
	// value already in effect.
	WarnRedundant bool
}

// Fold collapses an instruction stream into a State. Later
// instructions override earlier ones on the same (kind, path); no
// commutativity is assumed.
func Fold(instructions []Instruction, options FoldOptions) (*State, error) {
	s := NewState()
	for i := range instructions {
		if err := s.apply(&instructions[i], options); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *State) apply(in *Instruction, options FoldOptions) error {
	switch in.Op {
	case OpPkgAdd, OpPkgRemove, OpPkgDepMark:
		byName := s.packages[in.Backend]
		if byName == nil {
			byName = make(map[string]PkgDesire)
			s.packages[in.Backend] = byName
		}
		switch in.Op {
		case OpPkgAdd:
			byName[in.PackageName] = PkgDesire{Install: true, Reason: schema.ReasonExplicit, Comment: in.Comment}
		case OpPkgRemove:
			byName[in.PackageName] = PkgDesire{Install: false, Comment: in.Comment}
		case OpPkgDepMark:
			desire := byName[in.PackageName]
			desire.Install = true
			desire.Reason = in.Reason
			byName[in.PackageName] = desire
		}
		return nil

	case OpFileRemove:
		mode := uint32(0)
		owner, group := DefaultOwner, DefaultGroup
		s.files[in.Path] = &Node{
			kind:               entryRemoved,
			mode:               &mode,
			owner:              &owner,
			group:              &group,
			removedBeforeAdded: true,
			comment:            in.Comment,
			pkg:                in.Pkg,
		}
		return nil

	case OpFileWrite, OpFileCopyFromConfig:
		return s.replaceNode(in, &Node{kind: entryFile, contents: in.Contents})
	case OpMkdir:
		return s.replaceNode(in, &Node{kind: entryDir})
	case OpSymlink:
		return s.replaceNode(in, &Node{kind: entrySymlink, target: in.Target})
	case OpMkFifo:
		return s.replaceNode(in, &Node{kind: entryFifo})
	case OpMkDevice:
		kind := entryChar
		if in.DeviceKind == schema.KindBlockDevice {
			kind = entryBlock
		}
		return s.replaceNode(in, &Node{kind: kind, major: in.Major, minor: in.Minor})

	case OpFileRestoreFromPkg:
		if options.Owned == nil || !options.Owned(in.Path) {
			return &UnownedRestoreError{Path: in.Path}
		}
		// A restore downgrades an earlier explicit write back to
		// package-manager content and metadata.
		s.files[in.Path] = &Node{kind: entryRestored, comment: in.Comment, pkg: in.Pkg}
		return nil

	case OpChmod:
		mode := in.Mode
		s.metadataNode(in, func(node *Node) {
			if options.WarnRedundant && node.mode != nil && *node.mode == mode {
				slog.Warn("redundant chmod", "path", in.Path, "mode", fmt.Sprintf("%o", mode))
			}
			node.mode = &mode
		})
		return nil
	case OpChown:
		owner := in.Owner
		s.metadataNode(in, func(node *Node) {
			if options.WarnRedundant && node.owner != nil && *node.owner == owner {
				slog.Warn("redundant chown", "path", in.Path, "owner", owner)
			}
			node.owner = &owner
		})
		return nil
	case OpChgrp:
		group := in.Group
		s.metadataNode(in, func(node *Node) {
			if options.WarnRedundant && node.group != nil && *node.group == group {
				slog.Warn("redundant chgrp", "path", in.Path, "group", group)
			}
			node.group = &group
		})
		return nil

	case OpIgnorePath:
		s.ignores = append(s.ignores, in.Path)
		return nil
	case OpEarlyConfig:
		s.earlyGlobs = append(s.earlyGlobs, in.Path)
		return nil
	case OpSensitiveFile:
		s.sensitiveGlobs = append(s.sensitiveGlobs, in.Path)
		return nil
	case OpComment:
		return nil

	default:
		return fmt.Errorf("instruction %v not valid as fold input", in.Op)
	}
}

// replaceNode installs a creation node, preserving removed-then-
// recreated tracking and materialising missing parent directories.
func (s *State) replaceNode(in *Instruction, node *Node) error {
	s.addMissingParents(in.Path)

	node.comment = in.Comment
	node.pkg = in.Pkg
	defaultMode := DefaultFileMode
	if node.kind == entryDir {
		defaultMode = DefaultDirMode
	}
	mode := defaultMode
	owner, group := DefaultOwner, DefaultGroup
	node.mode, node.owner, node.group = &mode, &owner, &group

	if existing, present := s.files[in.Path]; present {
		node.removedBeforeAdded = existing.kind == entryRemoved || existing.removedBeforeAdded
	}
	s.files[in.Path] = node
	return nil
}

// metadataNode applies a metadata mutation, inserting an Unchanged
// node when the path has no creation instruction.
func (s *State) metadataNode(in *Instruction, mutate func(*Node)) {
	node, present := s.files[in.Path]
	if !present {
		node = &Node{kind: entryUnchanged, comment: in.Comment, pkg: in.Pkg}
		s.files[in.Path] = node
	}
	node.implicit = false
	mutate(node)
}

// addMissingParents inserts implicit directory nodes for every
// ancestor of p that the state does not yet mention. Implicit
// parents carry no explicit metadata: the package manager's defaults
// apply at diff time.
func (s *State) addMissingParents(p string) {
	for parent := path.Dir(p); ; parent = path.Dir(parent) {
		if _, present := s.files[parent]; !present {
			s.files[parent] = &Node{kind: entryDir, implicit: true}
		}
		if parent == "/" || parent == "." {
			return
		}
	}
}

// BuildExpected merges per-backend file entries into a single
// path-keyed map. Two packages claiming one path with differing
// properties is a ConflictError; identical claims (directories
// shared between packages) merge silently. Diversion handling has
// already rewritten paths by this point.
func BuildExpected(entries []schema.FileEntry, interner *intern.Interner) (map[string]schema.FileEntry, error) {
	merged := make(map[string]schema.FileEntry, len(entries))
	for _, entry := range entries {
		existing, present := merged[entry.Path]
		if !present {
			merged[entry.Path] = entry
			continue
		}
		if !compatibleClaims(&existing.Properties, &entry.Properties) {
			return nil, &ConflictError{
				Path: entry.Path,
				Packages: [2]string{
					packageName(existing.Package, interner),
					packageName(entry.Package, interner),
				},
			}
		}
		// Keep the richer record: prefer one with a checksum or
		// known type.
		if existing.Properties.Kind == schema.KindUnknown && entry.Properties.Kind != schema.KindUnknown {
			merged[entry.Path] = entry
		} else if existing.Properties.Checksum.IsZero() && !entry.Properties.Checksum.IsZero() {
			merged[entry.Path] = entry
		}
	}
	return merged, nil
}

// compatibleClaims reports whether two ownership claims can coexist.
func compatibleClaims(a, b *schema.Properties) bool {
	if a.Kind == schema.KindUnknown || b.Kind == schema.KindUnknown {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	if a.HasMode && b.HasMode && a.Mode != b.Mode {
		return false
	}
	if a.HasOwner && b.HasOwner && (a.UID != b.UID || a.GID != b.GID) {
		return false
	}
	if !a.Checksum.IsZero() && !b.Checksum.IsZero() {
		if equal, err := a.Checksum.Equal(b.Checksum); err != nil || !equal {
			return false
		}
	}
	return true
}

func packageName(ref intern.PackageRef, interner *intern.Interner) string {
	if ref == 0 {
		return "(unowned)"
	}
	return ref.String(interner)
}
