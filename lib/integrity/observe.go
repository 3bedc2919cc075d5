// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"fmt"
	"os"
	"strconv"

	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/state"
)

// NameLookup resolves numeric IDs to names for instruction output.
// Nil functions fall back to decimal strings.
type NameLookup struct {
	User  func(uint32) (string, bool)
	Group func(uint32) (string, bool)
}

func (l NameLookup) user(id uint32) string {
	if l.User != nil {
		if name, ok := l.User(id); ok {
			return name
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (l NameLookup) group(id uint32) string {
	if l.Group != nil {
		if name, ok := l.Group(id); ok {
			return name
		}
	}
	return strconv.FormatUint(uint64(id), 10)
}

// ObservedInstructions converts comparator issues into the
// instruction stream that would recreate the observed drift on top
// of package-manager defaults. Folding it yields the observed state
// the reconciliation diff runs against.
//
// File content for modified and unexpected regular files is read
// from disk, so the resulting instructions are self-contained for
// both diffing and saving.
func ObservedInstructions(issues []schema.Issue, lookup NameLookup) ([]state.Instruction, error) {
	var result []state.Instruction
	for i := range issues {
		instructions, err := observeIssue(&issues[i], lookup)
		if err != nil {
			return nil, err
		}
		result = append(result, instructions...)
	}
	return result, nil
}

func observeIssue(issue *schema.Issue, lookup NameLookup) ([]state.Instruction, error) {
	var result []state.Instruction

	switch {
	case issue.Kinds.Has(schema.IssueMissing):
		// Expected by a package but absent: the observed state
		// carries a tombstone.
		result = append(result, state.Instruction{
			Op: state.OpFileRemove, Path: issue.Path, Pkg: issue.Package,
		})
		return result, nil

	case issue.Kinds.Has(schema.IssueUnexpected), issue.Kinds.Has(schema.IssueType),
		issue.Kinds.Has(schema.IssueChecksum), issue.Kinds.Has(schema.IssueSize),
		issue.Kinds.Has(schema.IssueTarget), issue.Kinds.Has(schema.IssueDevice):
		creation, err := creationInstruction(issue)
		if err != nil {
			return nil, err
		}
		if creation != nil {
			result = append(result, *creation)
			// A recreated entry carries the full observed metadata:
			// without it, a second run would see the defaults and
			// re-fix permissions forever.
			result = append(result, actualMetadata(issue, lookup)...)
			return result, nil
		}
	}

	actual := issue.Actual
	if issue.Kinds.Has(schema.IssueMode) && actual.HasMode {
		result = append(result, state.Instruction{
			Op: state.OpChmod, Path: issue.Path, Mode: actual.Mode, Pkg: issue.Package,
		})
	}
	if issue.Kinds.Has(schema.IssueOwner) && actual.HasOwner {
		result = append(result, state.Instruction{
			Op: state.OpChown, Path: issue.Path, Owner: lookup.user(actual.UID), Pkg: issue.Package,
		})
	}
	if issue.Kinds.Has(schema.IssueGroup) && actual.HasOwner {
		result = append(result, state.Instruction{
			Op: state.OpChgrp, Path: issue.Path, Group: lookup.group(actual.GID), Pkg: issue.Package,
		})
	}
	return result, nil
}

// actualMetadata renders the observed mode and ownership of a
// recreated entry, skipping values the fold defaults already imply.
func actualMetadata(issue *schema.Issue, lookup NameLookup) []state.Instruction {
	actual := issue.Actual
	var result []state.Instruction

	defaultMode := uint32(0o644)
	if actual.Kind == schema.KindDirectory {
		defaultMode = 0o755
	}
	if actual.HasMode && actual.Kind != schema.KindSymlink && actual.Mode != defaultMode {
		result = append(result, state.Instruction{
			Op: state.OpChmod, Path: issue.Path, Mode: actual.Mode, Pkg: issue.Package,
		})
	}
	// The fold defaults are names, so compare the rendered name: an
	// unresolved uid 0 renders as "0", which the default does not imply.
	if owner := lookup.user(actual.UID); actual.HasOwner && owner != state.DefaultOwner {
		result = append(result, state.Instruction{
			Op: state.OpChown, Path: issue.Path, Owner: owner, Pkg: issue.Package,
		})
	}
	if group := lookup.group(actual.GID); actual.HasOwner && group != state.DefaultGroup {
		result = append(result, state.Instruction{
			Op: state.OpChgrp, Path: issue.Path, Group: group, Pkg: issue.Package,
		})
	}
	return result
}

// creationInstruction renders the observed entry itself.
func creationInstruction(issue *schema.Issue) (*state.Instruction, error) {
	actual := issue.Actual
	switch actual.Kind {
	case schema.KindRegularFile:
		content, err := os.ReadFile(issue.Path)
		if err != nil {
			if os.IsPermission(err) {
				// Content unreadable; represent existence only. The
				// operator sees the permission issue separately.
				return nil, nil
			}
			return nil, fmt.Errorf("reading drifted file %s: %w", issue.Path, err)
		}
		return &state.Instruction{
			Op: state.OpFileWrite, Path: issue.Path,
			Contents: state.LiteralContents(content), Pkg: issue.Package,
		}, nil
	case schema.KindDirectory:
		return &state.Instruction{Op: state.OpMkdir, Path: issue.Path, Pkg: issue.Package}, nil
	case schema.KindSymlink:
		return &state.Instruction{
			Op: state.OpSymlink, Path: issue.Path, Target: actual.LinkTarget, Pkg: issue.Package,
		}, nil
	case schema.KindFifo:
		return &state.Instruction{Op: state.OpMkFifo, Path: issue.Path, Pkg: issue.Package}, nil
	case schema.KindBlockDevice, schema.KindCharDevice:
		return &state.Instruction{
			Op: state.OpMkDevice, Path: issue.Path, DeviceKind: actual.Kind,
			Major: actual.Major, Minor: actual.Minor, Pkg: issue.Package,
		}, nil
	default:
		return nil, nil
	}
}
