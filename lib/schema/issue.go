// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"strings"

	"github.com/stateward/stateward/lib/intern"
)

// IssueKind is a bitset of discrepancies between an expected and an
// observed entry.
type IssueKind uint16

const (
	IssueMode IssueKind = 1 << iota
	IssueOwner
	IssueGroup
	IssueMtime
	IssueSize
	IssueChecksum
	IssueType
	IssueTarget
	IssueDevice
	IssueMissing
	IssueUnexpected
	IssuePermissionDenied
)

var issueNames = []struct {
	kind IssueKind
	name string
}{
	{IssueMode, "mode"},
	{IssueOwner, "owner"},
	{IssueGroup, "group"},
	{IssueMtime, "mtime"},
	{IssueSize, "size"},
	{IssueChecksum, "checksum"},
	{IssueType, "type"},
	{IssueTarget, "target"},
	{IssueDevice, "device"},
	{IssueMissing, "missing"},
	{IssueUnexpected, "unexpected"},
	{IssuePermissionDenied, "permission-denied"},
}

// String renders the set as a comma-joined list of kind names.
func (k IssueKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	for _, entry := range issueNames {
		if k&entry.kind != 0 {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, ",")
}

// Has reports whether all bits in want are set.
func (k IssueKind) Has(want IssueKind) bool {
	return k&want == want
}

// Issue is one discrepancy report from the integrity comparator.
type Issue struct {
	Path string

	// Expected is absent (zero Kind with no fields) for Unexpected
	// issues; Actual is absent for Missing ones.
	Expected Properties
	Actual   Properties

	Kinds IssueKind

	// Package is the owning package when known; used in reports and
	// save-file comments.
	Package intern.PackageRef
}
