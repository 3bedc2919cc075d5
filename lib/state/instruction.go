// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package state is the reconciliation core: the closed instruction
// set, the fold of an instruction stream into a canonical desired
// state, the diff between two states, and the serialisation of
// instructions back into a save file.
package state

import (
	"crypto/sha256"
	"fmt"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// Op enumerates every instruction. The set is closed: the dynamic
// script host converts its values into these at the adapter boundary
// and nothing downstream is polymorphic.
type Op uint8

const (
	OpPkgAdd Op = iota
	OpPkgRemove
	OpPkgDepMark

	OpFileWrite
	OpFileCopyFromConfig
	OpFileRestoreFromPkg
	OpFileRemove

	OpMkdir
	OpSymlink
	OpMkFifo
	OpMkDevice

	OpChmod
	OpChown
	OpChgrp

	OpIgnorePath
	OpComment
	OpEarlyConfig
	OpSensitiveFile
)

// String renders the operation the way plans and save files show it.
func (op Op) String() string {
	switch op {
	case OpPkgAdd:
		return "add_pkg"
	case OpPkgRemove:
		return "remove_pkg"
	case OpPkgDepMark:
		return "mark_pkg"
	case OpFileWrite:
		return "write"
	case OpFileCopyFromConfig:
		return "copy"
	case OpFileRestoreFromPkg:
		return "restore (from package manager)"
	case OpFileRemove:
		return "remove"
	case OpMkdir:
		return "mkdir"
	case OpSymlink:
		return "symlink"
	case OpMkFifo:
		return "mkfifo"
	case OpMkDevice:
		return "mknod"
	case OpChmod:
		return "chmod"
	case OpChown:
		return "chown"
	case OpChgrp:
		return "chgrp"
	case OpIgnorePath:
		return "ignore_path"
	case OpComment:
		return "comment"
	case OpEarlyConfig:
		return "early_config"
	case OpSensitiveFile:
		return "sensitive_file"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// FileContents is the payload of a file write: either literal bytes
// or a reference to a file in the configuration directory. The
// checksum identifies the content either way, so two states can be
// compared without re-reading config files.
type FileContents struct {
	// Data holds literal bytes; nil when SourcePath is set.
	Data []byte

	// SourcePath points into the config directory's files/ tree.
	SourcePath string

	Checksum schema.Checksum
}

// LiteralContents wraps bytes, computing their checksum.
func LiteralContents(data []byte) *FileContents {
	return &FileContents{
		Data:     data,
		Checksum: schema.NewSHA256(sha256.Sum256(data)),
	}
}

// FileContentsFromConfig references a config-directory file with a
// previously computed checksum.
func FileContentsFromConfig(sourcePath string, checksum schema.Checksum) *FileContents {
	return &FileContents{SourcePath: sourcePath, Checksum: checksum}
}

// Equal compares by checksum.
func (c *FileContents) Equal(other *FileContents) bool {
	if c == nil || other == nil {
		return c == other
	}
	equal, err := c.Checksum.Equal(other.Checksum)
	return err == nil && equal
}

// Instruction is one atomic declaration. Fields beyond Op and Path
// are populated per operation; unused ones stay zero.
type Instruction struct {
	Op   Op
	Path string

	// Contents for FileWrite / FileCopyFromConfig.
	Contents *FileContents

	// Target for Symlink.
	Target string

	// DeviceKind, Major, Minor for MkDevice.
	DeviceKind schema.EntryKind
	Major      uint64
	Minor      uint64

	// Mode for Chmod.
	Mode uint32

	// Owner / Group for Chown / Chgrp: a user or group name, or a
	// numeric string.
	Owner string
	Group string

	// Backend and PackageName for package operations; Reason for
	// PkgDepMark.
	Backend     backend.ID
	PackageName string
	Reason      schema.InstallReason

	// Comment annotates save output; ignored on apply. For OpComment
	// it is the whole payload.
	Comment string

	// Pkg names the owning package for save-file comments.
	Pkg intern.PackageRef
}

// IsFileOp reports whether the instruction mutates the filesystem.
func (in *Instruction) IsFileOp() bool {
	switch in.Op {
	case OpFileWrite, OpFileCopyFromConfig, OpFileRestoreFromPkg, OpFileRemove,
		OpMkdir, OpSymlink, OpMkFifo, OpMkDevice, OpChmod, OpChown, OpChgrp:
		return true
	}
	return false
}

// IsPkgOp reports whether the instruction drives a package manager.
func (in *Instruction) IsPkgOp() bool {
	switch in.Op {
	case OpPkgAdd, OpPkgRemove, OpPkgDepMark:
		return true
	}
	return false
}
