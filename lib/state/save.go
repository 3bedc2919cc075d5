// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// DefaultSensitiveGlobs are never written by save, so shadow
// passwords cannot leak into a config repository.
func DefaultSensitiveGlobs() []string {
	return []string{"/etc/shadow", "/etc/gshadow", "/etc/shadow-", "/etc/gshadow-"}
}

// SaveOptions configures Save.
type SaveOptions struct {
	// Prefix is the configured identifier save lines start with,
	// for example "ctx.cmds".
	Prefix string

	// SensitiveGlobs elide matching paths entirely: neither content
	// nor metadata is written, only a comment.
	SensitiveGlobs []string

	// Interner resolves owning-package annotations.
	Interner *intern.Interner

	// FileDataSaver persists FileWrite content into the config
	// directory's files/ tree. Called for every saved file write.
	FileDataSaver func(path string, contents *FileContents) error
}

// Save writes the instruction stream as configuration lines to w.
// Package instructions sort before file instructions; file
// instructions are expected in (path, op) order already.
func Save(w io.Writer, instructions []Instruction, options SaveOptions) error {
	prefix := options.Prefix
	if prefix == "" {
		prefix = "ctx.cmds"
	}

	var packageOps, fileOps []Instruction
	for _, instruction := range instructions {
		if instruction.IsPkgOp() {
			packageOps = append(packageOps, instruction)
		} else {
			fileOps = append(fileOps, instruction)
		}
	}
	sort.SliceStable(packageOps, func(i, j int) bool {
		if packageOps[i].Op != packageOps[j].Op {
			return packageOps[i].Op < packageOps[j].Op
		}
		if packageOps[i].Backend != packageOps[j].Backend {
			return packageOps[i].Backend < packageOps[j].Backend
		}
		return packageOps[i].PackageName < packageOps[j].PackageName
	})

	for _, instruction := range packageOps {
		line := ""
		switch instruction.Op {
		case OpPkgAdd:
			line = fmt.Sprintf("%s.add_pkg(%q, %q)", prefix, instruction.Backend.String(), instruction.PackageName)
		case OpPkgRemove:
			line = fmt.Sprintf("%s.remove_pkg(%q, %q)", prefix, instruction.Backend.String(), instruction.PackageName)
		case OpPkgDepMark:
			line = fmt.Sprintf("%s.add_pkg(%q, %q)", prefix, instruction.Backend.String(), instruction.PackageName)
		}
		if err := writeLine(w, line, saveComment(&instruction, options.Interner)); err != nil {
			return err
		}
	}

	for _, instruction := range fileOps {
		if err := saveFileInstruction(w, &instruction, prefix, options); err != nil {
			return err
		}
	}
	return nil
}

func saveFileInstruction(w io.Writer, instruction *Instruction, prefix string, options SaveOptions) error {
	if isSensitive(instruction.Path, options.SensitiveGlobs) {
		_, err := fmt.Fprintf(w, "    // %s: skipped (sensitive file)\n", instruction.Path)
		return err
	}

	comment := saveComment(instruction, options.Interner)
	var line string
	switch instruction.Op {
	case OpFileRemove:
		line = fmt.Sprintf("%s.rm(%q)", prefix, instruction.Path)
	case OpFileWrite, OpFileCopyFromConfig:
		if options.FileDataSaver != nil {
			if err := options.FileDataSaver(instruction.Path, instruction.Contents); err != nil {
				return fmt.Errorf("saving %s to config directory: %w", instruction.Path, err)
			}
		}
		line = fmt.Sprintf("%s.copy(%q)", prefix, instruction.Path)
	case OpFileRestoreFromPkg:
		_, err := fmt.Fprintf(w, "    // %s: restore to package manager state%s\n", instruction.Path, comment)
		return err
	case OpMkdir:
		line = fmt.Sprintf("%s.mkdir(%q)", prefix, instruction.Path)
	case OpSymlink:
		line = fmt.Sprintf("%s.ln(%q, %q)", prefix, instruction.Path, instruction.Target)
	case OpMkFifo:
		line = fmt.Sprintf("%s.mkfifo(%q)", prefix, instruction.Path)
	case OpMkDevice:
		kind := "c"
		if instruction.DeviceKind == schema.KindBlockDevice {
			kind = "b"
		}
		line = fmt.Sprintf("%s.mknod(%q, %q, %d, %d)", prefix, instruction.Path, kind, instruction.Major, instruction.Minor)
	case OpChmod:
		line = fmt.Sprintf("%s.chmod(%q, 0o%o)", prefix, instruction.Path, instruction.Mode)
	case OpChown:
		line = fmt.Sprintf("%s.chown(%q, %q)", prefix, instruction.Path, instruction.Owner)
	case OpChgrp:
		line = fmt.Sprintf("%s.chgrp(%q, %q)", prefix, instruction.Path, instruction.Group)
	case OpComment:
		_, err := fmt.Fprintf(w, "    // %s: %s\n", instruction.Path, instruction.Comment)
		return err
	case OpIgnorePath, OpEarlyConfig, OpSensitiveFile:
		// Settings instructions are authored by hand, never saved.
		return nil
	default:
		return fmt.Errorf("cannot save instruction %v", instruction.Op)
	}
	return writeLine(w, line, comment)
}

func writeLine(w io.Writer, line, comment string) error {
	_, err := fmt.Fprintf(w, "    %s%s\n", line, comment)
	return err
}

// saveComment renders the trailing comment: the instruction's own
// comment plus the owning package when known.
func saveComment(instruction *Instruction, interner *intern.Interner) string {
	var parts []string
	if instruction.Comment != "" {
		parts = append(parts, instruction.Comment)
	}
	if instruction.Pkg != 0 && interner != nil {
		parts = append(parts, "owner: "+instruction.Pkg.String(interner))
	}
	if len(parts) == 0 {
		return ""
	}
	return " // " + strings.Join(parts, "; ")
}

func isSensitive(path string, globs []string) bool {
	for _, glob := range globs {
		if matched, _ := doublestar.Match(glob, path); matched {
			return true
		}
	}
	return false
}
