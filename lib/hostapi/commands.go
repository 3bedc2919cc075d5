// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostapi is the stable surface the embedded script host
// consumes: command primitives that append to the instruction
// stream, package-manager views, and run settings. The script host
// is dynamically typed; this package is the conversion boundary
// where its values become the closed instruction set.
package hostapi

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/state"
)

// Commands accumulates the instruction stream as the configuration
// scripts run. Paths are canonicalised on entry, so duplicated
// spellings of one path cannot produce duplicated state entries.
type Commands struct {
	// ConfigDir locates copy sources under files/.
	ConfigDir string

	instructions []state.Instruction
}

// NewCommands returns a command collector for the given config
// directory.
func NewCommands(configDir string) *Commands {
	return &Commands{ConfigDir: configDir}
}

// Instructions returns the accumulated stream.
func (c *Commands) Instructions() []state.Instruction {
	return c.instructions
}

// cleanPath canonicalises a user-supplied absolute path at the
// earliest observation.
func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q is not absolute", p)
	}
	return path.Clean(p), nil
}

// IgnorePath excludes a glob from scanning and reporting.
func (c *Commands) IgnorePath(glob string) error {
	c.instructions = append(c.instructions, state.Instruction{Op: state.OpIgnorePath, Path: glob})
	return nil
}

// AddPkg declares a package as desired.
func (c *Commands) AddPkg(packageManager, identifier string) error {
	id, err := backend.ParseID(packageManager)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpPkgAdd, Backend: id, PackageName: identifier,
	})
	return nil
}

// RemovePkg declares a package as unwanted.
func (c *Commands) RemovePkg(packageManager, identifier string) error {
	id, err := backend.ParseID(packageManager)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpPkgRemove, Backend: id, PackageName: identifier,
	})
	return nil
}

// Rm declares that a path must not exist.
func (c *Commands) Rm(p string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{Op: state.OpFileRemove, Path: cleaned})
	return nil
}

// Mkdir declares a directory.
func (c *Commands) Mkdir(p string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{Op: state.OpMkdir, Path: cleaned})
	return nil
}

// sourceFor maps a target path to its config-directory source.
func (c *Commands) sourceFor(target string) string {
	return filepath.Join("files", strings.TrimPrefix(target, "/"))
}

// HasSourceFile reports whether files/<path> exists in the config
// directory; scripts branch on it to handle hosts with and without a
// saved copy.
func (c *Commands) HasSourceFile(p string) bool {
	cleaned, err := cleanPath(p)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(filepath.Join(c.ConfigDir, c.sourceFor(cleaned)))
	return statErr == nil
}

// Copy declares file content from files/<path> in the config
// directory.
func (c *Commands) Copy(p string) error {
	return c.CopyFrom(p, "")
}

// CopyFrom declares file content from an explicit config-relative
// source.
func (c *Commands) CopyFrom(p, source string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	if source == "" {
		source = c.sourceFor(cleaned)
	}
	fullSource := source
	if !filepath.IsAbs(fullSource) {
		fullSource = filepath.Join(c.ConfigDir, source)
	}
	content, err := os.ReadFile(fullSource)
	if err != nil {
		return fmt.Errorf("reading config source for %s: %w", cleaned, err)
	}
	contents := state.LiteralContents(content)
	contents.Data = nil
	contents.SourcePath = source
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpFileCopyFromConfig, Path: cleaned, Contents: contents,
	})
	return nil
}

// Write declares literal file content.
func (c *Commands) Write(p string, contents []byte) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpFileWrite, Path: cleaned, Contents: state.LiteralContents(contents),
	})
	return nil
}

// Ln declares a symlink.
func (c *Commands) Ln(p, target string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpSymlink, Path: cleaned, Target: target,
	})
	return nil
}

// MkFifo declares a named pipe.
func (c *Commands) MkFifo(p string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{Op: state.OpMkFifo, Path: cleaned})
	return nil
}

// MkNod declares a device node; kind is "b" or "c".
func (c *Commands) MkNod(p, kind string, major, minor uint64) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	var deviceKind schema.EntryKind
	switch kind {
	case "b":
		deviceKind = schema.KindBlockDevice
	case "c":
		deviceKind = schema.KindCharDevice
	default:
		return fmt.Errorf("device kind %q must be \"b\" or \"c\"", kind)
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpMkDevice, Path: cleaned, DeviceKind: deviceKind, Major: major, Minor: minor,
	})
	return nil
}

// Chmod declares a mode. The script host passes either an integer or
// an octal string ("0o644", "644").
func (c *Commands) Chmod(p string, mode any) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	parsed, err := parseMode(mode)
	if err != nil {
		return fmt.Errorf("chmod %s: %w", cleaned, err)
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpChmod, Path: cleaned, Mode: parsed,
	})
	return nil
}

// Chown declares a file owner by name or numeric string.
func (c *Commands) Chown(p, owner string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpChown, Path: cleaned, Owner: owner,
	})
	return nil
}

// Chgrp declares a file group by name or numeric string.
func (c *Commands) Chgrp(p, group string) error {
	cleaned, err := cleanPath(p)
	if err != nil {
		return err
	}
	c.instructions = append(c.instructions, state.Instruction{
		Op: state.OpChgrp, Path: cleaned, Group: group,
	})
	return nil
}

// parseMode accepts the mode encodings the dynamic host produces.
func parseMode(mode any) (uint32, error) {
	switch value := mode.(type) {
	case int:
		if value < 0 || value > 0o7777 {
			return 0, fmt.Errorf("mode %d out of range", value)
		}
		return uint32(value), nil
	case int64:
		return parseMode(int(value))
	case uint32:
		return value, nil
	case string:
		text := strings.TrimPrefix(strings.TrimPrefix(value, "0o"), "0O")
		parsed, err := strconv.ParseUint(text, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("parsing mode %q as octal: %w", value, err)
		}
		if parsed > 0o7777 {
			return 0, fmt.Errorf("mode %q out of range", value)
		}
		return uint32(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported mode type %T", mode)
	}
}
