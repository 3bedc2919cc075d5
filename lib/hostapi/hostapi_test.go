// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package hostapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/state"
)

func TestCommandsCanonicalisePaths(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.Mkdir("/etc//app/../app/conf.d/"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	instructions := commands.Instructions()
	if len(instructions) != 1 || instructions[0].Path != "/etc/app/conf.d" {
		t.Errorf("path not canonicalised: %+v", instructions)
	}
}

func TestCommandsRejectRelativePaths(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.Mkdir("etc/app"); err == nil {
		t.Error("relative path accepted")
	}
}

func TestCommandsWriteAndChmod(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.Write("/etc/motd", []byte("hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := commands.Chmod("/etc/motd", "0o600"); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if err := commands.Chmod("/etc/motd", 0o644); err != nil {
		t.Fatalf("Chmod int: %v", err)
	}

	instructions := commands.Instructions()
	if instructions[0].Op != state.OpFileWrite || instructions[0].Contents == nil {
		t.Errorf("write instruction wrong: %+v", instructions[0])
	}
	if instructions[1].Mode != 0o600 {
		t.Errorf("string mode = %o", instructions[1].Mode)
	}
	if instructions[2].Mode != 0o644 {
		t.Errorf("int mode = %o", instructions[2].Mode)
	}
}

func TestCommandsChmodRejectsBadModes(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.Chmod("/x", "worldwritable"); err == nil {
		t.Error("non-octal mode accepted")
	}
	if err := commands.Chmod("/x", 0o100000); err == nil {
		t.Error("out-of-range mode accepted")
	}
}

func TestCommandsCopyUsesFilesTree(t *testing.T) {
	configDir := t.TempDir()
	sourcePath := filepath.Join(configDir, "files/etc/fstab")
	if err := os.MkdirAll(filepath.Dir(sourcePath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(sourcePath, []byte("fs-content\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	commands := NewCommands(configDir)
	if !commands.HasSourceFile("/etc/fstab") {
		t.Error("HasSourceFile = false for existing source")
	}
	if commands.HasSourceFile("/etc/absent") {
		t.Error("HasSourceFile = true for missing source")
	}

	if err := commands.Copy("/etc/fstab"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	instruction := commands.Instructions()[0]
	if instruction.Op != state.OpFileCopyFromConfig {
		t.Errorf("op = %v", instruction.Op)
	}
	if instruction.Contents.SourcePath != filepath.Join("files", "etc/fstab") {
		t.Errorf("source = %q", instruction.Contents.SourcePath)
	}
	if instruction.Contents.Checksum.IsZero() {
		t.Error("copy did not checksum the source content")
	}
}

func TestCommandsCopyMissingSource(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.Copy("/etc/fstab"); err == nil {
		t.Error("copy of missing source accepted")
	}
}

func TestCommandsPackageOps(t *testing.T) {
	commands := NewCommands(t.TempDir())
	if err := commands.AddPkg("pacman", "nano"); err != nil {
		t.Fatalf("AddPkg: %v", err)
	}
	if err := commands.RemovePkg("apt", "ed"); err != nil {
		t.Fatalf("RemovePkg: %v", err)
	}
	if err := commands.AddPkg("portage", "sys-apps/nano"); err == nil {
		t.Error("unknown backend accepted")
	}

	instructions := commands.Instructions()
	if instructions[0].Backend != backend.Pacman || instructions[0].Op != state.OpPkgAdd {
		t.Errorf("add instruction = %+v", instructions[0])
	}
	if instructions[1].Backend != backend.Apt || instructions[1].Op != state.OpPkgRemove {
		t.Errorf("remove instruction = %+v", instructions[1])
	}
}

func TestSettingsDefaults(t *testing.T) {
	settings := NewSettings()
	sensitive := settings.SensitiveGlobs()
	found := false
	for _, glob := range sensitive {
		if glob == "/etc/shadow" {
			found = true
		}
	}
	if !found {
		t.Errorf("default sensitive globs missing /etc/shadow: %v", sensitive)
	}
	if settings.SavePrefix() != "ctx.cmds" {
		t.Errorf("default save prefix = %q", settings.SavePrefix())
	}
}

func TestSettingsFileBackendConflict(t *testing.T) {
	settings := NewSettings()
	if err := settings.SetFileBackend("pacman"); err != nil {
		t.Fatalf("SetFileBackend: %v", err)
	}
	if err := settings.SetFileBackend("pacman"); err != nil {
		t.Errorf("idempotent re-set rejected: %v", err)
	}
	if err := settings.SetFileBackend("apt"); err == nil {
		t.Error("conflicting file backend accepted")
	}
	id, set := settings.FileBackend()
	if !set || id != backend.Pacman {
		t.Errorf("FileBackend = %v, %v", id, set)
	}
}

func TestSettingsAccessorsCopy(t *testing.T) {
	settings := NewSettings()
	settings.EarlyConfig("/etc/custom")
	globs := settings.EarlyGlobs()
	globs[0] = "mutated"
	if settings.EarlyGlobs()[0] == "mutated" {
		t.Error("EarlyGlobs returned internal slice")
	}
}
