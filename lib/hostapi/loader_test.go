// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package hostapi

import (
	"strings"
	"testing"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/state"
)

func TestLoadScriptBasics(t *testing.T) {
	script := `
// header comment
ctx.settings.enable_pkg_backend("pacman")
ctx.settings.set_file_backend("pacman")
ctx.settings.early_config("/etc/locale.gen")
ctx.settings.sensitive_file("/etc/secrets/*")

ctx.cmds.add_pkg("pacman", "nano") // editor
ctx.cmds.remove_pkg("pacman", "ed")
ctx.cmds.mkdir("/srv/app")
ctx.cmds.chmod("/srv/app", 0o700)
ctx.cmds.chown("/srv/app", "daemon")
ctx.cmds.ln("/etc/localtime", "/usr/share/zoneinfo/UTC")
ctx.cmds.write("/etc/motd", "welcome\n")
ctx.cmds.rm("/etc/unwanted")
ctx.cmds.ignore_path("/var/log/**")
ctx.cmds.mknod("/dev/custom", "c", 10, 200)
`
	commands := NewCommands(t.TempDir())
	settings := NewSettings()
	if err := LoadScript(strings.NewReader(script), commands, settings); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	if !settings.PkgBackendEnabled(backend.Pacman) {
		t.Error("pacman backend not enabled")
	}
	if id, set := settings.FileBackend(); !set || id != backend.Pacman {
		t.Error("file backend not set")
	}

	instructions := commands.Instructions()
	ops := make(map[state.Op]int)
	for _, instruction := range instructions {
		ops[instruction.Op]++
	}
	for op, want := range map[state.Op]int{
		state.OpPkgAdd:     1,
		state.OpPkgRemove:  1,
		state.OpMkdir:      1,
		state.OpChmod:      1,
		state.OpChown:      1,
		state.OpSymlink:    1,
		state.OpFileWrite:  1,
		state.OpFileRemove: 1,
		state.OpIgnorePath: 1,
		state.OpMkDevice:   1,
	} {
		if ops[op] != want {
			t.Errorf("op %v count = %d, want %d", op, ops[op], want)
		}
	}

	for _, instruction := range instructions {
		if instruction.Op == state.OpChmod && instruction.Mode != 0o700 {
			t.Errorf("chmod mode = %o", instruction.Mode)
		}
		if instruction.Op == state.OpMkDevice &&
			(instruction.Major != 10 || instruction.Minor != 200) {
			t.Errorf("mknod device = %d:%d", instruction.Major, instruction.Minor)
		}
		if instruction.Op == state.OpFileWrite && string(instruction.Contents.Data) != "welcome\n" {
			t.Errorf("write contents = %q", instruction.Contents.Data)
		}
	}
}

func TestLoadScriptRoundTripsSaveOutput(t *testing.T) {
	// What Save emits must fold back into the same state.
	original := []state.Instruction{
		{Op: state.OpPkgAdd, Backend: backend.Pacman, PackageName: "nano"},
		{Op: state.OpMkdir, Path: "/srv/app"},
		{Op: state.OpChmod, Path: "/srv/app", Mode: 0o700},
		{Op: state.OpSymlink, Path: "/srv/link", Target: "app"},
	}
	var saved strings.Builder
	if err := state.Save(&saved, original, state.SaveOptions{Prefix: "ctx.cmds"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	commands := NewCommands(t.TempDir())
	if err := LoadScript(strings.NewReader(saved.String()), commands, NewSettings()); err != nil {
		t.Fatalf("LoadScript of save output: %v\n%s", err, saved.String())
	}

	folded, err := state.Fold(commands.Instructions(), state.FoldOptions{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	reference, err := state.Fold(original, state.FoldOptions{})
	if err != nil {
		t.Fatalf("Fold reference: %v", err)
	}
	diff, err := state.Diff(reference, folded, state.DiffOptions{Goal: state.GoalApply})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff) != 0 {
		t.Errorf("fold(save(state)) differs from state: %+v", diff)
	}
}

func TestLoadScriptErrors(t *testing.T) {
	commands := NewCommands(t.TempDir())
	settings := NewSettings()

	for _, bad := range []string{
		`ctx.cmds.add_pkg("pacman")`,
		`ctx.cmds.frobnicate("/x")`,
		`ctx.gizmos.rm("/x")`,
		`ctx.cmds.chmod("/x", 0o999)`,
		`ctx.cmds.rm("/unterminated`,
		`not a call at all`,
	} {
		if err := LoadScript(strings.NewReader(bad), commands, settings); err == nil {
			t.Errorf("accepted bad line %q", bad)
		}
	}
}

func TestStripTrailingComment(t *testing.T) {
	tests := []struct{ input, want string }{
		{`ctx.cmds.rm("/x") // gone`, `ctx.cmds.rm("/x")`},
		{`ctx.cmds.write("/x", "a//b")`, `ctx.cmds.write("/x", "a//b")`},
		{`plain`, `plain`},
	}
	for _, test := range tests {
		if got := stripTrailingComment(test.input); got != test.want {
			t.Errorf("stripTrailingComment(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}
