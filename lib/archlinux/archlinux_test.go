// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archlinux

import (
	"strings"
	"testing"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

const descFixture = `%NAME%
library-subpackage

%VERSION%
1.2.3-4

%BASE%
library-base

%DESC%
Some library

%ARCH%
x86_64

%REASON%
1

%DEPENDS%
gcc-libs
glibc
somelib=1.2.3
linux-api-headers>=4.10

%PROVIDES%
libfoo.so=1.2.3
`

func TestParseDesc(t *testing.T) {
	interner := intern.New()
	pkg, err := ParseDesc(strings.NewReader(descFixture), interner)
	if err != nil {
		t.Fatalf("ParseDesc: %v", err)
	}
	if pkg.Name.String(interner) != "library-subpackage" {
		t.Errorf("name = %q", pkg.Name.String(interner))
	}
	if pkg.Version != "1.2.3-4" {
		t.Errorf("version = %q", pkg.Version)
	}
	if pkg.Arch.String(interner) != "x86_64" {
		t.Errorf("arch = %q", pkg.Arch.String(interner))
	}
	if pkg.Reason != schema.ReasonDependency {
		t.Errorf("reason = %v, want dependency", pkg.Reason)
	}
	if pkg.Status != schema.StatusInstalled {
		t.Errorf("status = %v", pkg.Status)
	}

	var depends []string
	for _, dep := range pkg.Depends {
		depends = append(depends, dep.Alternatives[0].String(interner))
	}
	want := []string{"gcc-libs", "glibc", "somelib", "linux-api-headers"}
	if len(depends) != len(want) {
		t.Fatalf("depends = %v, want %v", depends, want)
	}
	for i := range want {
		if depends[i] != want[i] {
			t.Errorf("depends[%d] = %q, want %q", i, depends[i], want[i])
		}
	}
	if len(pkg.Provides) != 1 || pkg.Provides[0].String(interner) != "libfoo.so" {
		t.Errorf("provides = %v", pkg.Provides)
	}
}

func TestParseDescExplicitWhenNoReason(t *testing.T) {
	interner := intern.New()
	pkg, err := ParseDesc(strings.NewReader("%NAME%\nnano\n\n%VERSION%\n8.0-1\n"), interner)
	if err != nil {
		t.Fatalf("ParseDesc: %v", err)
	}
	if pkg.Reason != schema.ReasonExplicit {
		t.Errorf("reason = %v, want explicit default", pkg.Reason)
	}
}

func TestParseDescMissingName(t *testing.T) {
	interner := intern.New()
	if _, err := ParseDesc(strings.NewReader("%VERSION%\n1.0\n"), interner); err == nil {
		t.Error("desc without name accepted")
	}
}

func TestParseBackupFiles(t *testing.T) {
	input := "%FILES%\nusr/\nusr/bin/\nusr/bin/tool\netc/tool.conf\n\n%BACKUP%\netc/tool.conf\tdeadbeefdeadbeefdeadbeefdeadbeef\netc/other.conf\tfeedfacefeedfacefeedfacefeedface\n"
	backups, err := ParseBackupFiles(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseBackupFiles: %v", err)
	}
	if len(backups) != 2 || backups[0] != "/etc/tool.conf" || backups[1] != "/etc/other.conf" {
		t.Errorf("backups = %v", backups)
	}
}

func TestParseConfig(t *testing.T) {
	input := `
# pacman config
[options]
DBPath = /custom/db/
CacheDir = /custom/cache
CacheDir = /other/cache
Architecture = x86_64

[core]
Include = /etc/pacman.d/mirrorlist
`
	config, err := ParseConfig(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if config.DBPath != "/custom/db" {
		t.Errorf("DBPath = %q", config.DBPath)
	}
	if len(config.CacheDirs) != 2 || config.CacheDirs[0] != "/custom/cache" {
		t.Errorf("CacheDirs = %v", config.CacheDirs)
	}
	if config.Architecture != "x86_64" {
		t.Errorf("Architecture = %q", config.Architecture)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig(strings.NewReader("[options]\nColor\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if config.DBPath != "/var/lib/pacman" {
		t.Errorf("DBPath default = %q", config.DBPath)
	}
	if len(config.CacheDirs) != 1 || config.CacheDirs[0] != "/var/cache/pacman/pkg" {
		t.Errorf("CacheDirs default = %v", config.CacheDirs)
	}
}
