// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"strings"
	"testing"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

const statusFixture = `Package: libc6
Status: install ok installed
Priority: optional
Section: libs
Installed-Size: 123456
Maintainer: Some Person <person@example.com>
Architecture: arm64
Multi-Arch: same
Source: glibc
Version: 2.36-9+deb12u4
Depends: libgcc, something-else
Pre-Depends: dummy
Recommends: something (>= 2.0.5~)
Suggests: glibc-doc, debconf | debconf-2.0
Breaks: another-package (<< 1.0)
Conffiles:
 /etc/ld.so.conf 1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9a
 /etc/ld.so.conf.d/1.conf 1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9b
 /etc/old.conf 1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9c obsolete
 /etc/skip.conf newconffile
Description: Very important library
 Some multi-line description

Package: removed-tool
Status: deinstall ok config-files
Architecture: arm64
Version: 1.0-1

Package: libfoo
Status: install ok installed
Architecture: armhf
Version: 2.0-1
Provides: virtual-foo (= 2.0), other-foo
Depends: python3-attr, python3-importlib-metadata | python3 (>> 3.8), python3:any
`

func parseFixture(t *testing.T) (*intern.Interner, *StatusResult) {
	t.Helper()
	interner := intern.New()
	primary := intern.InternArch(interner, "arm64")
	result, err := ParseStatus(interner, strings.NewReader(statusFixture), primary)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	return interner, result
}

func TestParseStatusPackages(t *testing.T) {
	interner, result := parseFixture(t)
	if len(result.Packages) != 3 {
		t.Fatalf("got %d packages, want 3", len(result.Packages))
	}

	libc := result.Packages[0]
	if libc.Name.String(interner) != "libc6" {
		t.Errorf("name = %q", libc.Name.String(interner))
	}
	if libc.Version != "2.36-9+deb12u4" {
		t.Errorf("version = %q", libc.Version)
	}
	if libc.Status != schema.StatusInstalled {
		t.Errorf("status = %v", libc.Status)
	}

	// Depends is Pre-Depends ∪ Depends; Recommends is kept separate.
	var dependNames []string
	for _, dep := range libc.Depends {
		for _, alt := range dep.Alternatives {
			dependNames = append(dependNames, alt.String(interner))
		}
	}
	want := []string{"dummy", "libgcc", "something-else"}
	if len(dependNames) != len(want) {
		t.Fatalf("depends = %v, want %v", dependNames, want)
	}
	for i := range want {
		if dependNames[i] != want[i] {
			t.Errorf("depends[%d] = %q, want %q", i, dependNames[i], want[i])
		}
	}
	if len(libc.Recommends) != 1 ||
		libc.Recommends[0].Alternatives[0].String(interner) != "something" {
		t.Errorf("recommends parsed wrong: %v", libc.Recommends)
	}

	// Primary-arch package answers to both the bare and qualified name.
	if len(libc.IDs) != 2 ||
		libc.IDs[0].String(interner) != "libc6" ||
		libc.IDs[1].String(interner) != "libc6:arm64" {
		t.Errorf("libc6 IDs wrong: %v", libc.IDs)
	}

	if result.Packages[1].Status != schema.StatusConfigFiles {
		t.Errorf("removed-tool status = %v, want config-files", result.Packages[1].Status)
	}

	// Non-primary arch: only the qualified name.
	libfoo := result.Packages[2]
	if len(libfoo.IDs) != 1 || libfoo.IDs[0].String(interner) != "libfoo:armhf" {
		t.Errorf("libfoo IDs wrong: %v", libfoo.IDs)
	}
	if len(libfoo.Provides) != 2 ||
		libfoo.Provides[0].String(interner) != "virtual-foo" ||
		libfoo.Provides[1].String(interner) != "other-foo" {
		t.Errorf("provides wrong: %v", libfoo.Provides)
	}
	// Disjunction and :any stripping.
	if len(libfoo.Depends) != 3 {
		t.Fatalf("libfoo depends count = %d", len(libfoo.Depends))
	}
	disjunction := libfoo.Depends[1]
	if len(disjunction.Alternatives) != 2 ||
		disjunction.Alternatives[0].String(interner) != "python3-importlib-metadata" ||
		disjunction.Alternatives[1].String(interner) != "python3" {
		t.Errorf("disjunction wrong: %v", disjunction)
	}
	if libfoo.Depends[2].Alternatives[0].String(interner) != "python3" {
		t.Errorf(":any qualifier not stripped")
	}
}

func TestParseStatusConfFiles(t *testing.T) {
	interner, result := parseFixture(t)
	if len(result.ConfFiles) != 3 {
		t.Fatalf("got %d conffiles, want 3 (newconffile skipped): %v",
			len(result.ConfFiles), result.ConfFiles)
	}
	first := result.ConfFiles[0]
	if first.Path != "/etc/ld.so.conf" {
		t.Errorf("path = %q", first.Path)
	}
	if first.Package.String(interner) != "libc6" {
		t.Errorf("owner = %q", first.Package.String(interner))
	}
	if !first.IsConfig() {
		t.Error("conffile not flagged as config")
	}
	if first.Properties.Checksum.Kind != schema.ChecksumMD5 {
		t.Errorf("checksum kind = %v", first.Properties.Checksum.Kind)
	}
	obsolete := result.ConfFiles[2]
	if obsolete.Flags&schema.FlagObsolete == 0 {
		t.Error("obsolete conffile not flagged")
	}
}

func TestParseStatusCaseInsensitiveKeys(t *testing.T) {
	interner := intern.New()
	primary := intern.InternArch(interner, "amd64")
	input := "PACKAGE: weird\nVERSION: 1\nARCHITECTURE: amd64\nSTATUS: install ok installed\n"
	result, err := ParseStatus(interner, strings.NewReader(input), primary)
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if len(result.Packages) != 1 || result.Packages[0].Name.String(interner) != "weird" {
		t.Fatalf("case-insensitive keys not honoured: %+v", result.Packages)
	}
}

func TestParseMD5Sums(t *testing.T) {
	interner := intern.New()
	pkg := intern.InternPackage(interner, "libc6")
	input := "1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9a  usr/share/doc/libc6/README\n" +
		"1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9b  usr/share/doc/libc6/copyright\n"
	entries, err := ParseMD5Sums(pkg, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseMD5Sums: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Path != "/usr/share/doc/libc6/README" {
		t.Errorf("path = %q", entries[0].Path)
	}
	if entries[0].Properties.Checksum.Kind != schema.ChecksumMD5 {
		t.Errorf("checksum kind = %v", entries[0].Properties.Checksum.Kind)
	}
	if entries[0].Properties.HasSize {
		t.Error("md5sums entries must not claim a size")
	}
}

func TestParseFileList(t *testing.T) {
	interner := intern.New()
	pkg := intern.InternPackage(interner, "libc6")
	input := "/.\n/usr\n/usr/bin\n/usr/bin/getent\n"
	entries, err := ParseFileList(pkg, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseFileList: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	if entries[0].Path != "/" {
		t.Errorf("root path = %q, want /", entries[0].Path)
	}
	if entries[3].Properties.Kind != schema.KindUnknown {
		t.Errorf("file list entries must have unknown type, got %v", entries[3].Properties.Kind)
	}
}

func TestParseExtendedStates(t *testing.T) {
	interner := intern.New()
	input := `Package: ncal
Architecture: arm64
Auto-Installed: 1

Package: nano
Architecture: arm64
Auto-Installed: 0
`
	result, err := ParseExtendedStates(interner, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseExtendedStates: %v", err)
	}
	ncal := intern.InternPackage(interner, "ncal")
	nano := intern.InternPackage(interner, "nano")
	arm64 := intern.InternArch(interner, "arm64")
	all := intern.InternArch(interner, "all")

	if result[PkgArch{ncal, arm64}] != schema.ReasonDependency {
		t.Error("ncal/arm64 not marked dependency")
	}
	if result[PkgArch{ncal, all}] != schema.ReasonDependency {
		t.Error("ncal/all not mirrored")
	}
	if result[PkgArch{nano, arm64}] != schema.ReasonExplicit {
		t.Error("nano/arm64 not marked explicit")
	}
}

func TestParseDiversions(t *testing.T) {
	interner := intern.New()
	input := "/bin/sh\n/bin/sh.distrib\ndash\n" +
		"/usr/bin/parallel\n/usr/bin/parallel.moreutils\nparallel\n" +
		"/etc/local.conf\n/etc/local.conf.orig\n:\n"
	diversions, err := ParseDiversions(interner, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDiversions: %v", err)
	}
	if len(diversions) != 3 {
		t.Fatalf("got %d diversions, want 3", len(diversions))
	}

	dash := intern.InternPackage(interner, "dash")
	bash := intern.InternPackage(interner, "bash")

	// The diverting package keeps the original path.
	if got := diversions.Apply("/bin/sh", dash); got != "/bin/sh" {
		t.Errorf("diverter's own path rewritten to %q", got)
	}
	// Everyone else gets the diverted path.
	if got := diversions.Apply("/bin/sh", bash); got != "/bin/sh.distrib" {
		t.Errorf("diverted path = %q, want /bin/sh.distrib", got)
	}
	// Local diversion (holder ":") applies to every package.
	if got := diversions.Apply("/etc/local.conf", dash); got != "/etc/local.conf.orig" {
		t.Errorf("local diversion = %q", got)
	}
	// Undiverted paths pass through.
	if got := diversions.Apply("/bin/bash", bash); got != "/bin/bash" {
		t.Errorf("undiverted path rewritten to %q", got)
	}
}

func TestParseTriggers(t *testing.T) {
	input := "/usr/share/man man-db\n/usr/share/info/dir install-info\n\n# comment\n"
	triggers, err := ParseTriggers(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseTriggers: %v", err)
	}
	if len(triggers) != 2 || triggers["/usr/share/man"] != "man-db" {
		t.Errorf("triggers = %v", triggers)
	}
	if !triggers.Covers("/usr/share/man/man1/ls.1.gz") {
		t.Error("path under interest directory not covered")
	}
	if !triggers.Covers("/usr/share/info/dir") {
		t.Error("exact interest path not covered")
	}
	if triggers.Covers("/usr/share/manual") {
		t.Error("sibling path incorrectly covered")
	}
}

func TestParseTriggersMalformed(t *testing.T) {
	if _, err := ParseTriggers(strings.NewReader("/lonely/path\n")); err == nil {
		t.Error("triggers line without package accepted")
	}
}

func TestParseDiversionsTruncated(t *testing.T) {
	interner := intern.New()
	if _, err := ParseDiversions(interner, strings.NewReader("/bin/sh\n/bin/sh.distrib\n")); err == nil {
		t.Error("truncated diversions file accepted")
	}
}
