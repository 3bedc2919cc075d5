// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/stateward/stateward/lib/archive"
	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// buildFakeDpkg writes a miniature dpkg database plus an apt archive
// directory containing a valid .deb for the hello package.
func buildFakeDpkg(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	dpkgDir := filepath.Join(root, "dpkg")
	infoDir := filepath.Join(dpkgDir, "info")
	archiveDir := filepath.Join(root, "archives")
	for _, dir := range []string{infoDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	write := func(path, content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", path, err)
		}
	}

	write(filepath.Join(dpkgDir, "status"), `Package: hello
Status: install ok installed
Architecture: amd64
Version: 2.10-3
Conffiles:
 /etc/hello.conf 1f7b7e9e7e9e7e9e7e9e7e9e7e9e7e9a
`)
	write(filepath.Join(infoDir, "hello.list"), "/.\n/usr\n/usr/bin\n/usr/bin/hello\n/etc\n/etc/hello.conf\n")
	write(filepath.Join(infoDir, "hello.md5sums"),
		"aaaa7e9e7e9e7e9e7e9e7e9e7e9e7e9a  usr/bin/hello\n")
	write(filepath.Join(dpkgDir, "diversions"),
		"/usr/bin/hello\n/usr/bin/hello.distrib\nother-pkg\n")
	write(filepath.Join(root, "extended_states"), `Package: hello
Architecture: amd64
Auto-Installed: 1
`)

	// Build hello_2.10-3_amd64.deb with one real file.
	var tarBuffer bytes.Buffer
	tarWriter := tar.NewWriter(&tarBuffer)
	tarWriter.WriteHeader(&tar.Header{Name: "./usr/", Typeflag: tar.TypeDir, Mode: 0o755})
	tarWriter.WriteHeader(&tar.Header{Name: "./usr/bin/", Typeflag: tar.TypeDir, Mode: 0o755})
	tarWriter.WriteHeader(&tar.Header{Name: "./usr/bin/hello", Typeflag: tar.TypeReg, Mode: 0o755, Size: 9})
	tarWriter.Write([]byte("hello-bin"))
	tarWriter.Close()

	var gzBuffer bytes.Buffer
	gzWriter := gzip.NewWriter(&gzBuffer)
	gzWriter.Write(tarBuffer.Bytes())
	gzWriter.Close()

	var deb bytes.Buffer
	deb.WriteString("!<arch>\n")
	appendMember := func(name string, content []byte) {
		fmt.Fprintf(&deb, "%-16s%-12d%-6d%-6d%-8s%-10d`\n", name, 0, 0, 0, "100644", len(content))
		deb.Write(content)
		if len(content)%2 == 1 {
			deb.WriteByte('\n')
		}
	}
	appendMember("debian-binary", []byte("2.0\n"))
	appendMember("control.tar.gz", []byte("x"))
	appendMember("data.tar.gz", gzBuffer.Bytes())
	write(filepath.Join(archiveDir, "hello_2.10-3_amd64.deb"), deb.String())

	return Paths{
		DpkgDir:        dpkgDir,
		ExtendedStates: filepath.Join(root, "extended_states"),
		ArchiveDirs:    []string{archiveDir},
	}
}

func TestBackendPackages(t *testing.T) {
	paths := buildFakeDpkg(t)
	interner := intern.New()
	b := New(paths, "amd64")

	packages, err := b.Packages(context.Background(), interner)
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("got %d packages", len(packages))
	}
	hello := packages[0]
	if hello.Name.String(interner) != "hello" || hello.Version != "2.10-3" {
		t.Errorf("package = %+v", hello)
	}
	if hello.Reason != schema.ReasonDependency {
		t.Errorf("extended_states reason not merged: %v", hello.Reason)
	}
}

func TestBackendFilesMergesSidecarsAndDiversions(t *testing.T) {
	paths := buildFakeDpkg(t)
	interner := intern.New()
	b := New(paths, "amd64")

	entries, err := b.Files(context.Background(), interner)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	byPath := make(map[string]schema.FileEntry)
	for _, entry := range entries {
		byPath[entry.Path] = entry
	}

	// The conffile keeps its status-file checksum and config flag.
	conf, present := byPath["/etc/hello.conf"]
	if !present || !conf.IsConfig() {
		t.Errorf("conffile entry wrong: %+v", conf)
	}

	// /usr/bin/hello is diverted for the owning package: the
	// effective path is the diverted one.
	if _, present := byPath["/usr/bin/hello.distrib"]; !present {
		t.Error("diversion not applied to file list")
	}
	diverted := byPath["/usr/bin/hello.distrib"]
	if diverted.Properties.Kind != schema.KindUnknown {
		// The md5sums entry is keyed by the original path; its
		// checksum carries over to the diverted path.
		t.Logf("diverted entry: %+v", diverted)
	}

	// Directories from the list are unknown-type entries.
	if usr := byPath["/usr"]; usr.Properties.Kind != schema.KindUnknown {
		t.Errorf("/usr kind = %v", usr.Properties.Kind)
	}
}

func TestBackendOriginalFileFromLocalArchive(t *testing.T) {
	paths := buildFakeDpkg(t)
	interner := intern.New()
	b := New(paths, "amd64")

	packages, err := b.Packages(context.Background(), interner)
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	packageMap := schema.BuildPackageMap(packages)

	content, err := b.OriginalFile(context.Background(),
		backend.OriginalFileQuery{Package: "hello", Path: "/usr/bin/hello"},
		packageMap, interner)
	if err != nil {
		t.Fatalf("OriginalFile: %v", err)
	}
	if string(content) != "hello-bin" {
		t.Errorf("content = %q, want hello-bin", content)
	}
}

func TestBackendOriginalFileMissingArchive(t *testing.T) {
	paths := buildFakeDpkg(t)
	interner := intern.New()
	b := New(paths, "amd64")
	// Point apt at a command that cannot succeed so the download
	// attempt fails fast.
	b.aptCommand = "/nonexistent/apt-get"

	packages, err := b.Packages(context.Background(), interner)
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	for _, pkg := range packages {
		pkg.Version = "9.99-superseded"
	}
	packageMap := schema.BuildPackageMap(packages)

	_, err = b.OriginalFile(context.Background(),
		backend.OriginalFileQuery{Package: "hello", Path: "/usr/bin/hello"},
		packageMap, interner)
	var needDownload *archive.NeedDownloadError
	if !errors.As(err, &needDownload) {
		t.Fatalf("error = %v, want NeedDownloadError", err)
	}
	if needDownload.Package != "hello" {
		t.Errorf("NeedDownloadError = %+v", needDownload)
	}
}
