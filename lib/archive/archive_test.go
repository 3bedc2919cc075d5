// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/stateward/stateward/lib/schema"
)

// buildTar assembles a small package-like tarball.
func buildTar(t *testing.T) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)

	members := []struct {
		header tar.Header
		body   string
	}{
		{tar.Header{Name: ".PKGINFO", Typeflag: tar.TypeReg, Mode: 0o644, Size: 5}, "meta\n"},
		{tar.Header{Name: "./usr/", Typeflag: tar.TypeDir, Mode: 0o755}, ""},
		{tar.Header{Name: "./usr/bin/", Typeflag: tar.TypeDir, Mode: 0o755}, ""},
		{tar.Header{Name: "./usr/bin/hello", Typeflag: tar.TypeReg, Mode: 0o755, Size: 6,
			ModTime: time.Unix(1714089600, 0)}, "hello\n"},
		{tar.Header{Name: "./usr/bin/hi", Typeflag: tar.TypeSymlink, Mode: 0o777,
			Linkname: "hello"}, ""},
		{tar.Header{Name: "./etc/fifo", Typeflag: tar.TypeFifo, Mode: 0o600}, ""},
	}
	for _, member := range members {
		header := member.header
		if err := writer.WriteHeader(&header); err != nil {
			t.Fatalf("WriteHeader(%s): %v", header.Name, err)
		}
		if member.body != "" {
			if _, err := writer.Write([]byte(member.body)); err != nil {
				t.Fatalf("Write(%s): %v", header.Name, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	return buffer.Bytes()
}

func TestFindPathFirstMatch(t *testing.T) {
	content, err := FindPath(bytes.NewReader(buildTar(t)), "hello-pkg", "/usr/bin/hello")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("content = %q", content)
	}
}

func TestFindPathMissing(t *testing.T) {
	_, err := FindPath(bytes.NewReader(buildTar(t)), "hello-pkg", "/usr/bin/absent")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if notFound.Package != "hello-pkg" || notFound.Path != "/usr/bin/absent" {
		t.Errorf("NotFoundError = %+v", notFound)
	}
}

func TestWalkAll(t *testing.T) {
	entries, err := WalkAll(bytes.NewReader(buildTar(t)), "hello-pkg", AlgoMD5)
	if err != nil {
		t.Fatalf("WalkAll: %v", err)
	}
	// .PKGINFO is metadata, everything else is kept.
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5: %+v", len(entries), entries)
	}

	byPath := make(map[string]Entry)
	for _, entry := range entries {
		byPath[entry.Path] = entry
	}

	hello := byPath["/usr/bin/hello"]
	if hello.Properties.Kind != schema.KindRegularFile {
		t.Errorf("hello kind = %v", hello.Properties.Kind)
	}
	if hello.Properties.Mode != 0o755 {
		t.Errorf("hello mode = %o", hello.Properties.Mode)
	}
	if hello.Properties.Size != 6 {
		t.Errorf("hello size = %d", hello.Properties.Size)
	}
	wantDigest := md5.Sum([]byte("hello\n"))
	want := schema.NewMD5(wantDigest)
	equal, err := hello.Properties.Checksum.Equal(want)
	if err != nil || !equal {
		t.Errorf("hello checksum = %v, want %v", hello.Properties.Checksum, want)
	}

	if link := byPath["/usr/bin/hi"]; link.Properties.Kind != schema.KindSymlink ||
		link.Properties.LinkTarget != "hello" {
		t.Errorf("symlink entry wrong: %+v", link)
	}
	if fifo := byPath["/etc/fifo"]; fifo.Properties.Kind != schema.KindFifo {
		t.Errorf("fifo entry wrong: %+v", fifo)
	}
}

func TestDecompressAllCodecs(t *testing.T) {
	plain := buildTar(t)

	compressors := []struct {
		suffix   string
		compress func([]byte) ([]byte, error)
	}{
		{".zst", func(data []byte) ([]byte, error) {
			var buffer bytes.Buffer
			writer, err := zstd.NewWriter(&buffer)
			if err != nil {
				return nil, err
			}
			writer.Write(data)
			writer.Close()
			return buffer.Bytes(), nil
		}},
		{".gz", func(data []byte) ([]byte, error) {
			var buffer bytes.Buffer
			writer := gzip.NewWriter(&buffer)
			writer.Write(data)
			writer.Close()
			return buffer.Bytes(), nil
		}},
		{".xz", func(data []byte) ([]byte, error) {
			var buffer bytes.Buffer
			writer, err := xz.NewWriter(&buffer)
			if err != nil {
				return nil, err
			}
			writer.Write(data)
			writer.Close()
			return buffer.Bytes(), nil
		}},
		{".lz4", func(data []byte) ([]byte, error) {
			var buffer bytes.Buffer
			writer := lz4.NewWriter(&buffer)
			writer.Write(data)
			writer.Close()
			return buffer.Bytes(), nil
		}},
	}

	for _, codec := range compressors {
		t.Run(codec.suffix, func(t *testing.T) {
			compressed, err := codec.compress(plain)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			stream, closeDecoder, err := Decompress(bytes.NewReader(compressed), "pkg.tar"+codec.suffix)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			defer closeDecoder()
			content, err := FindPath(stream, "hello-pkg", "/usr/bin/hello")
			if err != nil {
				t.Fatalf("FindPath through %s: %v", codec.suffix, err)
			}
			if string(content) != "hello\n" {
				t.Errorf("content = %q", content)
			}
		})
	}
}

func TestDecompressUnknownSuffix(t *testing.T) {
	if _, _, err := Decompress(bytes.NewReader(nil), "pkg.rar"); err == nil {
		t.Error("unknown suffix accepted")
	}
}

// buildDeb assembles a minimal .deb: ar(debian-binary, control.tar.gz,
// data.tar.gz).
func buildDeb(t *testing.T, dataName string, data []byte) []byte {
	t.Helper()
	var buffer bytes.Buffer
	buffer.WriteString(arMagic)

	appendMember := func(name string, content []byte) {
		fmt.Fprintf(&buffer, "%-16s%-12d%-6d%-6d%-8s%-10d`\n", name, 0, 0, 0, "100644", len(content))
		buffer.Write(content)
		if len(content)%2 == 1 {
			buffer.WriteByte('\n')
		}
	}
	appendMember("debian-binary", []byte("2.0\n"))
	appendMember("control.tar.gz", []byte("ignored"))
	appendMember(dataName, data)
	return buffer.Bytes()
}

func TestOpenDebData(t *testing.T) {
	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	writer.Write(buildTar(t))
	writer.Close()

	deb := buildDeb(t, "data.tar.gz", compressed.Bytes())
	stream, closeDecoder, err := OpenDebData(bytes.NewReader(deb), "hello-pkg")
	if err != nil {
		t.Fatalf("OpenDebData: %v", err)
	}
	defer closeDecoder()

	content, err := FindPath(stream, "hello-pkg", "/usr/bin/hello")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("content = %q", content)
	}
}

func TestOpenDebDataUncompressedMember(t *testing.T) {
	deb := buildDeb(t, "data.tar", buildTar(t))
	stream, closeDecoder, err := OpenDebData(bytes.NewReader(deb), "hello-pkg")
	if err != nil {
		t.Fatalf("OpenDebData: %v", err)
	}
	defer closeDecoder()
	if _, err := FindPath(stream, "hello-pkg", "/usr/bin/hello"); err != nil {
		t.Fatalf("FindPath: %v", err)
	}
}

func TestOpenDebDataMissingDataMember(t *testing.T) {
	var buffer bytes.Buffer
	buffer.WriteString(arMagic)
	fmt.Fprintf(&buffer, "%-16s%-12d%-6d%-6d%-8s%-10d`\n", "debian-binary", 0, 0, 0, "100644", 4)
	buffer.WriteString("2.0\n")

	_, _, err := OpenDebData(bytes.NewReader(buffer.Bytes()), "hello-pkg")
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("error = %v, want *CorruptError", err)
	}
}

func TestOpenDebDataNotAr(t *testing.T) {
	if _, _, err := OpenDebData(bytes.NewReader([]byte("garbage garbage")), "x"); err == nil {
		t.Error("garbage accepted as .deb")
	}
}

func TestFindPathHardLinkRedirect(t *testing.T) {
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	writer.WriteHeader(&tar.Header{Name: "./a", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2})
	writer.Write([]byte("ab"))
	writer.WriteHeader(&tar.Header{Name: "./b", Typeflag: tar.TypeLink, Linkname: "./a"})
	writer.Close()

	_, err := FindPath(bytes.NewReader(buffer.Bytes()), "pkg", "/b")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want redirecting *NotFoundError", err)
	}
	if notFound.Path != "/a" {
		t.Errorf("redirect path = %q, want /a", notFound.Path)
	}
}

var _ io.Reader = arMemberReader{}
