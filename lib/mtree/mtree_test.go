// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package mtree

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/stateward/stateward/lib/schema"
)

const sampleManifest = `#mtree
/set type=file uid=0 gid=0 mode=644
./.BUILDINFO time=1714089600.0 size=5574 sha256digest=e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
/set mode=755
./usr time=1714089600.0 type=dir
./usr/bin time=1714089600.0 type=dir
./usr/bin/nano time=1714089600.123456789 size=283648 sha256digest=ffc1c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b800
./usr/bin/rnano time=1714089600.0 type=link link=nano
`

func parseText(t *testing.T, text string) []schema.FileEntry {
	t.Helper()
	entries, err := ParseDecompressed(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseDecompressed: %v", err)
	}
	return entries
}

func findEntry(t *testing.T, entries []schema.FileEntry, path string) schema.FileEntry {
	t.Helper()
	for _, entry := range entries {
		if entry.Path == path {
			return entry
		}
	}
	t.Fatalf("no entry for %s in %d entries", path, len(entries))
	return schema.FileEntry{}
}

func TestParseFullPaths(t *testing.T) {
	entries := parseText(t, sampleManifest)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}

	nano := findEntry(t, entries, "/usr/bin/nano")
	if nano.Properties.Kind != schema.KindRegularFile {
		t.Errorf("kind = %v, want file", nano.Properties.Kind)
	}
	if nano.Properties.Mode != 0o755 || !nano.Properties.HasMode {
		t.Errorf("mode = %o (has=%v), want 755", nano.Properties.Mode, nano.Properties.HasMode)
	}
	if nano.Properties.Size != 283648 || !nano.Properties.HasSize {
		t.Errorf("size = %d, want 283648", nano.Properties.Size)
	}
	if nano.Properties.MtimeSec != 1714089600 || nano.Properties.MtimeNano != 123456789 {
		t.Errorf("mtime = %d.%d", nano.Properties.MtimeSec, nano.Properties.MtimeNano)
	}
	if nano.Properties.Checksum.Kind != schema.ChecksumSHA256 {
		t.Errorf("checksum kind = %v", nano.Properties.Checksum.Kind)
	}

	link := findEntry(t, entries, "/usr/bin/rnano")
	if link.Properties.Kind != schema.KindSymlink {
		t.Errorf("kind = %v, want link", link.Properties.Kind)
	}
	if link.Properties.LinkTarget != "nano" {
		t.Errorf("target = %q, want nano", link.Properties.LinkTarget)
	}

	buildinfo := findEntry(t, entries, "/.BUILDINFO")
	if buildinfo.Properties.Mode != 0o644 {
		t.Errorf(".BUILDINFO mode = %o, want 644 from earlier /set", buildinfo.Properties.Mode)
	}
}

func TestParseSetDefaultsOverriddenPerEntry(t *testing.T) {
	entries := parseText(t, `
/set type=file uid=0 gid=0 mode=644
./etc type=dir mode=755
./etc/shadow mode=600 uid=0 gid=0 time=1.0 size=10 sha256digest=e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
./etc/passwd time=1.0 size=20 sha256digest=e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
`)
	shadow := findEntry(t, entries, "/etc/shadow")
	if shadow.Properties.Mode != 0o600 {
		t.Errorf("shadow mode = %o, want 600", shadow.Properties.Mode)
	}
	// The per-entry override must not leak into the next entry.
	passwd := findEntry(t, entries, "/etc/passwd")
	if passwd.Properties.Mode != 0o644 {
		t.Errorf("passwd mode = %o, want 644 from /set", passwd.Properties.Mode)
	}
}

func TestParseRelativeTraversal(t *testing.T) {
	entries := parseText(t, `
/set uid=0 gid=0 mode=755
a type=dir
b type=dir
leaf type=file mode=644
..
..
top type=file mode=644
`)
	if entries[2].Path != "/a/b/leaf" {
		t.Errorf("leaf path = %q, want /a/b/leaf", entries[2].Path)
	}
	if entries[3].Path != "/top" {
		t.Errorf("top path = %q, want /top", entries[3].Path)
	}
}

func TestParseDotDotAboveRootCapped(t *testing.T) {
	entries := parseText(t, `
/set uid=0 gid=0 mode=755
..
..
file type=file mode=644
`)
	if entries[0].Path != "/file" {
		t.Errorf("path = %q, want /file (ascent above root capped)", entries[0].Path)
	}
}

func TestParseEscapedNames(t *testing.T) {
	entries := parseText(t, `
/set uid=0 gid=0 mode=644 type=file
./with\040space size=1
./tab\011name size=1
`)
	if entries[0].Path != "/with space" {
		t.Errorf("octal escape: path = %q", entries[0].Path)
	}
	if entries[1].Path != "/tab\tname" {
		t.Errorf("tab escape: path = %q", entries[1].Path)
	}
}

func TestUnescapeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`plain`, "plain"},
		{`a\040b`, "a b"},
		{`a\134b`, `a\b`},
		{`a\nb`, "a\nb"},
		{`\#foo\#`, "#foo#"},
		{`a\M-Ab`, "a\xc1b"},
		{`a\M^Ab`, "a\x81b"},
		{`a\^Ib`, "a\tb"},
		{`a\^?b`, "a\x7fb"},
		{`\303\251`, "\xc3\xa9"},
	}
	for _, test := range tests {
		got, err := unescapeName([]byte(test.input))
		if err != nil {
			t.Errorf("unescapeName(%q): %v", test.input, err)
			continue
		}
		if !bytes.Equal(got, []byte(test.want)) {
			t.Errorf("unescapeName(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestUnescapeNameInvalid(t *testing.T) {
	// The escape table is closed: the backslash itself must be
	// octal-escaped, octal runs are exactly three digits, and the
	// control and meta encodings only accept their defined ranges.
	for _, input := range []string{
		`a\\b`,
		`a\zb`,
		`trailing\`,
		`short\04`,
		`bad\089`,
		`a\^1b`,
		`a\M-~b`,
		`a\M+Ab`,
		`a\Mb`,
	} {
		if _, err := unescapeName([]byte(input)); err == nil {
			t.Errorf("unescapeName(%q) accepted an invalid escape", input)
		}
	}
}

func TestParseMalformedRecord(t *testing.T) {
	_, err := ParseDecompressed(strings.NewReader(`
/set uid=0 gid=0
./broken type=file mode=notoctal
`))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if parseErr.Line != 3 {
		t.Errorf("error line = %d, want 3", parseErr.Line)
	}
}

func TestParseMissingType(t *testing.T) {
	_, err := ParseDecompressed(strings.NewReader("./orphan mode=644 uid=0 gid=0\n"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
}

func TestParseUnknownKeywordSkipped(t *testing.T) {
	entries := parseText(t, `
/set uid=0 gid=0 mode=644 type=file
./file size=3 frobnicate=yes
`)
	if len(entries) != 1 || entries[0].Path != "/file" {
		t.Fatalf("unknown keyword broke the record: %+v", entries)
	}
}

func TestParseGzipStream(t *testing.T) {
	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write([]byte(sampleManifest)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	entries, err := Parse(&compressed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries, want 5", len(entries))
	}
}

func TestParseDeviceNode(t *testing.T) {
	entries := parseText(t, `
/set uid=0 gid=0 mode=644
./dev type=dir mode=755
./dev/null type=char mode=666 device=linux,1,3
`)
	null := findEntry(t, entries, "/dev/null")
	if null.Properties.Kind != schema.KindCharDevice {
		t.Errorf("kind = %v, want char", null.Properties.Kind)
	}
	if null.Properties.Major != 1 || null.Properties.Minor != 3 {
		t.Errorf("device = %d:%d, want 1:3", null.Properties.Major, null.Properties.Minor)
	}
}
