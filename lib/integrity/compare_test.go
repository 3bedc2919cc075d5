// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stateward/stateward/lib/scanner"
	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/work"
)

func regularExpectation(path string, content []byte, mode uint32) schema.FileEntry {
	return schema.FileEntry{
		Path: path,
		Properties: schema.Properties{
			Kind:     schema.KindRegularFile,
			Mode:     mode,
			HasMode:  true,
			HasOwner: true,
			UID:      uint32(os.Getuid()),
			GID:      uint32(os.Getgid()),
			Size:     uint64(len(content)),
			HasSize:  true,
			Checksum: schema.NewSHA256(sha256.Sum256(content)),
		},
		Source: schema.SourcePackageManager,
	}
}

// runCompare scans a real temp tree and compares against expected.
func runCompare(t *testing.T, root string, expected map[string]schema.FileEntry, options Options) []schema.Issue {
	t.Helper()
	pool := work.NewPool(2)
	defer pool.Close()
	options.Pool = pool

	entries, _ := scanner.Scan(context.Background(), scanner.Options{Root: root, Ignores: options.Ignores})
	issues, err := Compare(context.Background(), expected, entries, options)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	return issues
}

func issueFor(issues []schema.Issue, path string) *schema.Issue {
	for i := range issues {
		if issues[i].Path == path {
			return &issues[i]
		}
	}
	return nil
}

func TestCompareCleanTree(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ok")
	content := []byte("unchanged\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	expected := map[string]schema.FileEntry{
		path: regularExpectation(path, content, 0o644),
	}
	issues := runCompare(t, root, expected, Options{})
	if len(issues) != 0 {
		t.Errorf("clean tree produced issues: %+v", issues)
	}
}

func TestCompareChecksumMismatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "drifted")
	if err := os.WriteFile(path, []byte("new-bytes!\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Same length, different content: size check passes, hash must
	// catch the drift.
	expected := map[string]schema.FileEntry{
		path: regularExpectation(path, []byte("old-bytes!\n"), 0o644),
	}
	issues := runCompare(t, root, expected, Options{})
	issue := issueFor(issues, path)
	if issue == nil {
		t.Fatal("checksum drift not reported")
	}
	if !issue.Kinds.Has(schema.IssueChecksum) {
		t.Errorf("kinds = %v, want checksum", issue.Kinds)
	}
	if issue.Actual.Checksum.IsZero() {
		t.Error("checksum issue must carry the observed checksum")
	}
}

func TestCompareSizeShortCircuit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "grown")
	if err := os.WriteFile(path, []byte("longer content\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	expected := map[string]schema.FileEntry{
		path: regularExpectation(path, []byte("short\n"), 0o644),
	}
	issues := runCompare(t, root, expected, Options{})
	issue := issueFor(issues, path)
	if issue == nil {
		t.Fatal("size drift not reported")
	}
	if !issue.Kinds.Has(schema.IssueSize) {
		t.Errorf("kinds = %v, want size", issue.Kinds)
	}
	if issue.Kinds.Has(schema.IssueChecksum) {
		t.Error("checksum compared despite size mismatch")
	}
	// The short-circuit property: the observed checksum is absent.
	if !issue.Actual.Checksum.IsZero() {
		t.Error("observed checksum computed despite size mismatch")
	}
}

func TestCompareTrustMtimeSkipsHash(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "trusted")
	if err := os.WriteFile(path, []byte("same-size-A\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	expectation := regularExpectation(path, []byte("same-size-B\n"), 0o644)
	expectation.Properties.MtimeSec = info.ModTime().Unix()
	expectation.Properties.MtimeNano = int64(info.ModTime().Nanosecond())
	expectation.Properties.HasMtime = true

	issues := runCompare(t, root, map[string]schema.FileEntry{path: expectation},
		Options{TrustMtime: true})
	if issue := issueFor(issues, path); issue != nil {
		t.Errorf("trust-mtime did not skip content check: %+v", issue)
	}

	// Without trust-mtime the same drift is caught.
	issues = runCompare(t, root, map[string]schema.FileEntry{path: expectation}, Options{})
	if issue := issueFor(issues, path); issue == nil || !issue.Kinds.Has(schema.IssueChecksum) {
		t.Error("content drift missed with trust-mtime off")
	}
}

func TestCompareTypeMismatchStopsFieldComparison(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "wastype")
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	expected := map[string]schema.FileEntry{
		path: regularExpectation(path, []byte("x"), 0o644),
	}
	issues := runCompare(t, root, expected, Options{})
	issue := issueFor(issues, path)
	if issue == nil {
		t.Fatal("type mismatch not reported")
	}
	if issue.Kinds != schema.IssueType {
		t.Errorf("kinds = %v, want exactly type", issue.Kinds)
	}
}

func TestCompareMissingAndUnexpected(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "stray"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	missingPath := filepath.Join(root, "gone")
	expected := map[string]schema.FileEntry{
		missingPath: regularExpectation(missingPath, []byte("x"), 0o644),
	}
	issues := runCompare(t, root, expected, Options{})

	if issue := issueFor(issues, missingPath); issue == nil || !issue.Kinds.Has(schema.IssueMissing) {
		t.Errorf("missing file not reported: %+v", issues)
	}
	if issue := issueFor(issues, filepath.Join(root, "stray")); issue == nil || !issue.Kinds.Has(schema.IssueUnexpected) {
		t.Errorf("unexpected file not reported: %+v", issues)
	}
}

func TestCompareIgnoreSuppressesBothDirections(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "x"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "x/stray"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ignores, err := scanner.NewIgnoreSet(filepath.Join(root, "x") + "/**")
	if err != nil {
		t.Fatalf("NewIgnoreSet: %v", err)
	}
	missingPath := filepath.Join(root, "x/gone")
	expected := map[string]schema.FileEntry{
		missingPath: regularExpectation(missingPath, []byte("x"), 0o644),
	}
	issues := runCompare(t, root, expected, Options{Ignores: ignores})
	if len(issues) != 0 {
		t.Errorf("ignored subtree still produced issues: %+v", issues)
	}
}

func TestCompareModeDrift(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "loose")
	content := []byte("content\n")
	if err := os.WriteFile(path, content, 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	expected := map[string]schema.FileEntry{
		path: regularExpectation(path, content, 0o600),
	}
	issues := runCompare(t, root, expected, Options{})
	issue := issueFor(issues, path)
	if issue == nil || !issue.Kinds.Has(schema.IssueMode) {
		t.Errorf("mode drift not reported: %+v", issues)
	}
}

func TestCompareOKIfMissing(t *testing.T) {
	root := t.TempDir()
	missingPath := filepath.Join(root, "backup-file")
	expectation := regularExpectation(missingPath, []byte("x"), 0o644)
	expectation.Flags = schema.FlagOKIfMissing

	issues := runCompare(t, root, map[string]schema.FileEntry{missingPath: expectation}, Options{})
	if len(issues) != 0 {
		t.Errorf("tolerated-missing file reported: %+v", issues)
	}
}
