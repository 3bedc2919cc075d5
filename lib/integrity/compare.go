// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package integrity diffs expected file entries (from the package
// manager backends) against observed entries (from the scanner) and
// produces issues.
//
// Comparison for regular files is ordered cheapest-first: size, then
// mtime when trusted, then checksum. Once sizes differ the checksum
// is deliberately not computed — the file is already known to be
// modified and hashing it would only burn I/O.
package integrity

import (
	"context"
	"fmt"
	"sync"

	"github.com/stateward/stateward/lib/scanner"
	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/work"
)

// Options configures a comparison run.
type Options struct {
	// TrustMtime skips hashing when the observed mtime matches the
	// expected one.
	TrustMtime bool

	// Ignores suppresses both unexpected-file and missing-file
	// issues for matching paths.
	Ignores *scanner.IgnoreSet

	// Pool runs content hashing. Required.
	Pool *work.Pool
}

// Compare drains observed entries and diffs them against expected.
// Expected entries never observed become Missing issues; observed
// paths with no expected entry become Unexpected. Hashing runs on
// the worker pool; scan-level errors surface in the returned issues,
// not as a failure.
func Compare(ctx context.Context, expected map[string]schema.FileEntry, observed <-chan schema.FileEntry, options Options) ([]schema.Issue, error) {
	if options.Pool == nil {
		return nil, fmt.Errorf("integrity: worker pool is required")
	}

	var (
		mu     sync.Mutex
		issues []schema.Issue
	)
	addIssue := func(issue schema.Issue) {
		mu.Lock()
		issues = append(issues, issue)
		mu.Unlock()
	}

	seen := make(map[string]bool, len(expected))
	var hashTasks []*work.Task[*schema.Issue]

	for observedEntry := range observed {
		expectedEntry, known := expected[observedEntry.Path]
		if !known {
			if !options.Ignores.Match(observedEntry.Path) {
				addIssue(schema.Issue{
					Path:   observedEntry.Path,
					Actual: observedEntry.Properties,
					Kinds:  schema.IssueUnexpected,
				})
			}
			continue
		}
		seen[observedEntry.Path] = true

		issue, needsHash := compareEntry(&expectedEntry, &observedEntry, options.TrustMtime)
		if issue != nil {
			addIssue(*issue)
		}
		if needsHash {
			entry := observedEntry
			expectedCopy := expectedEntry
			hashTasks = append(hashTasks, work.Submit(options.Pool, func() (*schema.Issue, error) {
				return hashCompare(&expectedCopy, &entry)
			}))
		}
	}

	for _, task := range hashTasks {
		issue, err := task.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			addIssue(*issue)
		}
	}

	// Expected entries never observed are missing, unless ignored or
	// tolerated.
	for path, expectedEntry := range expected {
		if seen[path] || expectedEntry.Flags&schema.FlagOKIfMissing != 0 {
			continue
		}
		if expectedEntry.Properties.Kind == schema.KindRemoved {
			continue
		}
		if options.Ignores.Match(path) {
			continue
		}
		addIssue(schema.Issue{
			Path:     path,
			Expected: expectedEntry.Properties,
			Kinds:    schema.IssueMissing,
			Package:  expectedEntry.Package,
		})
	}

	return issues, nil
}

// compareEntry performs all checks that need no file content. The
// second return requests a checksum comparison on the pool.
func compareEntry(expected, observed *schema.FileEntry, trustMtime bool) (*schema.Issue, bool) {
	expectedProps := expected.Properties
	observedProps := observed.Properties

	// A negative entry: the path must not exist, yet it was observed.
	if expectedProps.Kind == schema.KindRemoved {
		return &schema.Issue{
			Path:     expected.Path,
			Expected: expectedProps,
			Actual:   observedProps,
			Kinds:    schema.IssueUnexpected,
			Package:  expected.Package,
		}, false
	}

	// Unknown expected type (dpkg list entries): existence is all
	// that can be verified.
	if expectedProps.Kind == schema.KindUnknown {
		return nil, false
	}

	// Type mismatch stops field-wise comparison. Char and block
	// devices are distinct types.
	if expectedProps.Kind != observedProps.Kind {
		return &schema.Issue{
			Path:     expected.Path,
			Expected: expectedProps.TypeOnly(),
			Actual:   observedProps.TypeOnly(),
			Kinds:    schema.IssueType,
			Package:  expected.Package,
		}, false
	}

	var kinds schema.IssueKind
	if expectedProps.HasMode && observedProps.HasMode &&
		expectedProps.Kind != schema.KindSymlink &&
		expectedProps.Mode != observedProps.Mode {
		kinds |= schema.IssueMode
	}
	if expectedProps.HasOwner && observedProps.HasOwner {
		if expectedProps.UID != observedProps.UID {
			kinds |= schema.IssueOwner
		}
		if expectedProps.GID != observedProps.GID {
			kinds |= schema.IssueGroup
		}
	}

	switch expectedProps.Kind {
	case schema.KindSymlink:
		if expectedProps.LinkTarget != observedProps.LinkTarget {
			kinds |= schema.IssueTarget
		}
	case schema.KindCharDevice, schema.KindBlockDevice:
		if expectedProps.Major != observedProps.Major || expectedProps.Minor != observedProps.Minor {
			kinds |= schema.IssueDevice
		}
	case schema.KindRegularFile:
		// Size short-circuit: once sizes differ, the checksum is
		// never computed and the issue carries no observed checksum.
		if expectedProps.HasSize && observedProps.HasSize && expectedProps.Size != observedProps.Size {
			kinds |= schema.IssueSize
			break
		}
		if expectedProps.Checksum.IsZero() {
			break
		}
		if trustMtime && expectedProps.HasMtime && observedProps.HasMtime &&
			expectedProps.MtimeSec == observedProps.MtimeSec &&
			expectedProps.MtimeNano == observedProps.MtimeNano {
			break
		}
		if kinds == 0 {
			return nil, true
		}
		// Metadata already differs; still verify content on the pool
		// by reporting the metadata issue now and requesting a hash.
		// Content and metadata issues for one path merge in review
		// output by path, so a second issue entry is acceptable.
		return &schema.Issue{
			Path:     expected.Path,
			Expected: expectedProps,
			Actual:   observedProps,
			Kinds:    kinds,
			Package:  expected.Package,
		}, true
	}

	if kinds == 0 {
		return nil, false
	}
	return &schema.Issue{
		Path:     expected.Path,
		Expected: expectedProps,
		Actual:   observedProps,
		Kinds:    kinds,
		Package:  expected.Package,
	}, false
}

// hashCompare runs on the worker pool and checks file content.
func hashCompare(expected, observed *schema.FileEntry) (*schema.Issue, error) {
	actual, err := scanner.HashFile(observed.Path, expected.Properties.Checksum.Kind)
	if err != nil {
		// Treat unreadable files as permission issues rather than
		// aborting the run.
		return &schema.Issue{
			Path:     expected.Path,
			Expected: expected.Properties,
			Actual:   observed.Properties,
			Kinds:    schema.IssuePermissionDenied,
			Package:  expected.Package,
		}, nil
	}
	equal, err := expected.Properties.Checksum.Equal(actual)
	if err != nil {
		return nil, fmt.Errorf("comparing checksums for %s: %w", expected.Path, err)
	}
	if equal {
		return nil, nil
	}
	actualProps := observed.Properties
	actualProps.Checksum = actual
	return &schema.Issue{
		Path:     expected.Path,
		Expected: expected.Properties,
		Actual:   actualProps,
		Kinds:    schema.IssueChecksum,
		Package:  expected.Package,
	}, nil
}
