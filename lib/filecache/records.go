// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// recordVersion is bumped when the record encoding changes.
const recordVersion = 1

// Key identifies one cache record. All fields participate in the
// on-disk key hash.
type Key struct {
	Backend      string
	CacheVersion uint16
	Package      string
	Version      string
	// Path is the queried path for original-file records and empty
	// for whole-package summary records.
	Path string
}

func (k Key) String() string {
	marker := k.Path
	if marker == "" {
		marker = "<summary>"
	}
	return fmt.Sprintf("%s/%d:%s=%s:%s", k.Backend, k.CacheVersion, k.Package, k.Version, marker)
}

// record is the CBOR-encoded on-disk value.
type record struct {
	RecordVersion int `cbor:"1,keyasint"`

	// Blob is the content hash of the stored original-file bytes.
	// Empty for summary records.
	Blob string `cbor:"2,keyasint,omitempty"`

	// Entries is the package summary. Nil for original-file records.
	Entries []summaryEntry `cbor:"3,keyasint,omitempty"`

	// MissingArchive records that the upstream archive could not be
	// located for this package version. Negative entry; re-checked
	// only when the package version changes.
	MissingArchive bool `cbor:"4,keyasint,omitempty"`
}

// summaryEntry is the compact per-file summary: path, type, size,
// checksum, and the metadata the status database lacks.
type summaryEntry struct {
	Path       string `cbor:"1,keyasint"`
	Kind       uint8  `cbor:"2,keyasint"`
	Mode       uint32 `cbor:"3,keyasint"`
	UID        uint32 `cbor:"4,keyasint"`
	GID        uint32 `cbor:"5,keyasint"`
	Size       uint64 `cbor:"6,keyasint,omitempty"`
	Checksum   []byte `cbor:"7,keyasint,omitempty"`
	CheckKind  uint8  `cbor:"8,keyasint,omitempty"`
	LinkTarget string `cbor:"9,keyasint,omitempty"`
	Major      uint64 `cbor:"10,keyasint,omitempty"`
	Minor      uint64 `cbor:"11,keyasint,omitempty"`
}

// encMode is configured for deterministic encoding so identical
// records produce identical bytes.
var encMode cbor.EncMode

func init() {
	options := cbor.CoreDetEncOptions()
	var err error
	encMode, err = options.EncMode()
	if err != nil {
		panic("filecache: CBOR encoder initialization failed: " + err.Error())
	}
}

func marshalRecord(r *record) ([]byte, error) {
	return encMode.Marshal(r)
}

func unmarshalRecord(data []byte) (*record, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding cache record: %w", err)
	}
	if r.RecordVersion != recordVersion {
		return nil, fmt.Errorf("cache record version %d, want %d", r.RecordVersion, recordVersion)
	}
	return &r, nil
}

// summaryFromEntries converts backend file entries to summary form.
func summaryFromEntries(entries []schema.FileEntry) []summaryEntry {
	result := make([]summaryEntry, 0, len(entries))
	for _, entry := range entries {
		properties := entry.Properties
		summary := summaryEntry{
			Path:       entry.Path,
			Kind:       uint8(properties.Kind),
			Mode:       properties.Mode,
			UID:        properties.UID,
			GID:        properties.GID,
			LinkTarget: properties.LinkTarget,
			Major:      properties.Major,
			Minor:      properties.Minor,
		}
		if properties.HasSize {
			summary.Size = properties.Size
		}
		if !properties.Checksum.IsZero() {
			summary.CheckKind = uint8(properties.Checksum.Kind)
			length := 16
			if properties.Checksum.Kind == schema.ChecksumSHA256 {
				length = 32
			}
			summary.Checksum = append([]byte(nil), properties.Checksum.Sum[:length]...)
		}
		result = append(result, summary)
	}
	return result
}

// entriesFromSummary rebuilds full file entries for a package.
func entriesFromSummary(summaries []summaryEntry, pkg intern.PackageRef) []schema.FileEntry {
	result := make([]schema.FileEntry, 0, len(summaries))
	for _, summary := range summaries {
		properties := schema.Properties{
			Kind:       schema.EntryKind(summary.Kind),
			Mode:       summary.Mode,
			HasMode:    true,
			UID:        summary.UID,
			GID:        summary.GID,
			HasOwner:   true,
			LinkTarget: summary.LinkTarget,
			Major:      summary.Major,
			Minor:      summary.Minor,
		}
		if schema.EntryKind(summary.Kind) == schema.KindRegularFile {
			properties.Size = summary.Size
			properties.HasSize = true
		}
		if summary.CheckKind != 0 {
			properties.Checksum.Kind = schema.ChecksumKind(summary.CheckKind)
			copy(properties.Checksum.Sum[:], summary.Checksum)
		}
		result = append(result, schema.FileEntry{
			Path:       summary.Path,
			Package:    pkg,
			Properties: properties,
			Source:     schema.SourcePackageManager,
		})
	}
	return result
}
