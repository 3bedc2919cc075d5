// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"

	"github.com/stateward/stateward/lib/schema"
)

// LargeFileWarnBytes is the size above which hashing a file logs a
// warning. Hashing multi-gigabyte files is usually a sign of a
// missing ignore pattern.
const LargeFileWarnBytes = 512 * 1024 * 1024

// HashFile computes the checksum of a file's content using the
// algorithm of the given kind. The comparator calls this only when
// the cheaper size and mtime comparisons were inconclusive; callers
// route it through the worker pool.
func HashFile(path string, kind schema.ChecksumKind) (schema.Checksum, error) {
	file, err := os.Open(path)
	if err != nil {
		return schema.Checksum{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() > LargeFileWarnBytes {
		slog.Warn("hashing very large file", "path", path, "size", info.Size())
	}

	var hasher hash.Hash
	switch kind {
	case schema.ChecksumMD5:
		hasher = md5.New()
	case schema.ChecksumSHA256:
		hasher = sha256.New()
	default:
		return schema.Checksum{}, fmt.Errorf("cannot hash with checksum kind %s", kind)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return schema.Checksum{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	checksum := schema.Checksum{Kind: kind}
	copy(checksum.Sum[:], hasher.Sum(nil))
	return checksum, nil
}
