// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Decompress wraps r with the decompressor selected by the filename
// suffix. Returns the plain stream and a close function releasing
// decoder resources. Unsuffixed names (data.tar) pass through.
func Decompress(r io.Reader, filename string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(filename, ".zst"):
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return decoder.IOReadCloser(), decoder.Close, nil

	case strings.HasSuffix(filename, ".gz"):
		decoder, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return decoder, func() { decoder.Close() }, nil

	case strings.HasSuffix(filename, ".xz"):
		decoder, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return decoder, func() {}, nil

	case strings.HasSuffix(filename, ".bz2"):
		return bzip2.NewReader(r), func() {}, nil

	case strings.HasSuffix(filename, ".lz4"):
		return lz4.NewReader(r), func() {}, nil

	case strings.HasSuffix(filename, ".tar"):
		return r, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unrecognised archive compression in %q", filename)
	}
}
