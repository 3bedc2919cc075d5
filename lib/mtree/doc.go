// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package mtree parses the per-package file manifests shipped in the
// pacman local database (the gzip-compressed .MTREE files).
//
// A manifest is a sequence of lines. "/set" and "/unset" lines adjust
// sticky defaults inherited by later entries. Entry lines name a path
// (relative to the current directory, or to the manifest root when
// the name contains a slash) followed by key=value words. ".." lines
// pop the current directory. Filenames use vis(3)-style escapes and
// may contain arbitrary bytes; non-UTF-8 names are preserved.
package mtree
