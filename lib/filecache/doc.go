// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package filecache is the on-disk memoising layer in front of slow
// backend queries: original-file extraction and whole-package archive
// summaries. The Debian backend in particular must download and
// decompress archives to answer these; a populated cache turns repeat
// queries into local reads. Typical steady-state size is 50-250 MB.
//
// Layout under the cache root:
//
//	blobs/aa/bb/<blake3-hex>   content-addressed original-file bytes
//	records/<backend>/<key>.cbor  per-key records (blob refs, summaries)
//
// Records are keyed by (backend, cache version, package, package
// version, path-or-summary-marker); a version bump on either side
// invalidates stale entries naturally. Writes go through a temp file
// and atomic rename. Concurrent fetches of the same key are collapsed
// to a single writer; a failed writer abandons the entry rather than
// poisoning the cache, except that a missing upstream archive is
// recorded negatively so the network is not re-queried every run.
//
// All cache failures degrade to uncached operation: the wrapped
// backend is always authoritative.
package filecache
