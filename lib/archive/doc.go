// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive stream-decodes package archives: Arch .pkg.tar with
// zstd, gzip, xz, or lz4 compression, and Debian .deb files (an ar
// container holding a nested data tarball).
//
// Two access patterns are supported. Single-path lookup reads the
// archive sequentially and stops at the first match, which keeps the
// common "show me the original /etc/foo" query cheap. Batched
// extraction walks every entry once to populate the summary cache;
// that is the slow path and its output is cached on disk.
package archive
