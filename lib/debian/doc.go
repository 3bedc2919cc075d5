// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package debian parses the dpkg database: the status file's
// RFC822-ish stanzas, per-package md5sums and file-list sidecars, the
// diversions table, and apt's extended_states. It produces the
// package and file records the Debian backend serves.
package debian
