// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the data model shared between the package
// manager backends, the filesystem scanner, the integrity comparator,
// and the reconciliation state machine: file properties, checksums,
// package records, and issues.
//
// Values in this package are immutable snapshots. A FileEntry produced
// by a backend describes what a package prescribes; one produced by
// the scanner describes what is on disk. Neither is ever mutated after
// construction.
package schema
