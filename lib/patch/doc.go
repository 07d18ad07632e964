// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package patch keeps one resource package's local state in step with
// its published versions.
//
// A [Pipeline] owns a package's manifests: the one shipped with the
// application (built-in) and the current one, which starts as the
// newer of the built-in and the persisted manifest and is replaced by
// [Pipeline.UpdateManifest]. Manifests are never mutated; a new one
// replaces the pointer only after it has been verified, persisted and
// reconciled, so a failed update leaves the package running on the
// last known-good version.
//
// Update proceeds in steps, one or more per Update call:
//
//	fetch version sidecar
//	  -> fresh: load persisted manifest
//	  -> stale: fetch manifest, check against sidecar, persist
//	-> reconcile cache (verify existing files on a worker pool)
//	-> done
//
// Units verified by reconciliation or download are recorded in a
// shared [cache.Index]. Downloaders built afterwards skip them, so
// running the whole pipeline twice against an unchanged host
// downloads nothing the second time.
package patch
