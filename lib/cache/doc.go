// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache owns the on-disk sandbox where downloaded content
// units and persisted manifests live, and decides which cached files
// can be trusted.
//
// Layout under the sandbox root:
//
//	cache/<package>/<unitId>_<hash>     content unit files
//	manifests/<package>.manifest        last successfully fetched manifest
//	cache_record.json                   cache generation record
//	.lock                               advisory lock held by the owner
//
// A cache file is valid only after [Verify] confirms its size and
// checksum against the manifest. Files that fail verification are
// deleted, never repaired in place; the download path refetches them.
//
// [VerifyPool] runs verifications on a bounded set of goroutines and
// hands results back through a channel that the single tick goroutine
// drains with [VerifyPool.Poll]. Workers touch only the file named by
// their job, so two workers never contend for the same path.
//
// [Index] remembers which files have been verified during this process
// lifetime so each file is hashed at most once.
package cache
