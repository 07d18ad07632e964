// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads content units from remote hosts.
//
// A [Getter] opens a remote file. [HTTPGetter] is the production
// implementation; tests substitute their own or point an HTTPGetter
// at an httptest server.
//
// Every package publishes to a primary and a fallback host
// ([Source]). A [HostSelector] picks the host for each request by
// incrementing a counter: odd counts go to the primary, even counts to
// the fallback, so a retry of a failed request usually lands on the
// other host. Whether one selector is shared process-wide or each
// download batch gets its own is a configuration choice ([Scope]).
//
// [Operation] downloads a batch of units with bounded concurrency,
// per-request timeouts, retries, and verification. Requests run on
// their own goroutines; everything else happens in Update on the tick
// goroutine, which drains finished requests from a channel and refills
// the free slots from a FIFO queue. A unit is accepted only after the
// downloaded file matches the size and checksum from the manifest.
package fetch
