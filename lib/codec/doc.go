// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for every binary
// record the module persists or publishes, chiefly the package
// manifest.
//
// Encoding uses RFC 8949 Core Deterministic Encoding, so the same
// manifest always serializes to the same bytes and its checksum is
// stable across publishers. Decoding ignores unknown fields so older
// clients can read manifests written by newer tooling.
package codec
