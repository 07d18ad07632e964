// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes the BLAKE3 digests that identify published
// content. Content units, manifests, and version sidecars all carry
// checksums in the lowercase hex form produced by [Digest.String].
//
// Files are streamed through the hasher so memory use does not grow
// with file size.
package checksum
