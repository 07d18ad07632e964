// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload turns the stored bytes of a content unit into the
// bytes a loader hands to instantiation: decryption for units marked
// encrypted, then decompression for units with a compression codec.
//
// Two [Decryptor] implementations are provided. [UnitCipher] uses
// XChaCha20-Poly1305 with a per-unit key derived by HKDF-SHA256 from a
// package master key; the unit's cache name is bound into the
// additional authenticated data, so an encrypted unit cannot be
// swapped for another. [AgeDecryptor] decrypts units sealed to age
// X25519 recipients, for publishers that distribute identities rather
// than symmetric keys.
//
// Compression uses framed zstd or LZ4 streams.
package payload
