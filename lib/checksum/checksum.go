// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a BLAKE3-256 digest.
type Digest [Size]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first n hex characters, used for compact content
// hashes in cache file names.
func (d Digest) Short(n int) string {
	full := d.String()
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}

// Equal reports whether the digest matches a hex string, ignoring case.
func (d Digest) Equal(hexDigest string) bool {
	return strings.EqualFold(d.String(), hexDigest)
}

// Sum hashes data.
func Sum(data []byte) Digest {
	return blake3.Sum256(data)
}

// Reader hashes everything readable from r and returns the digest and
// the number of bytes consumed.
func Reader(r io.Reader) (Digest, int64, error) {
	hasher := blake3.New()
	written, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, written, err
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, written, nil
}

// File hashes the file at path and returns its digest and size.
func File(path string) (Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, size, err := Reader(file)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, size, nil
}

// Parse decodes a 64-character hex digest.
func Parse(hexDigest string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexDigest)
	if err != nil {
		return digest, fmt.Errorf("parsing checksum: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("checksum is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}
