// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/assetpatch/lib/checksum"
)

var (
	// ErrSizeMismatch reports a file whose length differs from the
	// manifest.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrChecksumMismatch reports a file whose content hash differs
	// from the manifest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Verify reports whether the file at path has exactly expectedSize
// bytes and the expected checksum. It only reads.
func Verify(path string, expectedSize int64, expectedChecksum string) bool {
	return VerifyFile(path, expectedSize, expectedChecksum) == nil
}

// VerifyFile is Verify with the reason for rejection. A missing file
// returns an error wrapping os.ErrNotExist.
func VerifyFile(path string, expectedSize int64, expectedChecksum string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expectedSize {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, info.Size(), expectedSize)
	}

	digest, size, err := checksum.File(path)
	if err != nil {
		return err
	}
	if size != expectedSize {
		return fmt.Errorf("%w: %s read %d bytes, want %d", ErrSizeMismatch, path, size, expectedSize)
	}
	if !digest.Equal(expectedChecksum) {
		return fmt.Errorf("%w: %s is %s, want %s", ErrChecksumMismatch, path, digest, expectedChecksum)
	}
	return nil
}
