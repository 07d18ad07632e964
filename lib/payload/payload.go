// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// ErrNoDecryptor reports an encrypted unit in a package configured
// without a decryptor.
var ErrNoDecryptor = errors.New("unit is encrypted but no decryptor is configured")

// Decryptor recovers the plaintext of an encrypted unit.
type Decryptor interface {
	Decrypt(unit manifest.ContentUnit, data []byte) ([]byte, error)
}

// Decoder applies decryption and decompression. The zero value
// decompresses but rejects encrypted units. Safe for concurrent use
// when its Decryptor is.
type Decoder struct {
	Decryptor Decryptor

	// MaxDecodedSize caps the decompressed size of a unit. Zero
	// means DefaultMaxDecodedSize.
	MaxDecodedSize int64
}

// Decode returns the usable bytes of a unit.
func (d Decoder) Decode(unit manifest.ContentUnit, data []byte) ([]byte, error) {
	if unit.IsEncrypted {
		if d.Decryptor == nil {
			return nil, fmt.Errorf("decoding %s: %w", unit.ID, ErrNoDecryptor)
		}
		plaintext, err := d.Decryptor.Decrypt(unit, data)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", unit.ID, err)
		}
		data = plaintext
	}

	codec, err := ParseCompression(unit.Compression)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", unit.ID, err)
	}
	decompressed, err := DecompressLimit(codec, data, d.MaxDecodedSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", unit.ID, err)
	}
	return decompressed, nil
}
