// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// KeySize is the length of a package master key.
const KeySize = 32

// blobVersion prefixes every sealed unit and is authenticated with it.
const blobVersion byte = 0x01

// blobOverhead is version byte + nonce + Poly1305 tag.
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var unitKeyInfo = []byte("bureau.assets.unit.v1")

// UnitCipher seals and opens content units under one package master
// key. Sealed layout:
//
//	[version: 1] [nonce: 24] [ciphertext + tag]
type UnitCipher struct {
	masterKey []byte
}

// NewUnitCipher copies a 32-byte master key.
func NewUnitCipher(masterKey []byte) (*UnitCipher, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("unit master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	return &UnitCipher{masterKey: append([]byte(nil), masterKey...)}, nil
}

// LoadUnitCipher reads a master key file holding either 32 raw bytes
// or 64 hex characters.
func LoadUnitCipher(path string) (*UnitCipher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading unit key: %w", err)
	}
	if len(data) == KeySize {
		return NewUnitCipher(data)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(key) != KeySize {
		return nil, fmt.Errorf("unit key %s is neither %d raw bytes nor %d hex characters", path, KeySize, 2*KeySize)
	}
	return NewUnitCipher(key)
}

// Seal encrypts plaintext for unit. The unit's Hash is not yet known
// when publishing encrypted content, so only the id is bound.
func (c *UnitCipher) Seal(unitID string, plaintext []byte) ([]byte, error) {
	aead, err := c.aead(unitID)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	sealed[0] = blobVersion
	if _, err := io.ReadFull(rand.Reader, sealed[1:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Seal(sealed, nonce, plaintext, additionalData(unitID)), nil
}

// Decrypt implements Decryptor.
func (c *UnitCipher) Decrypt(unit manifest.ContentUnit, data []byte) ([]byte, error) {
	if len(data) < blobOverhead {
		return nil, fmt.Errorf("sealed unit is %d bytes, minimum is %d", len(data), blobOverhead)
	}
	if data[0] != blobVersion {
		return nil, fmt.Errorf("sealed unit version %d is not supported", data[0])
	}
	aead, err := c.aead(unit.ID)
	if err != nil {
		return nil, err
	}
	nonce := data[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, data[1+chacha20poly1305.NonceSizeX:], additionalData(unit.ID))
	if err != nil {
		return nil, fmt.Errorf("authentication failed (wrong key or tampered unit): %w", err)
	}
	return plaintext, nil
}

func (c *UnitCipher) aead(unitID string) (cipher.AEAD, error) {
	info := append(append([]byte(nil), unitKeyInfo...), unitID...)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("deriving unit key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}

func additionalData(unitID string) []byte {
	return append([]byte{blobVersion}, unitID...)
}
