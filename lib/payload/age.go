// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// AgeDecryptor opens units encrypted to age X25519 recipients.
type AgeDecryptor struct {
	identities []age.Identity
}

// NewAgeDecryptor parses an identity file (one or more
// AGE-SECRET-KEY-1... lines, comments allowed).
func NewAgeDecryptor(identityFile []byte) (*AgeDecryptor, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(identityFile))
	if err != nil {
		return nil, fmt.Errorf("parsing age identities: %w", err)
	}
	return &AgeDecryptor{identities: identities}, nil
}

// LoadAgeDecryptor reads an identity file from disk.
func LoadAgeDecryptor(path string) (*AgeDecryptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	return NewAgeDecryptor(data)
}

// Decrypt implements Decryptor.
func (d *AgeDecryptor) Decrypt(_ manifest.ContentUnit, data []byte) ([]byte, error) {
	reader, err := age.Decrypt(bytes.NewReader(data), d.identities...)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading age plaintext: %w", err)
	}
	return plaintext, nil
}

// SealAge encrypts plaintext to the given age public keys.
func SealAge(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing age plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return sealed.Bytes(), nil
}
