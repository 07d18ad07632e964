// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/assetpatch/lib/checksum"
)

// File name suffixes for a published manifest and its sidecar.
const (
	ManifestSuffix = ".manifest"
	VersionSuffix  = ".version"
)

// FileName returns the published file name of the manifest called name.
func FileName(name string) string { return name + ManifestSuffix }

// VersionFileName returns the published file name of name's sidecar.
func VersionFileName(name string) string { return name + VersionSuffix }

// VersionRecord is the sidecar published next to a manifest file.
type VersionRecord struct {
	CRC     string `json:"crc"`
	Size    int64  `json:"size"`
	Version int    `json:"version"`
}

// NewVersionRecord describes the serialized manifest data.
func NewVersionRecord(version int, data []byte) VersionRecord {
	return VersionRecord{
		CRC:     checksum.Sum(data).String(),
		Size:    int64(len(data)),
		Version: version,
	}
}

// ParseVersionRecord decodes a sidecar. Comments are tolerated.
func ParseVersionRecord(data []byte) (VersionRecord, error) {
	var record VersionRecord
	if err := json.Unmarshal(jsonc.ToJSON(data), &record); err != nil {
		return VersionRecord{}, fmt.Errorf("parsing version record: %w", err)
	}
	if record.CRC == "" {
		return VersionRecord{}, fmt.Errorf("parsing version record: crc is empty")
	}
	if record.Size <= 0 {
		return VersionRecord{}, fmt.Errorf("parsing version record: size %d is not positive", record.Size)
	}
	return record, nil
}

// Marshal encodes the sidecar as JSON.
func (r VersionRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Matches reports whether data is exactly the manifest the sidecar
// describes.
func (r VersionRecord) Matches(data []byte) bool {
	return int64(len(data)) == r.Size && checksum.Sum(data).Equal(r.CRC)
}

// Check is Matches with a descriptive error.
func (r VersionRecord) Check(data []byte) error {
	if int64(len(data)) != r.Size {
		return fmt.Errorf("manifest is %d bytes, version record says %d", len(data), r.Size)
	}
	if digest := checksum.Sum(data); !digest.Equal(r.CRC) {
		return fmt.Errorf("manifest checksum %s does not match version record %s", digest, r.CRC)
	}
	return nil
}
