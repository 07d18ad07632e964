// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Record identifies the application build that populated the cache.
type Record struct {
	AppVersion string `json:"cache_app_version"`
}

// LoadRecord reads the record at path. found is false when no record
// has been written yet.
func LoadRecord(path string) (record Record, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("reading cache record: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("parsing cache record %s: %w", path, err)
	}
	return record, true, nil
}

// SaveRecord atomically writes the record to path.
func SaveRecord(path string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache record: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}
