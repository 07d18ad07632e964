// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// drain polls the pool until want results have arrived.
func drain(t *testing.T, pool *VerifyPool, want int) []VerifyResult {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second) //nolint:realclock test hang prevention
	var results []VerifyResult
	for len(results) < want {
		results = append(results, pool.Poll()...)
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("received %d of %d verification results", len(results), want)
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling worker goroutines
	}
	return results
}

func TestVerifyPoolDeletesInvalidFiles(t *testing.T) {
	directory := t.TempDir()
	good := writeUnit(t, filepath.Join(directory, "good"), []byte("valid content"))
	bad := writeUnit(t, filepath.Join(directory, "bad"), []byte("original content"))
	if err := os.WriteFile(filepath.Join(directory, "bad"), []byte("tampered content"), 0o644); err != nil {
		t.Fatalf("tampering: %v", err)
	}

	pool := NewVerifyPool(2, nil)
	jobs := []VerifyJob{
		{Package: "game", Unit: good, Path: filepath.Join(directory, "good")},
		{Package: "game", Unit: bad, Path: filepath.Join(directory, "bad")},
	}
	for _, job := range jobs {
		if !pool.TrySubmit(job) {
			t.Fatalf("TrySubmit(%s) refused with free slots", job.Unit.ID)
		}
	}

	results := drain(t, pool, 2)
	for _, result := range results {
		switch result.Job.Unit.ID {
		case "good":
			if result.Err != nil {
				t.Errorf("good unit rejected: %v", result.Err)
			}
		case "bad":
			if !errors.Is(result.Err, ErrChecksumMismatch) {
				t.Errorf("bad unit error = %v, want ErrChecksumMismatch", result.Err)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(directory, "bad")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("invalid file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(directory, "good")); err != nil {
		t.Errorf("valid file removed: %v", err)
	}
	if pool.Pending() != 0 {
		t.Errorf("Pending = %d after draining", pool.Pending())
	}
}

func TestVerifyPoolBoundsConcurrency(t *testing.T) {
	directory := t.TempDir()
	pool := NewVerifyPool(2, nil)

	var queue []VerifyJob
	for i := 0; i < 12; i++ {
		path := filepath.Join(directory, fmt.Sprintf("unit-%d", i))
		unit := writeUnit(t, path, []byte(fmt.Sprintf("payload %d", i)))
		queue = append(queue, VerifyJob{Package: "game", Unit: unit, Path: path})
	}

	var results []VerifyResult
	deadline := time.Now().Add(10 * time.Second) //nolint:realclock test hang prevention
	for len(results) < 12 {
		for len(queue) > 0 && pool.TrySubmit(queue[0]) {
			queue = queue[1:]
		}
		if pool.Pending() > pool.Workers()+cap(pool.results) {
			t.Fatalf("Pending = %d exceeds workers plus buffered results", pool.Pending())
		}
		results = append(results, pool.Poll()...)
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("only %d of 12 verifications finished", len(results))
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling worker goroutines
	}
	for _, result := range results {
		if result.Err != nil {
			t.Errorf("unit %s rejected: %v", result.Job.Unit.ID, result.Err)
		}
	}
}

func TestVerifyPoolMissingFileIsNotDeleted(t *testing.T) {
	pool := NewVerifyPool(1, nil)
	job := VerifyJob{
		Package: "game",
		Unit:    manifest.ContentUnit{ID: "ghost", Hash: "1", Size: 3, Checksum: "00"},
		Path:    filepath.Join(t.TempDir(), "ghost_1"),
	}
	if !pool.TrySubmit(job) {
		t.Fatal("TrySubmit refused")
	}
	results := drain(t, pool, 1)
	if !errors.Is(results[0].Err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", results[0].Err)
	}
}

func TestDefaultWorkers(t *testing.T) {
	if got := DefaultWorkers(1); got != 1 {
		t.Errorf("DefaultWorkers(1) = %d", got)
	}
	if got := DefaultWorkers(0); got < 1 {
		t.Errorf("DefaultWorkers(0) = %d", got)
	}
}
