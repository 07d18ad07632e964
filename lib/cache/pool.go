// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// VerifyJob asks for one cache file to be checked against its unit.
type VerifyJob struct {
	Package string
	Unit    manifest.ContentUnit
	Path    string
}

// VerifyResult reports the outcome of a job. Err is nil when the file
// is valid. A rejected file has already been deleted.
type VerifyResult struct {
	Job VerifyJob
	Err error
}

// VerifyPool verifies cache files on at most a fixed number of
// goroutines.
type VerifyPool struct {
	slots   *semaphore.Weighted
	workers int
	results chan VerifyResult
	pending int
	logger  *slog.Logger
}

// DefaultWorkers returns min(GOMAXPROCS, maxIO), at least 1.
func DefaultWorkers(maxIO int) int {
	workers := runtime.GOMAXPROCS(0)
	if maxIO > 0 && maxIO < workers {
		workers = maxIO
	}
	return max(workers, 1)
}

// NewVerifyPool returns a pool running at most workers verifications
// at once. A nil logger uses slog.Default.
func NewVerifyPool(workers int, logger *slog.Logger) *VerifyPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyPool{
		slots:   semaphore.NewWeighted(int64(workers)),
		workers: workers,
		results: make(chan VerifyResult, workers),
		logger:  logger,
	}
}

// Workers returns the concurrency bound.
func (p *VerifyPool) Workers() int { return p.workers }

// TrySubmit starts job if a worker slot is free and reports whether it
// did. Callers keep unsubmitted jobs queued and retry on a later tick.
func (p *VerifyPool) TrySubmit(job VerifyJob) bool {
	if !p.slots.TryAcquire(1) {
		return false
	}
	p.pending++
	go p.run(job)
	return true
}

func (p *VerifyPool) run(job VerifyJob) {
	err := VerifyFile(job.Path, job.Unit.Size, job.Unit.Checksum)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("cached content unit failed verification",
			"package", job.Package,
			"unit", job.Unit.ID,
			"path", job.Path,
			"error", err,
		)
		if removeErr := os.Remove(job.Path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.logger.Error("removing invalid cache file failed",
				"path", job.Path,
				"error", removeErr,
			)
		}
	}
	p.results <- VerifyResult{Job: job, Err: err}
	p.slots.Release(1)
}

// Poll returns every result that has arrived since the last call
// without blocking.
func (p *VerifyPool) Poll() []VerifyResult {
	var drained []VerifyResult
	for {
		select {
		case result := <-p.results:
			p.pending--
			drained = append(drained, result)
		default:
			return drained
		}
	}
}

// Pending returns how many submitted jobs have not been polled yet.
func (p *VerifyPool) Pending() int { return p.pending }
