// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/operation"
)

type updateStep int

const (
	updateFetchVersion updateStep = iota
	updateCheckVersion
	updateCheckManifest
	updateReconcile
	updateDone
)

type remoteResult struct {
	data []byte
	err  error
}

// ManifestOperation brings the package's manifest up to date with the
// remote host and reconciles the cache against it.
type ManifestOperation struct {
	operation.Base
	pipeline *Pipeline
	name     string
	timeout  time.Duration
	selector *fetch.HostSelector
	context  context.Context
	cancel   context.CancelFunc

	step      updateStep
	remote    chan remoteResult
	record    manifest.VersionRecord
	candidate *manifest.Manifest
	foundNew  bool

	pool      *cache.VerifyPool
	queue     []cache.VerifyJob
	total     int
	verified  int
	failed    int
	missing   int
	startedAt time.Time
}

// UpdateManifest fetches the sidecar of the manifest called name and,
// when it differs from the persisted manifest, the manifest itself.
// Empty name means the configured manifest name. timeout bounds each
// request; zero uses the download default. In offline mode the
// operation succeeds immediately.
func (p *Pipeline) UpdateManifest(name string, timeout time.Duration) *ManifestOperation {
	if name == "" {
		name = p.params.ManifestName
	}
	op := p.newManifestOperation(name, timeout)
	switch {
	case !p.initialized:
		op.finish(ErrNotInitialized)
	case p.params.Mode == ModeOffline:
		op.finish(nil)
	}
	return op
}

// VerifyCache reconciles the cache against the current manifest
// without contacting a host.
func (p *Pipeline) VerifyCache() *ManifestOperation {
	op := p.newManifestOperation(p.params.ManifestName, 0)
	switch {
	case !p.initialized:
		op.finish(ErrNotInitialized)
	case p.current == nil:
		op.finish(ErrNoManifest)
	default:
		op.candidate = p.current
		op.beginReconcile()
	}
	return op
}

func (p *Pipeline) newManifestOperation(name string, timeout time.Duration) *ManifestOperation {
	ctx, cancel := context.WithCancel(context.Background())
	return &ManifestOperation{
		pipeline: p,
		name:     name,
		timeout:  p.downloadTimeout(timeout),
		selector: p.selector(),
		context:  ctx,
		cancel:   cancel,
	}
}

// FoundNewManifest reports whether the remote manifest differed from
// the persisted one.
func (o *ManifestOperation) FoundNewManifest() bool { return o.foundNew }

// Manifest returns the manifest the operation installed.
func (o *ManifestOperation) Manifest() *manifest.Manifest { return o.candidate }

// VerifiedCount returns how many cached files passed verification.
func (o *ManifestOperation) VerifiedCount() int { return o.verified }

// FailedCount returns how many cached files failed verification and
// were deleted.
func (o *ManifestOperation) FailedCount() int { return o.failed }

// MissingCount returns how many units are neither built-in nor cached.
func (o *ManifestOperation) MissingCount() int { return o.missing + o.failed }

// Cancel stops outstanding requests and fails the operation. The
// current manifest is left in place.
func (o *ManifestOperation) Cancel() {
	if o.IsDone() {
		return
	}
	o.finish(context.Canceled)
}

// Update performs one step.
func (o *ManifestOperation) Update() {
	if o.IsDone() {
		return
	}
	o.Start()
	p := o.pipeline

	switch o.step {
	case updateFetchVersion:
		o.remote = o.request(manifest.VersionFileName(o.name), maxVersionRecordBytes)
		o.step = updateCheckVersion

	case updateCheckVersion:
		result, ok := o.poll()
		if !ok {
			return
		}
		if result.err != nil {
			o.finish(fmt.Errorf("fetching version record: %w", result.err))
			return
		}
		record, err := manifest.ParseVersionRecord(result.data)
		if err != nil {
			o.finish(err)
			return
		}
		o.record = record

		if persisted, err := p.dir.ReadManifest(p.params.PackageName); err == nil && record.Matches(persisted) {
			loaded, err := p.parseManifest(persisted)
			if err == nil {
				p.logger.Info("manifest unchanged", "version", record.Version)
				o.candidate = loaded
				o.beginReconcile()
				return
			}
			p.logger.Warn("persisted manifest unreadable, fetching again", "error", err)
		}
		p.logger.Info("manifest changed", "version", record.Version, "previous_version", p.ResourceVersion())
		o.foundNew = true
		o.remote = o.request(manifest.FileName(o.name), maxManifestBytes)
		o.step = updateCheckManifest

	case updateCheckManifest:
		result, ok := o.poll()
		if !ok {
			return
		}
		if result.err != nil {
			o.finish(fmt.Errorf("fetching manifest: %w", result.err))
			return
		}
		if err := o.record.Check(result.data); err != nil {
			o.finish(fmt.Errorf("%w: %w", manifest.ErrMalformed, err))
			return
		}
		loaded, err := p.parseManifest(result.data)
		if err != nil {
			o.finish(err)
			return
		}
		if err := p.dir.WriteManifest(p.params.PackageName, result.data); err != nil {
			o.finish(fmt.Errorf("persisting manifest: %w", err))
			return
		}
		o.candidate = loaded
		o.beginReconcile()

	case updateReconcile:
		o.reconcile()
	}
}

// request fetches one metadata file on a goroutine, alternating hosts
// between attempts.
func (o *ManifestOperation) request(name string, limit int64) chan remoteResult {
	p := o.pipeline
	results := make(chan remoteResult, 1)
	go func() {
		var err error
		for attempt := 1; attempt <= p.params.ManifestAttempts; attempt++ {
			url := fetch.JoinURL(o.selector.Next(p.params.Source), name)
			ctx, cancel := context.WithTimeout(o.context, o.timeout)
			var data []byte
			data, err = fetch.GetBytes(ctx, p.params.Getter, url, limit)
			cancel()
			if err == nil {
				results <- remoteResult{data: data}
				return
			}
			p.logger.Warn("metadata request failed",
				"url", url,
				"attempt", attempt,
				"max_attempts", p.params.ManifestAttempts,
				"error", err,
			)
			if o.context.Err() != nil {
				break
			}
		}
		results <- remoteResult{err: err}
	}()
	return results
}

func (o *ManifestOperation) poll() (remoteResult, bool) {
	select {
	case result := <-o.remote:
		return result, true
	default:
		return remoteResult{}, false
	}
}

// beginReconcile queues every unit whose cached file needs checking.
func (o *ManifestOperation) beginReconcile() {
	p := o.pipeline
	o.step = updateReconcile
	o.startedAt = p.params.Clock.Now()
	o.pool = cache.NewVerifyPool(p.params.VerifyWorkers, p.logger)
	for _, unit := range o.candidate.Units() {
		if p.index.Contains(p.params.PackageName, unit.CacheName()) || p.isBuiltin(unit) {
			continue
		}
		path := p.dir.UnitPath(p.params.PackageName, unit)
		if !fileExists(path) {
			o.missing++
			continue
		}
		o.queue = append(o.queue, cache.VerifyJob{Package: p.params.PackageName, Unit: unit, Path: path})
	}
	o.total = len(o.queue)
	o.reconcile()
}

func (o *ManifestOperation) reconcile() {
	p := o.pipeline
	for _, result := range o.pool.Poll() {
		if result.Err != nil {
			o.failed++
			continue
		}
		o.verified++
		p.index.Mark(p.params.PackageName, result.Job.Unit.CacheName())
	}
	for len(o.queue) > 0 && o.pool.TrySubmit(o.queue[0]) {
		o.queue = o.queue[1:]
	}
	if o.total > 0 {
		o.SetProgress(float64(o.verified+o.failed) / float64(o.total))
	}
	if len(o.queue) > 0 || o.pool.Pending() > 0 {
		return
	}

	p.current = o.candidate
	p.logger.Info("cache reconciled",
		"version", o.candidate.Version(),
		"verified", o.verified,
		"failed", o.failed,
		"missing", o.missing,
		"elapsed", p.params.Clock.Now().Sub(o.startedAt),
	)
	o.finish(nil)
}

func (o *ManifestOperation) finish(err error) {
	o.step = updateDone
	o.cancel()
	if err != nil {
		o.pipeline.logger.Error("manifest update failed", "manifest", o.name, "error", err)
		o.Fail(err)
		return
	}
	o.Succeed()
}
