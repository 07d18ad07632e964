// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/operation"
)

// DownloadOptions bound a download. Zero fields take the pipeline's
// defaults, then the fetch package defaults.
type DownloadOptions struct {
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
}

func (o DownloadOptions) withDefaults(defaults DownloadOptions) DownloadOptions {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = defaults.MaxConcurrent
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = defaults.Timeout
	}
	return o
}

// CreateDownloader downloads every unit of the current manifest that
// is not yet valid.
func (p *Pipeline) CreateDownloader(options DownloadOptions) (*fetch.Operation, error) {
	if p.current == nil {
		return nil, ErrNotInitialized
	}
	return p.newDownload(p.current.Units(), options), nil
}

// CreateDownloaderByTags downloads the units carrying any of tags.
func (p *Pipeline) CreateDownloaderByTags(tags []string, options DownloadOptions) (*fetch.Operation, error) {
	if p.current == nil {
		return nil, ErrNotInitialized
	}
	return p.newDownload(p.current.UnitsByTags(tags), options), nil
}

// CreateBundleDownloader downloads the units needed to load the
// resources at locations.
func (p *Pipeline) CreateBundleDownloader(locations []string, options DownloadOptions) (*fetch.Operation, error) {
	units, err := p.unitsFor(locations)
	if err != nil {
		return nil, err
	}
	return p.newDownload(units, options), nil
}

func (p *Pipeline) newDownload(units []manifest.ContentUnit, options DownloadOptions) *fetch.Operation {
	options = options.withDefaults(p.params.Download)
	var items []fetch.Item
	var cachedBytes int64
	if p.params.Mode == ModeHost {
		for _, unit := range units {
			if p.isBuiltin(unit) {
				continue
			}
			if p.index.Contains(p.params.PackageName, unit.CacheName()) {
				cachedBytes += unit.Size
				continue
			}
			items = append(items, p.item(unit))
		}
	}
	p.logger.Debug("download prepared", "units", len(items), "cached_bytes", cachedBytes)
	return fetch.New(items, fetch.Config{
		Getter:        p.params.Getter,
		Source:        p.params.Source,
		Selector:      p.params.Selector,
		MaxConcurrent: options.MaxConcurrent,
		MaxRetries:    options.MaxRetries,
		Timeout:       options.Timeout,
		CachedBytes:   cachedBytes,
		OnItemDone: func(item fetch.Item) {
			p.index.Mark(p.params.PackageName, item.Name)
		},
		Logger: p.logger,
	})
}

func (p *Pipeline) item(unit manifest.ContentUnit) fetch.Item {
	return fetch.Item{
		Name:     unit.CacheName(),
		Path:     p.dir.UnitPath(p.params.PackageName, unit),
		Size:     unit.Size,
		Checksum: unit.Checksum,
	}
}

type unitStep int

const (
	unitStart unitStep = iota
	unitVerifying
	unitFetching
	unitDone
)

// UnitDownload makes one unit valid in the cache. A file already on
// disk is verified first and only fetched when it fails.
type UnitDownload struct {
	operation.Base
	pipeline *Pipeline
	unit     manifest.ContentUnit
	path     string
	step     unitStep
	verify   chan error
	fetch    *fetch.Operation
}

// DownloadUnit returns the operation that makes unit valid in the
// cache.
func (p *Pipeline) DownloadUnit(unit manifest.ContentUnit) *UnitDownload {
	return &UnitDownload{
		pipeline: p,
		unit:     unit,
		path:     p.dir.UnitPath(p.params.PackageName, unit),
		verify:   make(chan error, 1),
	}
}

// Path returns the cache path of the unit.
func (d *UnitDownload) Path() string { return d.path }

// Update performs one step.
func (d *UnitDownload) Update() {
	if d.IsDone() {
		return
	}
	switch d.step {
	case unitStart:
		d.start()
	case unitVerifying:
		select {
		case err := <-d.verify:
			d.verified(err)
		default:
		}
	case unitFetching:
		d.fetch.Update()
		d.SetProgress(d.fetch.Progress())
		d.fetched()
	}
}

// Wait drives the download to completion on the calling goroutine.
func (d *UnitDownload) Wait(ctx context.Context) error {
	for !d.IsDone() {
		switch d.step {
		case unitStart:
			d.start()
		case unitVerifying:
			select {
			case err := <-d.verify:
				d.verified(err)
			case <-ctx.Done():
				return ctx.Err()
			}
		case unitFetching:
			if err := d.fetch.Wait(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			d.fetched()
		}
	}
	return d.Err()
}

func (d *UnitDownload) start() {
	d.Start()
	if !fileExists(d.path) {
		d.beginFetch()
		return
	}
	d.step = unitVerifying
	unit, path, results := d.unit, d.path, d.verify
	go func() {
		err := cache.VerifyFile(path, unit.Size, unit.Checksum)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(path)
		}
		results <- err
	}()
}

func (d *UnitDownload) verified(err error) {
	p := d.pipeline
	if err == nil {
		p.index.Mark(p.params.PackageName, d.unit.CacheName())
		d.step = unitDone
		d.Succeed()
		return
	}
	p.logger.Warn("cached unit failed verification, downloading again", "unit", d.unit.ID, "error", err)
	d.beginFetch()
}

func (d *UnitDownload) beginFetch() {
	d.step = unitFetching
	d.fetch = d.pipeline.newDownload([]manifest.ContentUnit{d.unit}, DownloadOptions{MaxConcurrent: 1})
}

func (d *UnitDownload) fetched() {
	if !d.fetch.IsDone() {
		return
	}
	d.step = unitDone
	if err := d.fetch.Err(); err != nil {
		d.Fail(err)
		return
	}
	d.Succeed()
}
