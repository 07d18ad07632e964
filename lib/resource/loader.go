// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// LoaderStatus is the lifecycle state of a Loader.
type LoaderStatus int

const (
	LoaderNone LoaderStatus = iota
	LoaderLoading
	LoaderSucceed
	LoaderFail
)

// String returns the lowercase status name.
func (s LoaderStatus) String() string {
	switch s {
	case LoaderNone:
		return "none"
	case LoaderLoading:
		return "loading"
	case LoaderSucceed:
		return "succeed"
	case LoaderFail:
		return "fail"
	default:
		return fmt.Sprintf("loader_status(%d)", int(s))
	}
}

// Download is a running fetch of one unit into the cache.
type Download interface {
	Update()
	IsDone() bool
	Err() error
	Wait(ctx context.Context) error
}

// BundleServices connects a System to the package that owns it.
type BundleServices interface {
	// Manifest returns the current manifest.
	Manifest() *manifest.Manifest

	// Locate returns where the unit's bytes are. When remote is true
	// the path is the cache destination and the unit must be
	// downloaded first.
	Locate(unit manifest.ContentUnit) (path string, remote bool)

	// Download starts fetching a remote unit to its cache path.
	Download(unit manifest.ContentUnit) Download

	// Decode turns stored bytes into usable bytes. It is called from
	// a loader goroutine and must be safe for concurrent use.
	Decode(unit manifest.ContentUnit, data []byte) ([]byte, error)
}

type loaderStep int

const (
	stepLocate loaderStep = iota
	stepDownload
	stepRead
	stepDone
)

type decodeResult struct {
	data []byte
	err  error
}

// Loader holds the payload of one content unit.
type Loader struct {
	unit     manifest.ContentUnit
	serial   uint64
	services BundleServices
	logger   *slog.Logger

	step     loaderStep
	status   LoaderStatus
	err      error
	path     string
	download Download
	decoded  chan decodeResult
	payload  []byte
	done     chan struct{}

	refCount int
	eligible bool

	// owners holds the serials of providers whose owning unit this
	// is. A loader with owners is never freed.
	owners map[uint64]struct{}
}

func newLoader(unit manifest.ContentUnit, serial uint64, services BundleServices, logger *slog.Logger) *Loader {
	return &Loader{
		unit:     unit,
		serial:   serial,
		services: services,
		logger:   logger,
		decoded:  make(chan decodeResult, 1),
		done:     make(chan struct{}),
		owners:   make(map[uint64]struct{}),
	}
}

// Unit returns the content unit this loader holds.
func (l *Loader) Unit() manifest.ContentUnit { return l.unit }

// Name returns the loader's table key, the unit's cache name.
func (l *Loader) Name() string { return l.unit.CacheName() }

// Status returns the current status.
func (l *Loader) Status() LoaderStatus { return l.status }

// Err returns the failure cause of a failed loader.
func (l *Loader) Err() error { return l.err }

// IsDone reports whether the loader reached Succeed or Fail.
func (l *Loader) IsDone() bool { return l.status == LoaderSucceed || l.status == LoaderFail }

// Payload returns the decoded bytes of a succeeded loader. For raw
// file units it returns the stored bytes unchanged.
func (l *Loader) Payload() []byte { return l.payload }

// Path returns the local file the payload was read from, once located.
func (l *Loader) Path() string { return l.path }

// RefCount returns the number of outstanding references.
func (l *Loader) RefCount() int { return l.refCount }

// Reference takes a reference. Taking one on an eligible loader
// reattaches it.
func (l *Loader) Reference() {
	l.refCount++
	l.eligible = false
}

// Release drops a reference. Dropping the last one marks the loader
// eligible for collection.
func (l *Loader) Release() {
	if l.refCount == 0 {
		l.logger.Error("loader released more times than referenced", "unit", l.unit.ID)
		return
	}
	l.refCount--
	if l.refCount == 0 {
		l.eligible = true
	}
}

func (l *Loader) collectable() bool {
	return l.eligible && l.refCount == 0 && len(l.owners) == 0 && l.IsDone()
}

// Update advances the loader by one step.
func (l *Loader) Update() {
	switch l.step {
	case stepLocate:
		l.status = LoaderLoading
		path, remote := l.services.Locate(l.unit)
		l.path = path
		if remote {
			l.logger.Debug("content unit not cached, downloading", "unit", l.unit.ID, "path", path)
			l.download = l.services.Download(l.unit)
			l.step = stepDownload
			return
		}
		l.startRead()

	case stepDownload:
		l.download.Update()
		l.afterDownload()

	case stepRead:
		select {
		case result := <-l.decoded:
			l.applyRead(result)
		default:
		}
	}
}

// WaitForSyncComplete drives the loader to a terminal state on the
// calling goroutine. It returns only a context error; the load
// outcome is reported by Status and Err.
func (l *Loader) WaitForSyncComplete(ctx context.Context) error {
	for !l.IsDone() {
		switch l.step {
		case stepLocate:
			l.Update()
		case stepDownload:
			if err := l.download.Wait(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			l.afterDownload()
		case stepRead:
			select {
			case result := <-l.decoded:
				l.applyRead(result)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Done returns a channel closed when the loader is terminal.
func (l *Loader) Done() <-chan struct{} { return l.done }

func (l *Loader) afterDownload() {
	if !l.download.IsDone() {
		return
	}
	if err := l.download.Err(); err != nil {
		l.finish(LoaderFail, fmt.Errorf("downloading unit %s: %w", l.unit.ID, err))
		return
	}
	l.startRead()
}

func (l *Loader) startRead() {
	l.step = stepRead
	unit, path, services, results := l.unit, l.path, l.services, l.decoded
	go func() {
		data, err := os.ReadFile(path)
		if err != nil {
			results <- decodeResult{err: fmt.Errorf("reading unit %s: %w", unit.ID, err)}
			return
		}
		if !unit.IsRawFile {
			data, err = services.Decode(unit, data)
		}
		results <- decodeResult{data: data, err: err}
	}()
}

func (l *Loader) applyRead(result decodeResult) {
	if result.err != nil {
		l.finish(LoaderFail, result.err)
		return
	}
	l.payload = result.data
	l.finish(LoaderSucceed, nil)
}

func (l *Loader) finish(status LoaderStatus, err error) {
	l.step = stepDone
	l.status = status
	l.err = err
	close(l.done)
	if err != nil {
		l.logger.Warn("content unit failed to load", "unit", l.unit.ID, "error", err)
		return
	}
	l.logger.Debug("content unit loaded", "unit", l.unit.ID, "bytes", len(l.payload))
}
