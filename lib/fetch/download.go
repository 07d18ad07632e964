// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/operation"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxConcurrent = 4
	DefaultMaxRetries    = 3
	DefaultTimeout       = 60 * time.Second
)

// ErrIntegrity reports a downloaded file that did not match its
// declared size or checksum. The file has been discarded.
var ErrIntegrity = errors.New("downloaded content failed verification")

// Item is one file to download.
type Item struct {
	// Name is the remote file name, appended to the host base URL.
	// It also identifies the item within an operation.
	Name string

	// Path is the local destination.
	Path string

	Size     int64
	Checksum string
}

// Config controls an Operation.
type Config struct {
	Getter Getter
	Source Source

	// Selector picks hosts. Nil gives the operation its own.
	Selector *HostSelector

	MaxConcurrent int

	// MaxRetries is the number of attempts per item, at least 1.
	MaxRetries int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// CachedBytes is the size of units that were already valid and
	// are counted as complete in the progress figure.
	CachedBytes int64

	// OnItemDone runs on the updating goroutine for every item that
	// lands, including items finishing after the operation failed.
	OnItemDone func(Item)

	Logger *slog.Logger
}

// Operation downloads a batch of items.
type Operation struct {
	operation.Base

	config  Config
	context context.Context
	cancel  context.CancelFunc

	pending  []Item
	inflight map[string]*attempt
	attempts map[string]int
	results  chan attemptResult

	itemCount      int
	totalBytes     int64
	completedBytes int64
	completed      int
	began          bool
}

type attempt struct {
	item    Item
	url     string
	number  int
	written atomic.Int64
}

type attemptResult struct {
	attempt *attempt
	err     error
}

// New prepares a download of items. Nothing is requested until the
// first Update or Wait. Duplicate names are downloaded once.
func New(items []Item, config Config) *Operation {
	if config.Getter == nil {
		panic("fetch: Config.Getter is nil")
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Selector == nil {
		config.Selector = &HostSelector{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Operation{
		config:     config,
		context:    ctx,
		cancel:     cancel,
		inflight:   make(map[string]*attempt),
		attempts:   make(map[string]int),
		results:    make(chan attemptResult, config.MaxConcurrent),
		totalBytes: config.CachedBytes,
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, duplicate := seen[item.Name]; duplicate {
			continue
		}
		seen[item.Name] = struct{}{}
		o.pending = append(o.pending, item)
		o.totalBytes += item.Size
	}
	o.itemCount = len(o.pending)
	return o
}

// Update performs one step: it collects finished requests, starts new
// ones into free slots, and refreshes progress.
func (o *Operation) Update() {
	o.begin()
	for {
		select {
		case result := <-o.results:
			o.handle(result)
		default:
			o.advance()
			return
		}
	}
}

// Wait drives the operation to completion on the calling goroutine,
// blocking on network results instead of polling.
func (o *Operation) Wait(ctx context.Context) error {
	for {
		o.Update()
		if o.IsDone() {
			return o.Err()
		}
		select {
		case result := <-o.results:
			o.handle(result)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cancel aborts in-flight requests and fails the operation.
func (o *Operation) Cancel() {
	o.cancel()
	o.Fail(context.Canceled)
}

// ItemCount returns how many distinct items the operation covers.
func (o *Operation) ItemCount() int { return o.itemCount }

// CompletedCount returns how many items have landed.
func (o *Operation) CompletedCount() int { return o.completed }

// TotalBytes returns the byte total progress is measured against.
func (o *Operation) TotalBytes() int64 { return o.totalBytes }

// InFlight returns how many requests are running.
func (o *Operation) InFlight() int { return len(o.inflight) }

func (o *Operation) begin() {
	if o.began {
		return
	}
	o.began = true
	o.Start()
	o.config.Logger.Debug("download started",
		"items", o.itemCount,
		"bytes", o.totalBytes-o.config.CachedBytes,
		"max_concurrent", o.config.MaxConcurrent,
	)
}

func (o *Operation) advance() {
	if o.IsDone() {
		return
	}
	for len(o.inflight) < o.config.MaxConcurrent && len(o.pending) > 0 {
		item := o.pending[0]
		o.pending = o.pending[1:]
		o.launch(item)
	}
	o.reportProgress()
	if len(o.pending) == 0 && len(o.inflight) == 0 {
		o.config.Logger.Debug("download finished", "items", o.completed)
		o.Succeed()
	}
}

func (o *Operation) launch(item Item) {
	o.attempts[item.Name]++
	current := &attempt{
		item:   item,
		url:    JoinURL(o.config.Selector.Next(o.config.Source), item.Name),
		number: o.attempts[item.Name],
	}
	o.inflight[item.Name] = current
	go o.run(current)
}

func (o *Operation) run(current *attempt) {
	ctx, cancel := context.WithTimeout(o.context, o.config.Timeout)
	defer cancel()
	err := o.download(ctx, current)
	o.results <- attemptResult{attempt: current, err: err}
}

func (o *Operation) handle(result attemptResult) {
	item := result.attempt.item
	delete(o.inflight, item.Name)

	if result.err == nil {
		o.completed++
		o.completedBytes += item.Size
		if o.config.OnItemDone != nil {
			o.config.OnItemDone(item)
		}
		return
	}

	o.config.Logger.Warn("download attempt failed",
		"item", item.Name,
		"url", result.attempt.url,
		"attempt", result.attempt.number,
		"max_attempts", o.config.MaxRetries,
		"error", result.err,
	)
	if o.IsDone() {
		return
	}
	if o.attempts[item.Name] >= o.config.MaxRetries {
		o.config.Logger.Error("download failed",
			"item", item.Name,
			"attempts", o.attempts[item.Name],
			"error", result.err,
		)
		o.Fail(fmt.Errorf("downloading %s after %d attempts: %w", item.Name, o.attempts[item.Name], result.err))
		return
	}
	o.pending = append([]Item{item}, o.pending...)
}

func (o *Operation) reportProgress() {
	if o.totalBytes <= 0 {
		o.SetProgress(1)
		return
	}
	current := o.config.CachedBytes + o.completedBytes
	for _, running := range o.inflight {
		current += min(running.written.Load(), running.item.Size)
	}
	o.SetProgress(float64(current) / float64(o.totalBytes))
}

// download performs one attempt: stream to a temporary file beside the
// destination, verify, and rename into place.
func (o *Operation) download(ctx context.Context, current *attempt) error {
	body, err := o.config.Getter.Get(ctx, current.url)
	if err != nil {
		return err
	}
	defer body.Close()

	item := current.item
	directory := filepath.Dir(item.Path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	file, err := os.CreateTemp(directory, filepath.Base(item.Path)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	temporaryPath := file.Name()

	// Read one byte past the declared size so an oversized response
	// fails verification instead of being silently truncated.
	reader := &countingReader{reader: io.LimitReader(body, item.Size+1), count: &current.written}
	_, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", item.Name, errors.Join(copyErr, closeErr))
	}

	if err := cache.VerifyFile(temporaryPath, item.Size, item.Checksum); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if err := os.Rename(temporaryPath, item.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("moving %s into the cache: %w", item.Name, err)
	}
	return nil
}

type countingReader struct {
	reader io.Reader
	count  *atomic.Int64
}

func (r *countingReader) Read(buffer []byte) (int, error) {
	n, err := r.reader.Read(buffer)
	r.count.Add(int64(n))
	return n, err
}
