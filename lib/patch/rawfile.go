// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/operation"
)

// RawFileOperation makes a raw file unit available on disk and
// optionally copies it to a caller-chosen path.
type RawFileOperation struct {
	operation.Base
	pipeline *Pipeline
	copyPath string
	path     string
	download *UnitDownload
	copied   bool
}

// GetRawFile resolves location to its owning unit, which must be a raw
// file, and makes that unit available locally. When copyPath is set
// the file is also copied there.
func (p *Pipeline) GetRawFile(location, copyPath string) *RawFileOperation {
	op := &RawFileOperation{pipeline: p, copyPath: copyPath}
	if p.current == nil {
		op.Fail(ErrNotInitialized)
		return op
	}
	entry, err := p.current.Locate(location)
	if err != nil {
		op.Fail(err)
		return op
	}
	unit, err := p.current.OwnerUnit(entry.SourcePath)
	if err != nil {
		op.Fail(err)
		return op
	}
	if !unit.IsRawFile {
		op.Fail(fmt.Errorf("%w: %s is owned by unit %s", ErrNotRawFile, entry.SourcePath, unit.ID))
		return op
	}
	path, remote := p.Locate(unit)
	op.path = path
	if remote {
		op.download = p.DownloadUnit(unit)
	}
	return op
}

// Path returns the local path of the raw file.
func (o *RawFileOperation) Path() string { return o.path }

// CopyPath returns where the file was copied, if anywhere.
func (o *RawFileOperation) CopyPath() string { return o.copyPath }

// ReadBytes returns the file content.
func (o *RawFileOperation) ReadBytes() ([]byte, error) {
	if o.Status() != operation.Succeeded {
		return nil, fmt.Errorf("raw file is not available: %w", o.statusErr())
	}
	return os.ReadFile(o.path)
}

// ReadText returns the file content as a string.
func (o *RawFileOperation) ReadText() (string, error) {
	data, err := o.ReadBytes()
	return string(data), err
}

func (o *RawFileOperation) statusErr() error {
	if err := o.Err(); err != nil {
		return err
	}
	return fmt.Errorf("operation is %s", o.Status())
}

// Update performs one step.
func (o *RawFileOperation) Update() {
	if o.IsDone() {
		return
	}
	o.Start()
	if o.download != nil {
		o.download.Update()
		o.SetProgress(o.download.Progress())
		if !o.download.IsDone() {
			return
		}
		if err := o.download.Err(); err != nil {
			o.Fail(err)
			return
		}
	}
	if o.copyPath != "" && !o.copied {
		data, err := os.ReadFile(o.path)
		if err != nil {
			o.Fail(fmt.Errorf("reading raw file: %w", err))
			return
		}
		if err := cache.WriteFileAtomic(o.copyPath, data); err != nil {
			o.Fail(fmt.Errorf("copying raw file: %w", err))
			return
		}
		o.copied = true
	}
	o.Succeed()
}
