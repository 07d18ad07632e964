// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of an operation.
type Status int

const (
	// None means the operation has not started.
	None Status = iota
	// Running means the operation is in progress.
	Running
	// Succeeded is terminal.
	Succeeded
	// Failed is terminal; Err explains why.
	Failed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case None:
		return "none"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Operation is what the Scheduler drives.
type Operation interface {
	Update()
	IsDone() bool
}

// Base implements the observable half of an operation. The zero value
// is ready to use.
type Base struct {
	mu        sync.Mutex
	status    Status
	progress  float64
	err       error
	done      chan struct{}
	callbacks []func()
}

// Status returns the current status.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Progress returns the completion fraction in [0, 1].
func (b *Base) Progress() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// Err returns the terminal error of a failed operation.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// IsDone reports whether the operation reached a terminal status.
func (b *Base) IsDone() bool {
	status := b.Status()
	return status == Succeeded || status == Failed
}

// Done returns a channel closed when the operation finishes.
func (b *Base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doneLocked()
}

func (b *Base) doneLocked() chan struct{} {
	if b.done == nil {
		b.done = make(chan struct{})
	}
	return b.done
}

// OnComplete registers f to run when the operation finishes. If it
// already has, f runs immediately. Callbacks run on the goroutine that
// completes the operation, normally the tick goroutine.
func (b *Base) OnComplete(f func()) {
	b.mu.Lock()
	if b.status == Succeeded || b.status == Failed {
		b.mu.Unlock()
		f()
		return
	}
	b.callbacks = append(b.callbacks, f)
	b.mu.Unlock()
}

// Start moves a fresh operation to Running. It has no effect once the
// operation has started.
func (b *Base) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == None {
		b.status = Running
	}
}

// SetProgress records progress, clamped to [0, 1] and never moving
// backwards.
func (b *Base) SetProgress(progress float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	progress = min(max(progress, 0), 1)
	if progress > b.progress {
		b.progress = progress
	}
}

// Succeed finishes the operation successfully.
func (b *Base) Succeed() {
	b.finish(Succeeded, nil)
}

// Fail finishes the operation with err.
func (b *Base) Fail(err error) {
	b.finish(Failed, err)
}

func (b *Base) finish(status Status, err error) {
	b.mu.Lock()
	if b.status == Succeeded || b.status == Failed {
		b.mu.Unlock()
		return
	}
	b.status = status
	b.err = err
	if status == Succeeded {
		b.progress = 1
	}
	close(b.doneLocked())
	callbacks := b.callbacks
	b.callbacks = nil
	b.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

// Scheduler advances running operations once per tick. It is owned
// by the tick goroutine.
type Scheduler struct {
	running []Operation
}

// Add schedules op. Finished operations are accepted and dropped on
// the next tick.
func (s *Scheduler) Add(op Operation) {
	s.running = append(s.running, op)
}

// Tick updates every scheduled operation in submission order and
// forgets the ones that finished.
func (s *Scheduler) Tick() {
	// Operations added during this tick wait for the next one.
	current := s.running
	s.running = nil
	var still []Operation
	for _, op := range current {
		if !op.IsDone() {
			op.Update()
		}
		if !op.IsDone() {
			still = append(still, op)
		}
	}
	s.running = append(still, s.running...)
}

// Len returns how many operations are still scheduled.
func (s *Scheduler) Len() int { return len(s.running) }
