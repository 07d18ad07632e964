// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation provides the shared shape of every asynchronous
// step in the delivery pipeline: a status, a progress fraction, a
// terminal error, and completion notification.
//
// Operations are advanced by calling Update from the single tick
// goroutine; each call performs at most one step and returns. [Base]
// carries the bookkeeping and is embedded by concrete operations.
// Status, progress, and completion are safe to observe from other
// goroutines, so a caller can block on [Base.Done] while the tick
// loop runs elsewhere.
//
// [Scheduler] holds the operations that are still running and
// advances them once per tick, dropping each as it finishes.
package operation
