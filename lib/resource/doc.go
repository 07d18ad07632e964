// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource is the reference-counted loading engine for one
// resource package.
//
// A [System] owns two tables. Loaders hold the decoded bytes of one
// content unit each and are keyed by the unit's cache name, so a unit
// whose hash changes between manifests never reuses a stale resident
// copy. Providers produce one loadable object each: they acquire the
// loader of the unit that owns the object plus a [Group] of loaders
// for its same-package dependencies and, when the object depends on
// units published by other packages, a [CrossGroup] resolved through
// a [Resolver].
//
// Callers only ever hold a [Handle]. Handles and groups store lookup
// keys (a name plus the serial assigned at creation) rather than
// pointers, so a key to an object that was freed and recreated fails
// the lookup instead of touching the newer object's counts.
//
// All methods run on the tick goroutine. The only concurrency is the
// file read and decode of a loader, which runs on its own goroutine
// and reports back through a channel drained by [System.Tick]. Within
// one tick every loader advances before any provider, so a provider
// observing a finished loader sees its terminal state.
//
// Memory is reclaimed in two phases. Releasing the last reference to
// a loader marks it eligible. [System.CollectUnused] first destroys
// finished providers that no handle references, then frees every
// eligible loader that is still unreferenced and that no provider
// lists as its owner. A reference taken between the two phases
// reattaches the existing loader instead of starting a new load.
package resource
