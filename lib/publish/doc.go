// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish assembles a release of a resource package: the
// stored bytes of every content unit, the manifest, and the version
// sidecar, laid out the way hosts and built-in roots serve them.
//
// Deciding which source files go into which unit is the job of the
// authoring tools; publish takes units as given.
package publish
