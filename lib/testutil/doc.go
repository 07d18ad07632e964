// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for delivery packages.
//
// [Host] is a counting HTTP file server over a temporary directory.
// Tests publish releases into [Host.Directory] and assert how many
// times each file was requested, which is how "nothing was downloaded
// twice" properties are checked. [Host.SetDown] makes every request
// fail with 503 to exercise fallback hosts.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve for channel operations so individual tests never block
// forever on a broken implementation.
package testutil
