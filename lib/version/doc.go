// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the asset
// delivery binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// When GitCommit or GitDirty is not injected, the VCS stamp the Go
// toolchain embeds is used instead. [UserAgent] identifies the binary
// to package hosts.
//
// [Short] doubles as the application version recorded in a sandbox's
// cache record when no version is configured: a build with a
// different version starts a new cache generation.
//
//	go build -ldflags "-X github.com/bureau-foundation/assetpatch/lib/version.Version=1.4.0"
package version
