// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags -X at link time. Unset values fall back to the
// build information the Go toolchain embeds.
var (
	// Version is the release version. It doubles as the default
	// application version recorded in a sandbox's cache record.
	Version = "0.1.0-dev"

	// GitCommit is the short SHA of the build.
	GitCommit = ""

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = ""

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// commitLength is how many characters of a VCS revision are shown.
const commitLength = 12

var buildSettings = sync.OnceValue(func() map[string]string {
	settings := make(map[string]string)
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	return settings
})

// Info returns the one-line version string.
func Info() string {
	dirty := ""
	if dirtyBuild() {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, Commit(), dirty, BuildTime)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Commit returns the commit the binary was built from, or "unknown".
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if revision := buildSettings()["vcs.revision"]; revision != "" {
		return revision[:min(len(revision), commitLength)]
	}
	return "unknown"
}

// UserAgent is sent with every request to a package host.
func UserAgent() string {
	return "bureau-assets/" + Version
}

func dirtyBuild() bool {
	if GitDirty != "" {
		return GitDirty == "true"
	}
	return buildSettings()["vcs.modified"] == "true"
}
