// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for asset
// delivery.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_ASSETS_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search.
//
// The file may carry development, staging, and production sections
// that override the download and loading limits when
// [Config].Environment matches. Production defaults are stricter:
// alternation is shared across operations and the cache is cleared
// when the application version changes.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${ASSETS_ROOT}, and ${VAR:-default} patterns are expanded.
//
// This package depends on no other delivery packages.
package config
