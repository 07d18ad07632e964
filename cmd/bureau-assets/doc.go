// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-assets maintains the resource packages of one sandbox from
// the command line.
//
// Every command reads the sandbox configuration from --config or the
// BUREAU_ASSETS_CONFIG environment variable, takes the sandbox lock,
// and drives the same operations an application would:
//
//	bureau-assets update game              # refresh the manifest and download everything
//	bureau-assets update game --tags level # download only units tagged "level"
//	bureau-assets verify game              # re-check cached files against the manifest
//	bureau-assets show game                # print the current manifest
//	bureau-assets clear game --unused      # delete cache files no manifest references
//	bureau-assets load game hero           # load one resource and report its size
//
// Logs go to stderr; command results go to stdout.
package main
