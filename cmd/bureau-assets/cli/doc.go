// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree framework for bureau-assets.
//
// A [Command] is either a group of subcommands or a leaf with a Run
// function and an optional pflag set. [Command.Execute] dispatches the
// first positional argument to a subcommand, parses flags for leaves,
// and answers -h, --help, and help anywhere in the tree. Unknown
// commands and flags get an edit-distance suggestion.
//
// [NewCommandLogger] builds the slog logger every command uses: text
// on a terminal, JSON otherwise.
package cli
