// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/tui"
	"github.com/bureau-foundation/assetpatch/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like verify) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	theme := tui.DefaultTheme
	theme.Enabled = cli.IsTerminal(os.Stdout)
	return root(ctx, os.Stdout, theme).Execute(os.Args[1:])
}

// root builds the command tree. Results are written to stdout.
func root(ctx context.Context, stdout io.Writer, theme tui.Theme) *cli.Command {
	return &cli.Command{
		Name:    "bureau-assets",
		Summary: "Maintain versioned resource packages",
		Description: `Maintain the versioned resource packages of a sandbox.

Packages, hosts, and cache locations come from the YAML file named by
--config or the BUREAU_ASSETS_CONFIG environment variable.`,
		Subcommands: []*cli.Command{
			updateCommand(ctx, stdout),
			verifyCommand(ctx, stdout, theme),
			showCommand(ctx, stdout, theme),
			clearCommand(ctx, stdout),
			loadCommand(ctx, stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "bureau-assets %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
