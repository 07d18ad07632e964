// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/tui"
)

func verifyCommand(ctx context.Context, stdout io.Writer, theme tui.Theme) *cli.Command {
	var flags sessionFlags
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify cached files against the current manifest",
		Description: `Check the size and checksum of every cached unit of the current
manifest without contacting a host. Files that fail are deleted so
the next update downloads them again.

Exits 1 when any file failed verification.`,
		Usage: "bureau-assets verify <package> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("verify takes exactly one package name")
			}
			s, err := openSession(flags, "verify", args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.initialize(ctx); err != nil {
				return err
			}
			verification := s.pkg.VerifyCacheAsync()
			if err := s.drive(ctx, verification, nil); err != nil {
				return fmt.Errorf("verifying cache: %w", err)
			}

			fmt.Fprintln(stdout, theme.Header(fmt.Sprintf("%s (manifest %d)", s.pkg.Name(), s.pkg.ResourceVersion())))
			fmt.Fprintf(stdout, "  %s %d\n", theme.Status("valid", 10), verification.VerifiedCount())
			fmt.Fprintf(stdout, "  %s %d\n", theme.Status("invalid", 10), verification.FailedCount())
			fmt.Fprintf(stdout, "  %s %d\n", theme.Status("missing", 10), verification.MissingCount())
			if verification.FailedCount() > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
