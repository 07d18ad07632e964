// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
)

func clearCommand(ctx context.Context, stdout io.Writer) *cli.Command {
	var (
		flags  sessionFlags
		unused bool
	)
	return &cli.Command{
		Name:    "clear",
		Summary: "Delete cached files of a package",
		Description: `Delete the package's cache directory. With --unused, delete only the
files the current manifest no longer references.`,
		Usage: "bureau-assets clear <package> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("clear", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&unused, "unused", false, "delete only files the current manifest does not reference")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("clear takes exactly one package name")
			}
			s, err := openSession(flags, "clear", args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.initialize(ctx); err != nil {
				return err
			}
			if !unused {
				if err := s.pkg.ClearAllCacheFiles(); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s: cache cleared\n", s.pkg.Name())
				return nil
			}
			if s.pkg.Manifest() == nil {
				return errNoManifest
			}
			removed, err := s.pkg.ClearUnusedCacheFiles()
			if err != nil {
				return err
			}
			for _, name := range removed {
				s.logger.Debug("removed", "file", name)
			}
			fmt.Fprintf(stdout, "%s: removed %d unused files\n", s.pkg.Name(), len(removed))
			return nil
		},
	}
}
