// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/patch"
)

func loadCommand(ctx context.Context, stdout io.Writer) *cli.Command {
	var (
		flags    sessionFlags
		copyPath string
	)
	return &cli.Command{
		Name:    "load",
		Summary: "Load one resource and report what was read",
		Description: `Load the resource at an address or source path the way an
application would, downloading its unit and dependencies when they are
not cached. Raw-file resources are made available on disk instead and
can be copied out with --copy.`,
		Usage: "bureau-assets load <package> <location> [flags]",
		Examples: []cli.Example{
			{Description: "Load by address", Command: "bureau-assets load game hero"},
			{Description: "Extract a raw file", Command: "bureau-assets load game intro --copy ./intro.mp4"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("load", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&copyPath, "copy", "", "copy a raw-file resource to this path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("load takes a package name and a location")
			}
			location := args[1]
			s, err := openSession(flags, "load", args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.initialize(ctx); err != nil {
				return err
			}
			if s.pkg.Manifest() == nil {
				return errNoManifest
			}
			if err := s.reconcile(ctx); err != nil {
				return err
			}

			raw := s.pkg.GetRawFileAsync(location, copyPath)
			err = s.drive(ctx, raw, nil)
			switch {
			case err == nil:
				data, err := raw.ReadBytes()
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s: raw file %s (%s)\n", location, raw.Path(), humanize.Bytes(uint64(len(data))))
				if copyPath != "" {
					fmt.Fprintf(stdout, "%s: copied to %s\n", location, copyPath)
				}
				return nil
			case !errors.Is(err, patch.ErrNotRawFile):
				return err
			case copyPath != "":
				return fmt.Errorf("--copy: %w", err)
			}

			handle, err := s.pkg.LoadAssetSync(ctx, location)
			if err != nil {
				return fmt.Errorf("loading %s: %w", location, err)
			}
			defer handle.Release()
			asset, err := handle.Asset()
			if err != nil {
				return err
			}
			data, _ := asset.([]byte)
			fmt.Fprintf(stdout, "%s: loaded %s\n", location, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
}
