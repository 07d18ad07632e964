// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/tui"
)

// errNoManifest is returned by commands that need a manifest when
// neither a persisted nor a built-in one exists.
var errNoManifest = errors.New("package has no manifest yet; run 'bureau-assets update' first")

func showCommand(ctx context.Context, stdout io.Writer, theme tui.Theme) *cli.Command {
	var (
		flags   sessionFlags
		tags    []string
		entries bool
	)
	return &cli.Command{
		Name:    "show",
		Summary: "Print the current manifest of a package",
		Usage:   "bureau-assets show <package> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringSliceVar(&tags, "tags", nil, "list only entries with any of these tags")
			flagSet.BoolVar(&entries, "entries", false, "list resource entries as well as units")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("show takes exactly one package name")
			}
			s, err := openSession(flags, "show", args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.initialize(ctx); err != nil {
				return err
			}
			current := s.pkg.Manifest()
			if current == nil {
				return errNoManifest
			}

			fmt.Fprintln(stdout, theme.Box(
				theme.Header(fmt.Sprintf("%s version %d", current.PackageName(), current.Version())),
				theme.Faint(fmt.Sprintf("%d units, %d entries, %s, mode %s",
					current.UnitCount(), current.EntryCount(),
					humanize.Bytes(uint64(current.TotalSize())), s.pkg.Mode())),
			))

			tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tSIZE\tFLAGS\tTAGS")
			for _, unit := range current.Units() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					unit.ID, humanize.Bytes(uint64(unit.Size)), unitFlags(unit), strings.Join(unit.Tags, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !entries && len(tags) == 0 {
				return nil
			}
			if err := s.reconcile(ctx); err != nil {
				return err
			}

			fmt.Fprintln(stdout)
			tw = tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tSOURCE\tOWNER\tDEPENDENCIES\tSTATUS")
			for _, entry := range s.pkg.AssetInfos(tags) {
				status := "cached"
				if remote, err := s.pkg.IsNeedDownloadFromRemote(entry.SourcePath); err != nil {
					status = "invalid"
				} else if remote {
					status = "missing"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					entry.Address, entry.SourcePath, entry.OwnerUnitID,
					strings.Join(entry.DependencyUnitIDs, ","), status)
			}
			return tw.Flush()
		},
	}
}

// unitFlags summarizes how a unit is stored.
func unitFlags(unit manifest.ContentUnit) string {
	var flags []string
	if unit.IsBuiltin {
		flags = append(flags, "builtin")
	}
	if unit.IsEncrypted {
		flags = append(flags, "encrypted")
	}
	if unit.IsRawFile {
		flags = append(flags, "raw")
	}
	if unit.Compression != "" && unit.Compression != "none" {
		flags = append(flags, unit.Compression)
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
