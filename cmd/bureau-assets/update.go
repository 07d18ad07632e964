// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/assets"
	"github.com/bureau-foundation/assetpatch/lib/patch"
)

// progressInterval is how often a running download logs progress.
const progressInterval = 2 * time.Second

func updateCommand(ctx context.Context, stdout io.Writer) *cli.Command {
	var (
		flags         sessionFlags
		tags          []string
		maxConcurrent int
		retries       int
		timeout       time.Duration
		manifestOnly  bool
	)
	return &cli.Command{
		Name:    "update",
		Summary: "Refresh a package manifest and download its content",
		Description: `Fetch the package's version record and, when it changed, the new
manifest. Cached files are verified against the manifest, then every
unit that is neither built in nor already cached is downloaded.

With --tags only units carrying one of the tags are downloaded.`,
		Usage: "bureau-assets update <package> [flags]",
		Examples: []cli.Example{
			{Description: "Bring a package fully up to date", Command: "bureau-assets update game"},
			{Description: "Download only the first level", Command: "bureau-assets update game --tags level1"},
			{Description: "Refresh the manifest without downloading", Command: "bureau-assets update game --manifest-only"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("update", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringSliceVar(&tags, "tags", nil, "download only units with any of these tags")
			flagSet.IntVar(&maxConcurrent, "max-concurrent", 0, "concurrent downloads (default from config)")
			flagSet.IntVar(&retries, "retries", 0, "attempts per file (default from config)")
			flagSet.DurationVar(&timeout, "timeout", 0, "per-request timeout (default from config)")
			flagSet.BoolVar(&manifestOnly, "manifest-only", false, "refresh the manifest and stop")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("update takes exactly one package name")
			}
			s, err := openSession(flags, "update", args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.initialize(ctx); err != nil {
				return err
			}
			previous := s.pkg.ResourceVersion()
			update := s.pkg.UpdateManifestAsync(timeout)
			if err := s.drive(ctx, update, nil); err != nil {
				return fmt.Errorf("updating manifest: %w", err)
			}
			current := s.pkg.ResourceVersion()
			if update.FoundNewManifest() {
				fmt.Fprintf(stdout, "%s: manifest %d -> %d\n", s.pkg.Name(), previous, current)
			} else {
				fmt.Fprintf(stdout, "%s: manifest %d is current\n", s.pkg.Name(), current)
			}
			if update.FailedCount() > 0 {
				fmt.Fprintf(stdout, "%s: %d cached files failed verification and were removed\n",
					s.pkg.Name(), update.FailedCount())
			}
			if manifestOnly {
				return nil
			}
			return download(ctx, s, stdout, tags, patch.DownloadOptions{
				MaxConcurrent: maxConcurrent,
				MaxRetries:    retries,
				Timeout:       timeout,
			})
		},
	}
}

func download(ctx context.Context, s *session, stdout io.Writer, tags []string, options patch.DownloadOptions) error {
	var (
		downloader *assets.Downloader
		err        error
	)
	if len(tags) > 0 {
		downloader, err = s.pkg.CreateDownloaderByTags(tags, options)
	} else {
		downloader, err = s.pkg.CreateDownloader(options)
	}
	if err != nil {
		return err
	}
	if downloader.ItemCount() == 0 {
		fmt.Fprintf(stdout, "%s: nothing to download\n", s.pkg.Name())
		return nil
	}

	started := s.clock.Now()
	lastReport := started
	downloader.BeginDownload()
	err = s.drive(ctx, downloader, func() {
		now := s.clock.Now()
		if now.Sub(lastReport) < progressInterval || downloader.IsDone() {
			return
		}
		lastReport = now
		s.logger.Info("downloading",
			"progress", fmt.Sprintf("%.0f%%", downloader.Progress()*100),
			"files", fmt.Sprintf("%d/%d", downloader.CompletedCount(), downloader.ItemCount()),
			"in_flight", downloader.InFlight(),
		)
	})
	if err != nil {
		downloader.Cancel()
		return fmt.Errorf("downloading: %w", err)
	}
	fmt.Fprintf(stdout, "%s: downloaded %d files in %s, %s ready\n",
		s.pkg.Name(),
		downloader.CompletedCount(),
		s.clock.Now().Sub(started).Round(time.Millisecond),
		humanize.Bytes(uint64(downloader.TotalBytes())),
	)
	return nil
}
