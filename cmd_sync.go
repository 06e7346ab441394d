package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petems/go-s3-sitesync/internal/logging"
	"github.com/petems/go-s3-sitesync/internal/sitesync"
	"github.com/petems/go-s3-sitesync/internal/storage"
)

func (a *app) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [SOURCE] [BUCKET]",
		Short: "Upload the files of SOURCE whose content differs from the objects in BUCKET",
		Long: `Upload the files of SOURCE whose content differs from the objects in BUCKET.

Each local file is fingerprinted the way S3 computes ETags for the configured
chunk size and compared with the ETag listed in the bucket. Files with a
matching object are skipped, every other file is uploaded. Nothing is deleted.

BUCKET is a bucket name, s3://name or s3://name/prefix.`,
		Args: cobra.MaximumNArgs(2),
		RunE: a.runSync,
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.StringP("bucket", "b", a.opts.Bucket, "Bucket to upload files to: name, s3://name or s3://name/prefix")
	f.StringP("source", "s", a.opts.Source, "Source folder for files to be uploaded")
	f.IntP("workers", "w", a.opts.Workers, "No. of workers to use for uploads")
	f.String("chunk-size", a.opts.ChunkSize, "Multipart chunk size; must match the one used for earlier uploads")
	f.String("ignore-file", a.opts.IgnoreFile, "Name of the ignore file read from the source root")
	f.StringSlice("exclude", nil, "Gitignore style pattern of files to leave out (repeatable)")
	f.StringArray("cache-control", nil, "Cache-Control rule as GLOB=VALUE, first match wins (repeatable)")
	f.Bool("stop-on-failure", false, "Stop starting new uploads after the first failure")
	f.Bool("verify", false, "Check the ETag returned by each upload against the local fingerprint")
	f.BoolVar(&a.opts.dryRun, "dry", false, "Dry run (do not upload)")
	f.BoolVar(&a.opts.saveCfg, "save", false, "Saves the current options to the config file")

	return cmd
}

func (a *app) runSync(cmd *cobra.Command, args []string) error {
	o := a.opts
	if len(args) > 0 {
		o.Source = args[0]
	}
	if len(args) > 1 {
		o.Bucket = args[1]
	}

	flagRules, _ := cmd.Flags().GetStringArray("cache-control")
	rules, err := parseCacheControlFlags(flagRules)
	if err != nil {
		return withExitCode(CmdLineOptionError, err)
	}
	o.CacheControl = append(o.CacheControl, rules...)

	if err := validateCmdLineFlags(o); err != nil {
		return withExitCode(CmdLineOptionError, fmt.Errorf("required field missing or invalid: %w", err))
	}
	chunkSize, _ := parseChunkSize(o.ChunkSize)

	engineOpts := []sitesync.Option{
		sitesync.WithChunkSize(chunkSize),
		sitesync.WithWorkers(o.Workers),
		sitesync.WithIgnoreFile(o.IgnoreFile),
		sitesync.WithExcludes(o.Exclude...),
		sitesync.WithCacheControl(o.CacheControl...),
		sitesync.WithLogger(slog.Default()),
		sitesync.WithReporter(reporter(a.say, o.dryRun)),
	}
	if o.dryRun {
		engineOpts = append(engineOpts, sitesync.WithDryRun())
	}
	if o.StopOnFailure {
		engineOpts = append(engineOpts, sitesync.WithStopOnFailure())
	}
	if o.Verify {
		engineOpts = append(engineOpts, sitesync.WithVerify())
	}

	if o.saveCfg {
		if err := o.dump(o.cfgFile); err != nil {
			return withExitCode(SetupFailed, fmt.Errorf("save config: %w", err))
		}
	}

	cmd.SilenceUsage = true
	ctx := cmd.Context()

	remote, err := a.newStore(ctx, o)
	if err != nil {
		return withExitCode(remoteExitCode(err, SetupFailed), err)
	}

	engine, err := sitesync.New(remote, engineOpts...)
	if err != nil {
		return withExitCode(CmdLineOptionError, err)
	}

	a.say(fmt.Sprintf("Syncing %s to %s", o.Source, o.Bucket), "Uploading ")
	done := logging.DebugTimeElapsed(slog.Default(), "sync command")
	summary, err := engine.Sync(ctx, o.Source, o.Bucket)
	done()
	if summary != nil {
		printSummary(a.say, a.stderr, summary)
	}

	var manifestErr *sitesync.ManifestFetchError
	switch {
	case err == nil && summary.Failed():
		return withExitCode(SyncFailed, fmt.Errorf("%d of %d files failed", len(summary.Errors), summary.FilesScanned))
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return withExitCode(Interrupted, fmt.Errorf("sync interrupted: %w", err))
	case errors.As(err, &manifestErr):
		return withExitCode(remoteExitCode(err, ManifestFailed), err)
	default:
		return withExitCode(remoteExitCode(err, SyncFailed), err)
	}
}

// remoteExitCode singles out rejected credentials from other store failures.
func remoteExitCode(err error, fallback int) int {
	if storage.IsAuthError(err) {
		return S3AuthError
	}
	return fallback
}
