package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/petems/go-s3-sitesync/internal/storage"
)

func (a *app) listBucketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-buckets",
		Short: "List the buckets owned by the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			remote, err := a.newStore(ctx, a.opts)
			if err != nil {
				return withExitCode(remoteExitCode(err, SetupFailed), err)
			}

			buckets, err := remote.ListBuckets(ctx)
			if err != nil {
				return withExitCode(remoteExitCode(err, SetupFailed), err)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, b := range buckets {
				created := ""
				if !b.CreationDate.IsZero() {
					created = b.CreationDate.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%s\n", cyan(b.Name), created)
			}
			return tw.Flush()
		},
	}
}

func (a *app) listObjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-objects [BUCKET]",
		Short: "List the objects of a bucket with their size and fingerprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.opts.Bucket = args[0]
			}
			if err := validateCmdLineFlag("Bucket", a.opts.Bucket); err != nil {
				return withExitCode(CmdLineOptionError, err)
			}
			loc, _ := storage.ParseLocation(a.opts.Bucket)

			cmd.SilenceUsage = true
			ctx := cmd.Context()

			remote, err := a.newStore(ctx, a.opts)
			if err != nil {
				return withExitCode(remoteExitCode(err, SetupFailed), err)
			}

			objects, err := remote.ListObjects(ctx, loc)
			if err != nil {
				return withExitCode(remoteExitCode(err, ManifestFailed), err)
			}

			var total int64
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, obj := range objects {
				modified := ""
				if !obj.LastModified.IsZero() {
					modified = humanize.Time(obj.LastModified)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", obj.Key, humanize.IBytes(uint64(obj.Size)), obj.ETag, faint(modified))
				total += obj.Size
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			a.say(fmt.Sprintf("%s objects, %s in %s",
				humanize.Comma(int64(len(objects))), humanize.IBytes(uint64(total)), loc), "")
			return nil
		},
	}
	cmd.Flags().StringP("bucket", "b", a.opts.Bucket, "Bucket to list: name, s3://name or s3://name/prefix")
	return cmd
}
