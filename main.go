package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petems/go-s3-sitesync/internal/sitesync"
	"github.com/petems/go-s3-sitesync/internal/storage"
)

// Exit codes
const (
	Success = iota
	SetupFailed
	S3AuthError
	CmdLineOptionError
	SyncFailed
	ManifestFailed
	Interrupted
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

// exitError carries the process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return Success
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// whatever cobra rejects before RunE is a command line problem
	return CmdLineOptionError
}

// store is everything the commands need from the object store.
type store interface {
	sitesync.Remote
	ListBuckets(ctx context.Context) ([]storage.BucketInfo, error)
	ListObjects(ctx context.Context, loc storage.Location) ([]storage.ObjectInfo, error)
}

type app struct {
	stdout, stderr io.Writer

	v    *viper.Viper
	opts *options
	say  func(...string)

	newStore func(ctx context.Context, o *options) (store, error)
	closeLog func() error
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		v:        viper.New(),
		opts:     defaultOptions(),
		say:      func(...string) {},
		newStore: newStorageClient,
		closeLog: func() error { return nil },
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "go-s3-sitesync",
		Short:         "Deploy a static site directory to an S3 bucket, uploading only what changed",
		Version:       GetVersion(),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return withExitCode(CmdLineOptionError, a.loadOptions(cmd))
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringVar(&a.opts.cfgFile, "cfgfile", a.opts.cfgFile, "Config file location")
	pf.String("region", a.opts.Region, "AWS region")
	pf.String("profile", a.opts.Profile, "AWS shared profile")
	pf.String("endpoint", "", "Custom S3 endpoint, for S3 compatible stores")
	pf.Bool("path-style", false, "Use path style bucket addressing")
	pf.String("log-level", a.opts.LogLevel, "Log level: debug, info, warn or error")
	pf.String("log-format", a.opts.LogFormat, "Log format: text or json")
	pf.String("log-file", "", "Write the log to this file instead of stderr")
	pf.BoolVar(&a.opts.debug, "debug", false, "Shorthand for --log-level debug")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Print the name of the files as they are processed")
	pf.BoolVarP(&a.opts.quiet, "quiet", "q", false, "Print only warnings and/or errors")

	root.AddCommand(a.syncCmd(), a.listBucketsCmd(), a.listObjectsCmd(), newVersionCmd())
	return root
}

func (a *app) printError(err error) {
	fmt.Fprintln(a.stderr, red("Error:"), err)
}

func run(ctx context.Context, a *app, args []string) int {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	_ = a.closeLog()
	if err != nil {
		a.printError(err)
	}
	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	os.Exit(code)
}
