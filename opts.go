package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/petems/go-s3-sitesync/internal/etag"
	"github.com/petems/go-s3-sitesync/internal/logging"
	"github.com/petems/go-s3-sitesync/internal/sitesync"
	"github.com/petems/go-s3-sitesync/internal/storage"
	"github.com/petems/go-s3-sitesync/internal/walker"
)

const (
	envPrefix      = "S3SITESYNC"
	defaultCfgFile = ".go-s3-sitesync.json"
	// S3 refuses parts above 5 GiB.
	maxChunkSize = 5 << 30
)

type options struct {
	Bucket        string                `json:"bucket,omitempty" mapstructure:"bucket"`
	Source        string                `json:"source,omitempty" mapstructure:"source"`
	Region        string                `json:"region,omitempty" mapstructure:"region"`
	Profile       string                `json:"profile,omitempty" mapstructure:"profile"`
	Endpoint      string                `json:"endpoint,omitempty" mapstructure:"endpoint"`
	PathStyle     bool                  `json:"path_style,omitempty" mapstructure:"path_style"`
	Workers       int                   `json:"workers,omitempty" mapstructure:"workers"`
	ChunkSize     string                `json:"chunk_size,omitempty" mapstructure:"chunk_size"`
	IgnoreFile    string                `json:"ignore_file,omitempty" mapstructure:"ignore_file"`
	Exclude       []string              `json:"exclude,omitempty" mapstructure:"exclude"`
	CacheControl  []sitesync.HeaderRule `json:"cache_control,omitempty" mapstructure:"cache_control"`
	StopOnFailure bool                  `json:"stop_on_failure,omitempty" mapstructure:"stop_on_failure"`
	Verify        bool                  `json:"verify,omitempty" mapstructure:"verify"`
	LogLevel      string                `json:"log_level,omitempty" mapstructure:"log_level"`
	LogFormat     string                `json:"log_format,omitempty" mapstructure:"log_format"`
	LogFile       string                `json:"log_file,omitempty" mapstructure:"log_file"`

	// static credentials, never saved
	AccessKeyID     string `json:"-" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"-" mapstructure:"secret_access_key"`

	cfgFile string

	dryRun, verbose, quiet,
	debug, saveCfg bool
}

func defaultOptions() *options {
	return &options{
		Source:     "output",
		Workers:    sitesync.DefaultWorkers(),
		ChunkSize:  humanize.IBytes(uint64(etag.DefaultChunkSize)),
		IgnoreFile: walker.DefaultIgnoreFile,
		Region:     os.Getenv("AWS_DEFAULT_REGION"),
		Profile:    os.Getenv("AWS_DEFAULT_PROFILE"),
		LogLevel:   "info",
		LogFormat:  string(logging.Text),
		cfgFile:    defaultCfgFile,
	}
}

// configKeys maps the flags that may also come from the environment or the
// config file to their key.
var configKeys = map[string]string{
	"bucket":          "bucket",
	"source":          "source",
	"region":          "region",
	"profile":         "profile",
	"endpoint":        "endpoint",
	"path-style":      "path_style",
	"workers":         "workers",
	"chunk-size":      "chunk_size",
	"ignore-file":     "ignore_file",
	"exclude":         "exclude",
	"stop-on-failure": "stop_on_failure",
	"verify":          "verify",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"log-file":        "log_file",
}

// loadOptions resolves the options of cmd: flags first, then S3SITESYNC_*
// environment variables, then the config file, then defaults.
func (a *app) loadOptions(cmd *cobra.Command) error {
	v := a.v
	v.SetConfigFile(a.opts.cfgFile)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", a.opts.cfgFile, err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := configKeys[f.Name]; ok {
			bindErr = errors.Join(bindErr, v.BindPFlag(key, f))
		}
	})
	if bindErr != nil {
		return bindErr
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := errors.Join(v.BindEnv("access_key_id"), v.BindEnv("secret_access_key")); err != nil {
		return err
	}

	if err := v.Unmarshal(a.opts); err != nil {
		return fmt.Errorf("config decode '%s': %w", a.opts.cfgFile, err)
	}

	switch {
	case a.opts.debug:
		a.opts.LogLevel = "debug"
	case a.opts.quiet && a.opts.LogLevel == "info":
		a.opts.LogLevel = "warn"
	}

	_, closeLog, err := logging.Setup(logging.Config{
		Level:  a.opts.LogLevel,
		Format: logging.Format(a.opts.LogFormat),
		File:   a.opts.LogFile,
		Writer: a.stderr,
	})
	if err != nil {
		return err
	}
	a.closeLog = closeLog
	a.say = loggerGen(a.opts, a.stdout)

	return nil
}

func (o *options) dump(fname string) (err error) {
	f, err := os.Create(fname) // #nosec G304 - file path from user config is expected
	if err != nil {
		return err
	}
	defer func() {
		if err2 := f.Close(); err2 != nil {
			err = errors.Join(err, err2)
		}
	}()

	buf, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	_, err = f.Write(buf)
	return err
}

// validateCmdLineFlags validates the sync options. Defers actual validation to validateCmdLineFlag().
func validateCmdLineFlags(o *options) error {
	flags := []struct{ label, val string }{
		{"Bucket", o.Bucket},
		{"Source", o.Source},
		{"Chunk size", o.ChunkSize},
		{"Log format", o.LogFormat},
	}
	for _, f := range flags {
		if err := validateCmdLineFlag(f.label, f.val); err != nil {
			return err
		}
	}

	if o.Workers < 1 || o.Workers > sitesync.MaxWorkers {
		return fmt.Errorf("Workers must be between 1 and %d, got %d", sitesync.MaxWorkers, o.Workers)
	}
	return nil
}

// validateCmdLineFlag handles the actual validation of flags.
func validateCmdLineFlag(label, val string) error {
	switch label {
	case "Bucket":
		if val == "" {
			return fmt.Errorf("%s is not set", label)
		}
		_, err := storage.ParseLocation(val)
		return err
	case "Chunk size":
		_, err := parseChunkSize(val)
		return err
	case "Log format":
		switch logging.Format(val) {
		case logging.Text, logging.JSON:
			return nil
		}
		return fmt.Errorf("%s must be %q or %q, got %q", label, logging.Text, logging.JSON, val)
	default:
		info, err := os.Stat(val)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s %s is not a directory", label, val)
		}
	}
	return nil
}

// parseChunkSize accepts human sizes such as "8MiB" or "16MB".
func parseChunkSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size %q: %w", s, err)
	}
	if n < uint64(storage.MinPartSize) {
		return 0, fmt.Errorf("chunk size %s is below the S3 minimum part size of %s",
			humanize.IBytes(n), humanize.IBytes(uint64(storage.MinPartSize)))
	}
	if n > maxChunkSize {
		return 0, fmt.Errorf("chunk size %s exceeds the S3 maximum part size of %s",
			humanize.IBytes(n), humanize.IBytes(maxChunkSize))
	}
	return int64(n), nil
}

// parseCacheControlFlags turns PATTERN=VALUE pairs into header rules.
func parseCacheControlFlags(values []string) ([]sitesync.HeaderRule, error) {
	rules := make([]sitesync.HeaderRule, 0, len(values))
	for _, val := range values {
		pattern, value, ok := strings.Cut(val, "=")
		if !ok || pattern == "" || value == "" {
			return nil, fmt.Errorf("cache-control rule %q is not PATTERN=VALUE", val)
		}
		rules = append(rules, sitesync.HeaderRule{Pattern: pattern, CacheControl: value})
	}
	return rules, nil
}
