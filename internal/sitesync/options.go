package sitesync

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/petems/go-s3-sitesync/internal/etag"
	"github.com/petems/go-s3-sitesync/internal/storage"
)

// MaxWorkers bounds the number of files processed concurrently.
const MaxWorkers = 256

// DefaultWorkers is the concurrency used when none is configured.
func DefaultWorkers() int {
	return min(runtime.NumCPU()*2, MaxWorkers)
}

type Option func(*Engine) error

// WithChunkSize sets the part size used both for fingerprinting and for
// multipart uploads. The two must agree or no file will ever be skipped.
// Sizes below storage.MinPartSize are rejected since S3 refuses such parts.
func WithChunkSize(size int64) Option {
	return func(e *Engine) error {
		if size < storage.MinPartSize {
			return fmt.Errorf("%w: %d is below the minimum part size of %d",
				etag.ErrInvalidChunkSize, size, storage.MinPartSize)
		}
		e.chunkSize = size
		return nil
	}
}

func WithWorkers(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("workers must be greater than 0")
		}
		if n > MaxWorkers {
			return fmt.Errorf("workers must not exceed %d", MaxWorkers)
		}
		e.workers = n
		return nil
	}
}

// WithDryRun plans the sync without uploading anything.
func WithDryRun() Option {
	return func(e *Engine) error {
		e.dryRun = true
		return nil
	}
}

// WithStopOnFailure stops dispatching new files after the first failure.
// Uploads already in flight still complete.
func WithStopOnFailure() Option {
	return func(e *Engine) error {
		e.stopOnFailure = true
		return nil
	}
}

// WithVerify compares the ETag returned by each upload with the local
// fingerprint and reports a mismatch as a failure.
func WithVerify() Option {
	return func(e *Engine) error {
		e.verify = true
		return nil
	}
}

func WithIgnoreFile(name string) Option {
	return func(e *Engine) error {
		e.ignoreFile = name
		return nil
	}
}

func WithExcludes(patterns ...string) Option {
	return func(e *Engine) error {
		e.excludes = append(e.excludes, patterns...)
		return nil
	}
}

func WithCacheControl(rules ...HeaderRule) Option {
	return func(e *Engine) error {
		compiled, err := newHeaderRules(rules)
		if err != nil {
			return err
		}
		e.headers = append(e.headers, compiled...)
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		e.log = logger
		return nil
	}
}

// WithReporter registers a callback invoked once per file, never concurrently.
func WithReporter(fn func(Result)) Option {
	return func(e *Engine) error {
		e.report = fn
		return nil
	}
}
