// Package sitesync deploys a local directory to a bucket, uploading only the
// files whose content differs from the stored object.
package sitesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/sync/errgroup"

	"github.com/petems/go-s3-sitesync/internal/etag"
	"github.com/petems/go-s3-sitesync/internal/storage"
	"github.com/petems/go-s3-sitesync/internal/walker"
)

var errNotDirectory = errors.New("not a directory")

// Remote is the object store a site is deployed to.
type Remote interface {
	FetchManifest(ctx context.Context, loc storage.Location) (storage.Manifest, error)
	storage.Uploader
}

// Engine runs syncs against a Remote. Its configuration is fixed at
// construction; one Engine may run several syncs, one after the other or in
// parallel.
type Engine struct {
	remote        Remote
	chunkSize     int64
	workers       int
	dryRun        bool
	stopOnFailure bool
	verify        bool
	ignoreFile    string
	excludes      []string
	headers       headerRules
	log           *slog.Logger
	report        func(Result)
}

func New(remote Remote, options ...Option) (*Engine, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote must not be nil")
	}

	e := &Engine{
		remote:     remote,
		chunkSize:  etag.DefaultChunkSize,
		workers:    DefaultWorkers(),
		ignoreFile: walker.DefaultIgnoreFile,
		log:        slog.Default(),
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ChunkSize returns the configured part size.
func (e *Engine) ChunkSize() int64 {
	return e.chunkSize
}

// Sync makes the bucket named by bucket hold every file under root.
//
// Files whose fingerprint equals the stored ETag are skipped, every other
// file is uploaded. Nothing is ever deleted from the bucket. Per-file failures
// are collected in the summary and do not stop the sync, unless the engine
// was built WithStopOnFailure. A manifest or an ignore file that cannot be
// read aborts the sync before any upload, with a nil summary.
//
// When ctx is cancelled no new file is started, uploads in flight run to
// completion, and the partial summary is returned along with ctx.Err().
func (e *Engine) Sync(ctx context.Context, root, bucket string) (*Summary, error) {
	start := time.Now()

	loc, err := storage.ParseLocation(bucket)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, &FileSystemError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &FileSystemError{Path: root, Err: errNotDirectory}
	}

	manifest, err := e.remote.FetchManifest(ctx, loc)
	if err != nil {
		return nil, &ManifestFetchError{Location: loc.String(), Err: err}
	}
	e.log.DebugContext(ctx, "sync started", "location", loc.String(), "root", root, "remote_objects", len(manifest))

	results := newCollector(e.dryRun, e.report)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var fatal error
	walkOpts := []walker.Option{walker.WithIgnoreFile(e.ignoreFile), walker.WithExcludes(e.excludes...)}
	for file, err := range walker.Walk(root, walkOpts...) {
		if gctx.Err() != nil {
			break
		}

		if err != nil {
			key := file.Key
			if key != "" {
				key = loc.Key(key)
			}
			fsErr := walkFailure(file.Path, key, err)
			// nothing has been dispatched yet: the rules load before the first file
			if errors.Is(err, walker.ErrIgnoreFile) {
				fatal = fsErr
				break
			}
			results.add(Result{Key: key, Path: file.Path, Outcome: Failed, Err: fsErr})
			if e.stopOnFailure {
				g.Go(func() error { return fsErr })
			}
			continue
		}

		g.Go(func() error {
			return e.syncFile(gctx, loc, manifest, file, results)
		})
	}

	failure := g.Wait()
	if fatal != nil {
		return nil, fatal
	}
	summary := results.result(time.Since(start))

	e.log.DebugContext(ctx, "sync finished",
		"location", loc.String(),
		"scanned", summary.FilesScanned,
		"uploaded", summary.FilesUploaded,
		"skipped", summary.FilesSkipped,
		"errors", len(summary.Errors),
		"took", summary.Duration)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if failure != nil {
		return summary, failure
	}
	return summary, nil
}

// syncFile plans and carries out the sync of a single file. It returns an
// error only when the failure must stop the whole sync.
func (e *Engine) syncFile(
	ctx context.Context,
	loc storage.Location,
	manifest storage.Manifest,
	file walker.File,
	results *collector,
) error {
	if ctx.Err() != nil {
		return nil
	}

	key := loc.Key(file.Key)
	res := Result{Key: key, Path: file.Path, Size: file.Size}

	fail := func(err error) error {
		res.Outcome = Failed
		res.Err = err
		results.add(res)
		e.log.DebugContext(ctx, "file failed", "key", key, "err", err)
		if e.stopOnFailure {
			return err
		}
		return nil
	}

	fp, err := etag.ComputeFile(file.Path, e.chunkSize)
	if err != nil {
		return fail(&FileSystemError{Path: file.Path, Key: key, Err: err})
	}
	res.Fingerprint = fp

	remote, exists := manifest.Lookup(key)
	res.Existing = exists
	if exists && remote == fp {
		res.Outcome = Skipped
		results.add(res)
		e.log.DebugContext(ctx, "file unchanged", "key", key, "etag", fp, "parts", fp.Parts())
		return nil
	}

	if e.dryRun {
		res.Outcome = Uploaded
		results.add(res)
		return nil
	}

	// the walk may have moved on after a cancel; don't start anything new
	if ctx.Err() != nil {
		return nil
	}

	size, err := e.upload(context.WithoutCancel(ctx), loc, file, key, fp)
	if err != nil {
		return fail(err)
	}

	res.Size = size
	res.Outcome = Uploaded
	results.add(res)
	e.log.DebugContext(ctx, "file uploaded", "key", key, "etag", fp, "new", !exists,
		"parts", etag.ChunkCount(size, etag.EffectiveChunkSize(size, e.chunkSize)))
	return nil
}

func (e *Engine) upload(
	ctx context.Context,
	loc storage.Location,
	file walker.File,
	key string,
	fp etag.Fingerprint,
) (size int64, err error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return 0, &FileSystemError{Path: file.Path, Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &FileSystemError{Path: file.Path, Key: key, Err: err}
	}

	out, err := e.remote.Upload(ctx, &storage.UploadInput{
		Bucket:       loc.Bucket,
		Key:          key,
		Body:         f,
		ContentType:  aws.String(storage.DetectContentType(key)),
		CacheControl: e.headers.cacheControl(key),
		PartSize:     e.chunkSize,
	})
	if err != nil {
		return 0, &UploadError{Key: key, Err: err}
	}

	if e.verify {
		var stored etag.Fingerprint
		if out != nil && out.ETag != nil {
			stored = etag.Normalize(*out.ETag)
		}
		if stored != fp {
			return 0, &FingerprintMismatchError{Key: key, Local: fp, Remote: stored}
		}
	}

	return info.Size(), nil
}

// walkFailure reports a walk error against the local path it concerns.
func walkFailure(path, key string, err error) *FileSystemError {
	var walkErr *walker.Error
	if errors.As(err, &walkErr) {
		path, err = walkErr.Path, walkErr.Err
	}
	return &FileSystemError{Path: path, Key: key, Err: err}
}
