package sitesync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/go-s3-sitesync/internal/etag"
	"github.com/petems/go-s3-sitesync/internal/storage"
	"github.com/petems/go-s3-sitesync/internal/storage/storagetest"
	"github.com/petems/go-s3-sitesync/internal/walker"
)

const testBucket = "site"

func writeSite(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newEngine(t *testing.T, remote Remote, options ...Option) *Engine {
	t.Helper()
	e, err := New(remote, options...)
	require.NoError(t, err)
	return e
}

func sorted(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}

func assertCounts(t *testing.T, s *Summary, uploaded, skipped, failed int) {
	t.Helper()
	assert.Equal(t, uploaded, s.FilesUploaded, "uploaded")
	assert.Equal(t, skipped, s.FilesSkipped, "skipped")
	assert.Len(t, s.Errors, failed, "errors")
	assert.Equal(t, uploaded+skipped+failed, s.FilesScanned, "scanned")
}

func TestSync_EmptyBucketUploadsEverything(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html": "<h1>home</h1>",
		"about.html": "<h1>about</h1>",
		"LICENSE":    "MIT",
	})
	bucket := storagetest.NewBucket(testBucket)

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 3, 0, 0)
	assert.Len(t, summary.Results, 3)
	assert.False(t, summary.Failed())
	assert.Empty(t, summary.Errors)
	assert.Equal(t, int64(len("<h1>home</h1>")+len("<h1>about</h1>")+len("MIT")), summary.BytesUploaded)
	assert.Equal(t, []string{"LICENSE", "about.html", "index.html"}, sorted(bucket.UploadedKeys()))

	index, ok := bucket.Object("index.html")
	require.True(t, ok)
	assert.Equal(t, "<h1>home</h1>", string(index.Content))
	assert.Contains(t, index.ContentType, "text/html")

	license, ok := bucket.Object("LICENSE")
	require.True(t, ok)
	assert.Equal(t, storage.DefaultContentType, license.ContentType)
}

func TestSync_SecondRunUploadsNothing(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html":          "home",
		"assets/css/site.css": "body { margin: 0 }",
		"assets/js/app.js":    "console.log('hi')",
	})
	bucket := storagetest.NewBucket(testBucket)
	engine := newEngine(t, bucket)

	first, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	assertCounts(t, first, 3, 0, 0)

	bucket.Reset()
	second, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, second, 0, 3, 0)
	assert.Zero(t, bucket.UploadCount)
	assert.Zero(t, second.BytesUploaded)
}

func TestSync_OnlyEditedFileIsUploaded(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html": "version one",
		"about.html": "about",
	})
	bucket := storagetest.NewBucket(testBucket)
	engine := newEngine(t, bucket)

	_, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	writeSite(t, root, map[string]string{"index.html": "version two"})
	bucket.Reset()

	summary, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 1, 1, 0)
	assert.Equal(t, []string{"index.html"}, bucket.UploadedKeys())

	obj, _ := bucket.Object("index.html")
	assert.Equal(t, "version two", string(obj.Content))
}

func TestSync_UnchangedObjectFromPreviousDeployIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "same"})
	bucket := storagetest.NewBucket(testBucket)
	bucket.Put("index.html", []byte("same"), etag.DefaultChunkSize)

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 0, 1, 0)
	assert.Zero(t, bucket.UploadCount)
}

func TestSync_ForeignETagIsReuploaded(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "same"})
	bucket := storagetest.NewBucket(testBucket)
	// same bytes, uploaded by a tool that split them in two parts
	bucket.PutETag("index.html", etag.Fingerprint(`"0123456789abcdef0123456789abcdef-2"`))

	var results []Result
	summary, err := newEngine(t, bucket, WithReporter(func(r Result) {
		results = append(results, r)
	})).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 1, 0, 0)
	require.Len(t, results, 1)
	assert.True(t, results[0].Existing)
	assert.Equal(t, Uploaded, results[0].Outcome)
}

func TestSync_NestedKeys(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"assets/css/site.css": "css"})
	bucket := storagetest.NewBucket(testBucket)

	_, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	obj, ok := bucket.Object("assets/css/site.css")
	require.True(t, ok)
	assert.Equal(t, "text/css; charset=utf-8", obj.ContentType)
}

func TestSync_PrefixLocation(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html": "docs home",
		"guide.html": "guide",
	})
	bucket := storagetest.NewBucket(testBucket)
	bucket.Put("docs/guide.html", []byte("guide"), etag.DefaultChunkSize)
	// a root level object with the same relative name must not count
	bucket.Put("index.html", []byte("docs home"), etag.DefaultChunkSize)

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, "s3://site/docs/")
	require.NoError(t, err)

	assertCounts(t, summary, 1, 1, 0)
	assert.Equal(t, []string{"docs/index.html"}, bucket.UploadedKeys())
}

func TestSync_ChunkSizeDrivesMultipartFingerprints(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("x", 2*int(storage.MinPartSize)+1)
	writeSite(t, root, map[string]string{"big.bin": content})
	bucket := storagetest.NewBucket(testBucket)
	engine := newEngine(t, bucket, WithChunkSize(storage.MinPartSize))

	_, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	obj, ok := bucket.Object("big.bin")
	require.True(t, ok)
	assert.Equal(t, 3, obj.ETag.Parts())
	assert.Equal(t, storage.MinPartSize, bucket.GetUploadByKey("big.bin").Input.PartSize)

	bucket.Reset()
	summary, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	assertCounts(t, summary, 0, 1, 0)

	// a different chunk size no longer matches the stored multipart tag
	bucket.Reset()
	summary, err = newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	assertCounts(t, summary, 1, 0, 0)
}

func TestSync_DebugLogCarriesPartCount(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"big.bin": strings.Repeat("y", 2*int(storage.MinPartSize)+1)})
	bucket := storagetest.NewBucket(testBucket)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := newEngine(t, bucket, WithChunkSize(storage.MinPartSize), WithLogger(logger))

	_, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	_, err = engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	parts := make(map[string]float64)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if n, ok := entry["parts"].(float64); ok {
			parts[entry["msg"].(string)] = n
		}
	}
	assert.Equal(t, map[string]float64{"file uploaded": 3, "file unchanged": 3}, parts)
}

func TestSync_UploadFailureIsIsolated(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"a.html": "a",
		"b.html": "b",
		"c.html": "c",
	})
	bucket := storagetest.NewBucket(testBucket)
	bucket.ErrorFunc = storagetest.ErrorOnKey("b.html", storagetest.NewAccessDeniedError())

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 2, 0, 1)
	assert.True(t, summary.Failed())
	assert.Equal(t, []string{"a.html", "c.html"}, sorted(bucket.UploadedKeys()))

	var uploadErr *UploadError
	require.ErrorAs(t, summary.Errors[0], &uploadErr)
	assert.Equal(t, "b.html", uploadErr.Key)
	assert.True(t, storage.IsAccessDenied(summary.Errors[0]))

	_, stored := bucket.Object("b.html")
	assert.False(t, stored)
}

func TestSync_StopOnFailure(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]string)
	for i := range 10 {
		files[fmt.Sprintf("page%02d.html", i)] = fmt.Sprintf("page %d", i)
	}
	writeSite(t, root, files)
	bucket := storagetest.NewBucket(testBucket)
	bucket.ErrorFunc = storagetest.ErrorAlways(storagetest.NewNetworkError())

	summary, err := newEngine(t, bucket, WithWorkers(1), WithStopOnFailure()).
		Sync(context.Background(), root, testBucket)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	require.NotNil(t, summary)
	assert.Equal(t, 1, bucket.UploadCount)
	assertCounts(t, summary, 0, 0, 1)
}

func TestSync_CancelLetsInFlightUploadFinish(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"a.html": "a",
		"b.html": "b",
		"c.html": "c",
		"d.html": "d",
	})
	bucket := storagetest.NewBucket(testBucket)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bucket.OnUpload = func(*storage.UploadInput) { cancel() }

	summary, err := newEngine(t, bucket, WithWorkers(1)).Sync(ctx, root, testBucket)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 1, bucket.UploadCount)
	assert.Len(t, bucket.UploadedKeys(), 1, "the upload running at cancel time completes")
	assertCounts(t, summary, 1, 0, 0)
}

type lyingRemote struct {
	*storagetest.Bucket
}

func (r lyingRemote) Upload(ctx context.Context, input *storage.UploadInput) (*storage.UploadOutput, error) {
	out, err := r.Bucket.Upload(ctx, input)
	if err != nil {
		return nil, err
	}
	tag := `"ffffffffffffffffffffffffffffffff"`
	out.ETag = &tag
	return out, nil
}

func TestSync_VerifyReportsMismatch(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "home"})
	remote := lyingRemote{storagetest.NewBucket(testBucket)}

	summary, err := newEngine(t, remote, WithVerify()).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	assertCounts(t, summary, 0, 0, 1)

	var mismatch *FingerprintMismatchError
	require.ErrorAs(t, summary.Errors[0], &mismatch)
	assert.ErrorIs(t, summary.Errors[0], ErrFingerprintMismatch)
	assert.Equal(t, "index.html", mismatch.Key)
	assert.Equal(t, etag.Fingerprint(`"ffffffffffffffffffffffffffffffff"`), mismatch.Remote)

	// without verification the same upload counts as a success
	summary, err = newEngine(t, remote).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)
	assertCounts(t, summary, 1, 0, 0)
}

func TestSync_DryRunUploadsNothing(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html": "new home",
		"about.html": "about",
	})
	bucket := storagetest.NewBucket(testBucket)
	bucket.Put("about.html", []byte("about"), etag.DefaultChunkSize)

	summary, err := newEngine(t, bucket, WithDryRun()).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assertCounts(t, summary, 1, 1, 0)
	assert.Zero(t, bucket.UploadCount)
	assert.Equal(t, 1, bucket.Len())
}

func TestSync_ManifestFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "home"})
	bucket := storagetest.NewBucket(testBucket)
	bucket.ManifestErr = storagetest.NewAccessDeniedError()

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)

	assert.Nil(t, summary)
	var manifestErr *ManifestFetchError
	require.ErrorAs(t, err, &manifestErr)
	assert.Equal(t, "s3://site", manifestErr.Location)
	assert.True(t, storage.IsAccessDenied(err))
	assert.Zero(t, bucket.UploadCount)
}

func TestSync_UnknownBucket(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "home"})
	bucket := storagetest.NewBucket(testBucket)

	_, err := newEngine(t, bucket).Sync(context.Background(), root, "elsewhere")

	require.Error(t, err)
	assert.True(t, storage.IsNoSuchBucket(err))
}

func TestSync_BadArguments(t *testing.T) {
	bucket := storagetest.NewBucket(testBucket)
	engine := newEngine(t, bucket)

	_, err := engine.Sync(context.Background(), filepath.Join(t.TempDir(), "missing"), testBucket)
	var fsErr *FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = engine.Sync(context.Background(), file, testBucket)
	require.ErrorAs(t, err, &fsErr)

	_, err = engine.Sync(context.Background(), t.TempDir(), "s3://")
	require.Error(t, err)

	assert.Zero(t, bucket.ManifestCount)
}

func TestSync_UnreadableEntryIsCollected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "home"})
	require.NoError(t, os.Symlink(filepath.Join(root, "gone.html"), filepath.Join(root, "dangling.html")))
	bucket := storagetest.NewBucket(testBucket)

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 1, 0, 1)
	var fsErr *FileSystemError
	require.ErrorAs(t, summary.Errors[0], &fsErr)
	assert.Equal(t, "dangling.html", fsErr.Key)
	assert.Equal(t, filepath.Join(root, "dangling.html"), fsErr.Path)
	assert.Equal(t, fmt.Sprintf("local file %s: %v", fsErr.Path, fsErr.Err), fsErr.Error())
	assert.NotContains(t, fsErr.Error(), "walk ")
}

func TestSync_UnreadableEntryUnderPrefixKeepsPrefix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	root := t.TempDir()
	writeSite(t, root, map[string]string{"index.html": "home"})
	require.NoError(t, os.Symlink(filepath.Join(root, "gone.html"), filepath.Join(root, "dangling.html")))
	bucket := storagetest.NewBucket(testBucket)

	var mu sync.Mutex
	var reported []string
	engine := newEngine(t, bucket, WithReporter(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, r.Key)
	}))

	summary, err := engine.Sync(context.Background(), root, "s3://site/docs")
	require.NoError(t, err)

	assertCounts(t, summary, 1, 0, 1)
	assert.Equal(t, []string{"docs/dangling.html", "docs/index.html"}, sorted(reported))
	var fsErr *FileSystemError
	require.ErrorAs(t, summary.Errors[0], &fsErr)
	assert.Equal(t, "docs/dangling.html", fsErr.Key)
}

func TestSync_UnreadableIgnoreFileIsFatal(t *testing.T) {
	root := t.TempDir()
	longComment := "# " + strings.Repeat("x", 70*1024)
	writeSite(t, root, map[string]string{
		".s3syncignore": longComment + "\nsecrets.env\n",
		"secrets.env":   "TOKEN=hunter2",
		"index.html":    "home",
	})
	bucket := storagetest.NewBucket(testBucket)

	var reported int
	engine := newEngine(t, bucket, WithReporter(func(Result) { reported++ }))

	summary, err := engine.Sync(context.Background(), root, testBucket)
	require.Error(t, err)
	assert.Nil(t, summary)

	var fsErr *FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, filepath.Join(root, ".s3syncignore"), fsErr.Path)
	assert.ErrorIs(t, err, walker.ErrIgnoreFile)
	assert.ErrorIs(t, err, bufio.ErrTooLong)

	assert.Zero(t, bucket.UploadCount)
	assert.Zero(t, bucket.Len())
	assert.Zero(t, reported)
}

func TestSync_IgnoreFileThatIsADirectoryIsFatal(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		".s3syncignore/readme": "not a rule file",
		"index.html":           "home",
	})
	bucket := storagetest.NewBucket(testBucket)

	summary, err := newEngine(t, bucket).Sync(context.Background(), root, testBucket)
	require.ErrorIs(t, err, walker.ErrIgnoreFile)
	assert.Nil(t, summary)
	assert.Zero(t, bucket.UploadCount)
}

func TestSync_IgnoreRules(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		".s3syncignore":   "*.map\n",
		"app.js":          "js",
		"app.js.map":      "map",
		"drafts/new.html": "draft",
	})
	bucket := storagetest.NewBucket(testBucket)

	summary, err := newEngine(t, bucket, WithExcludes("drafts/")).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 1, 0, 0)
	assert.Equal(t, []string{"app.js"}, bucket.UploadedKeys())
}

func TestSync_CacheControlRules(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"index.html":        "home",
		"assets/app.js":     "js",
		"assets/index.html": "nested",
		"robots.txt":        "User-agent: *",
	})
	bucket := storagetest.NewBucket(testBucket)

	engine := newEngine(t, bucket, WithCacheControl(
		HeaderRule{Pattern: "**/*.html", CacheControl: "no-cache"},
		HeaderRule{Pattern: "assets/**", CacheControl: "max-age=31536000"},
	))
	_, err := engine.Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	cacheControl := func(key string) string {
		obj, ok := bucket.Object(key)
		require.True(t, ok, key)
		return obj.CacheControl
	}
	assert.Equal(t, "no-cache", cacheControl("index.html"))
	assert.Equal(t, "no-cache", cacheControl("assets/index.html"))
	assert.Equal(t, "max-age=31536000", cacheControl("assets/app.js"))
	assert.Empty(t, cacheControl("robots.txt"))
}

func TestSync_WorkersBoundConcurrency(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]string)
	for i := range 40 {
		files[fmt.Sprintf("dir%d/file%02d.txt", i%4, i)] = strings.Repeat("z", i+1)
	}
	writeSite(t, root, files)
	bucket := storagetest.NewBucket(testBucket)

	summary, err := newEngine(t, bucket, WithWorkers(3)).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assertCounts(t, summary, 40, 0, 0)
	assert.LessOrEqual(t, bucket.MaxConcurrent(), 3)
	assert.Empty(t, bucket.Overlapping())
	assert.Len(t, bucket.UploadedKeys(), 40)
}

func TestSync_ReporterSeesEveryFile(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, map[string]string{
		"a.txt": "a",
		"b.txt": "b",
	})
	bucket := storagetest.NewBucket(testBucket)
	bucket.Put("a.txt", []byte("a"), etag.DefaultChunkSize)
	bucket.ErrorFunc = storagetest.ErrorOnKey("b.txt", errors.New("boom"))

	outcomes := make(map[string]Outcome)
	_, err := newEngine(t, bucket, WithReporter(func(r Result) {
		outcomes[r.Key] = r.Outcome
	})).Sync(context.Background(), root, testBucket)
	require.NoError(t, err)

	assert.Equal(t, map[string]Outcome{"a.txt": Skipped, "b.txt": Failed}, outcomes)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	bucket := storagetest.NewBucket(testBucket)

	tests := []struct {
		name   string
		option Option
	}{
		{"zero workers", WithWorkers(0)},
		{"too many workers", WithWorkers(MaxWorkers + 1)},
		{"zero chunk size", WithChunkSize(0)},
		{"chunk size below minimum part size", WithChunkSize(1024)},
		{"bad pattern", WithCacheControl(HeaderRule{Pattern: "[", CacheControl: "no-cache"})},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(bucket, tt.option)
			assert.Error(t, err)
		})
	}

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(bucket, WithChunkSize(0))
	assert.ErrorIs(t, err, etag.ErrInvalidChunkSize)

	_, err = New(bucket, WithChunkSize(storage.MinPartSize-1))
	assert.ErrorIs(t, err, etag.ErrInvalidChunkSize)

	e, err := New(bucket, WithChunkSize(storage.MinPartSize))
	require.NoError(t, err)
	assert.Equal(t, storage.MinPartSize, e.ChunkSize())
}

func TestNew_Defaults(t *testing.T) {
	e := newEngine(t, storagetest.NewBucket(testBucket))
	assert.Equal(t, etag.DefaultChunkSize, e.ChunkSize())
	assert.GreaterOrEqual(t, e.workers, 1)
	assert.LessOrEqual(t, e.workers, MaxWorkers)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "uploaded", Uploaded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
