// Package storagetest provides in-memory doubles of the storage boundary.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/aws/smithy-go"

	"github.com/petems/go-s3-sitesync/internal/etag"
	"github.com/petems/go-s3-sitesync/internal/storage"
)

// Object is a stored object.
type Object struct {
	Content      []byte
	ETag         etag.Fingerprint
	ContentType  string
	CacheControl string
}

// RecordedUpload stores the details of an upload attempt for verification.
type RecordedUpload struct {
	Input   *storage.UploadInput
	Content []byte // Body content is read and stored for verification
	Error   error  // The error returned (if any)
}

// Bucket is an in-memory object store. Uploaded objects get the ETag S3 would
// give them for the requested part size, so a later FetchManifest reports
// exactly what a real bucket would.
type Bucket struct {
	mu sync.Mutex

	Name    string
	objects map[string]*Object

	// Uploads records all upload attempts in order
	Uploads []*RecordedUpload

	// ErrorFunc allows dynamic error injection based on the upload input.
	// If nil, uploads succeed. Return an error to simulate failures.
	ErrorFunc func(input *storage.UploadInput) error

	// ManifestErr is returned by FetchManifest when set.
	ManifestErr error

	// OnUpload runs at the start of every upload, outside the bucket lock.
	OnUpload func(input *storage.UploadInput)

	// UploadCount tracks the total number of upload attempts
	UploadCount   int
	ManifestCount int

	inFlight    map[string]int
	running     int
	maxRunning  int
	overlapping []string
}

// NewBucket creates an empty bucket.
func NewBucket(name string) *Bucket {
	return &Bucket{
		Name:     name,
		objects:  make(map[string]*Object),
		inFlight: make(map[string]int),
	}
}

// Put stores content under key as if it had been uploaded with partSize.
func (b *Bucket) Put(key string, content []byte, partSize int64) {
	fp, err := etag.Compute(bytes.NewReader(content), partSize)
	if err != nil {
		panic(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &Object{Content: content, ETag: fp}
}

// PutETag stores an object with an arbitrary ETag.
func (b *Bucket) PutETag(key string, fp etag.Fingerprint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &Object{ETag: fp}
}

// Object returns the stored object for key.
func (b *Bucket) Object(key string) (*Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// ListBuckets reports this bucket as the only one owned by the caller.
func (b *Bucket) ListBuckets(_ context.Context) ([]storage.BucketInfo, error) {
	return []storage.BucketInfo{{Name: b.Name}}, nil
}

// ListObjects returns the objects under loc sorted by key.
func (b *Bucket) ListObjects(_ context.Context, loc storage.Location) ([]storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if loc.Bucket != b.Name {
		return nil, NewBucketNotFoundError()
	}

	var objects []storage.ObjectInfo
	for key, obj := range b.objects {
		if strings.HasPrefix(key, loc.ListPrefix()) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(obj.Content)), ETag: obj.ETag})
		}
	}
	slices.SortFunc(objects, func(a, b storage.ObjectInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return objects, nil
}

// FetchManifest implements the manifest side of the storage boundary.
func (b *Bucket) FetchManifest(_ context.Context, loc storage.Location) (storage.Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ManifestCount++
	if b.ManifestErr != nil {
		return nil, b.ManifestErr
	}
	if loc.Bucket != b.Name {
		return nil, NewBucketNotFoundError()
	}

	manifest := make(storage.Manifest, len(b.objects))
	for key, obj := range b.objects {
		if strings.HasPrefix(key, loc.ListPrefix()) {
			manifest[key] = obj.ETag
		}
	}
	return manifest, nil
}

// Upload implements storage.Uploader by recording the upload and storing the
// object unless ErrorFunc rejects it.
func (b *Bucket) Upload(_ context.Context, input *storage.UploadInput) (*storage.UploadOutput, error) {
	if b.OnUpload != nil {
		b.OnUpload(input)
	}

	b.begin(input.Key)
	defer b.end(input.Key)

	// Read the body content for verification
	var content []byte
	if input.Body != nil {
		var err error
		content, err = io.ReadAll(input.Body)
		if err != nil {
			return nil, fmt.Errorf("mock: failed to read body: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.UploadCount++
	recorded := &RecordedUpload{
		Input:   input,
		Content: content,
	}
	b.Uploads = append(b.Uploads, recorded)

	var err error
	if b.ErrorFunc != nil {
		err = b.ErrorFunc(input)
	}
	if err == nil && input.PartSize > 0 && input.PartSize < storage.MinPartSize {
		// same check as the SDK upload manager
		err = fmt.Errorf("part size must be at least %d bytes", storage.MinPartSize)
	}
	if err == nil && input.Bucket != b.Name {
		err = NewBucketNotFoundError()
	}
	if err != nil {
		recorded.Error = err
		return nil, err
	}

	partSize := input.PartSize
	if partSize <= 0 {
		partSize = etag.DefaultChunkSize
	}
	fp, err := etag.Compute(bytes.NewReader(content), etag.EffectiveChunkSize(int64(len(content)), partSize))
	if err != nil {
		recorded.Error = err
		return nil, err
	}

	obj := &Object{Content: content, ETag: fp}
	if input.ContentType != nil {
		obj.ContentType = *input.ContentType
	}
	if input.CacheControl != nil {
		obj.CacheControl = *input.CacheControl
	}
	b.objects[input.Key] = obj

	tag := fp.String()
	return &storage.UploadOutput{
		Location: fmt.Sprintf("https://%s.s3.amazonaws.com/%s", input.Bucket, input.Key),
		ETag:     &tag,
	}, nil
}

func (b *Bucket) begin(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight[key]++
	if b.inFlight[key] > 1 {
		b.overlapping = append(b.overlapping, key)
	}
	b.running++
	b.maxRunning = max(b.maxRunning, b.running)
}

func (b *Bucket) end(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight[key]--
	b.running--
}

// MaxConcurrent returns the highest number of uploads seen running at once.
func (b *Bucket) MaxConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxRunning
}

// Overlapping returns the keys that had two uploads running at the same time.
func (b *Bucket) Overlapping() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.overlapping...)
}

// GetUploadByKey returns the first upload matching the given key, or nil if not found.
// Note: The returned pointer references internal test data and should not be modified by callers.
func (b *Bucket) GetUploadByKey(key string) *RecordedUpload {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.Uploads {
		if u.Input.Key == key {
			return u
		}
	}
	return nil
}

// UploadedKeys returns the keys of all successful uploads in order.
func (b *Bucket) UploadedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for _, u := range b.Uploads {
		if u.Error == nil {
			keys = append(keys, u.Input.Key)
		}
	}
	return keys
}

// Reset clears all recorded uploads and resets the counters. Stored objects are kept.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Uploads = nil
	b.UploadCount = 0
	b.ManifestCount = 0
	b.maxRunning = 0
	b.overlapping = nil
}

// --- Error injection helpers ---

// ErrorOnKey returns an ErrorFunc that fails uploads matching the given key.
func ErrorOnKey(key string, err error) func(*storage.UploadInput) error {
	return func(input *storage.UploadInput) error {
		if input.Key == key {
			return err
		}
		return nil
	}
}

// ErrorAlways returns an ErrorFunc that fails all uploads.
func ErrorAlways(err error) func(*storage.UploadInput) error {
	return func(*storage.UploadInput) error {
		return err
	}
}

// ErrorNTimes returns an ErrorFunc that fails the first N uploads, then succeeds.
// Called with the bucket lock held.
func ErrorNTimes(n int, err error) func(*storage.UploadInput) error {
	count := 0
	return func(*storage.UploadInput) error {
		count++
		if count <= n {
			return err
		}
		return nil
	}
}

// --- Common test errors ---

// NewAccessDeniedError creates a simulated access denied error.
func NewAccessDeniedError() error {
	return &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
}

// NewBucketNotFoundError creates a simulated bucket not found error.
func NewBucketNotFoundError() error {
	return &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
}

// NewNetworkError creates a simulated network error.
func NewNetworkError() error {
	return errors.New("dial tcp: lookup s3.amazonaws.com: no such host")
}
