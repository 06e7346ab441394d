package sitesync

import (
	"errors"
	"fmt"

	"github.com/petems/go-s3-sitesync/internal/etag"
)

// ErrFingerprintMismatch matches every *FingerprintMismatchError.
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// FileSystemError reports a local file that could not be enumerated or read.
type FileSystemError struct {
	Path string
	Key  string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("local file %s: %v", e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// ManifestFetchError reports that the remote listing failed. It is fatal to a
// sync: without a manifest no file can be skipped.
type ManifestFetchError struct {
	Location string
	Err      error
}

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("fetch manifest of %s: %v", e.Location, e.Err)
}

func (e *ManifestFetchError) Unwrap() error {
	return e.Err
}

// UploadError reports that the store rejected an upload.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// FingerprintMismatchError reports an uploaded object whose ETag differs from
// the fingerprint computed locally before the upload.
type FingerprintMismatchError struct {
	Key    string
	Local  etag.Fingerprint
	Remote etag.Fingerprint
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("verify %s: local fingerprint %s, store reported %s", e.Key, e.Local, e.Remote)
}

func (e *FingerprintMismatchError) Is(target error) bool {
	return target == ErrFingerprintMismatch
}
