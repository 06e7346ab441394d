package storage

import (
	"fmt"
	"path"
	"strings"
)

const uriScheme = "s3://"

// Location identifies where a site is deployed: a bucket and an optional key
// prefix inside it.
type Location struct {
	Bucket string
	Prefix string
}

// ParseLocation accepts "bucket", "s3://bucket" or "s3://bucket/some/prefix".
func ParseLocation(id string) (Location, error) {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, uriScheme)

	bucket, prefix, _ := strings.Cut(id, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("bucket name must not be empty: %q", id)
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}

	return Location{Bucket: bucket, Prefix: prefix}, nil
}

// Key maps a slash separated path relative to the site root to an object key.
func (l Location) Key(rel string) string {
	if l.Prefix == "" {
		return rel
	}
	return l.Prefix + "/" + rel
}

// ListPrefix is the prefix used when listing the objects of this location.
func (l Location) ListPrefix() string {
	if l.Prefix == "" {
		return ""
	}
	return l.Prefix + "/"
}

func (l Location) String() string {
	if l.Prefix == "" {
		return uriScheme + l.Bucket
	}
	return uriScheme + l.Bucket + "/" + l.Prefix
}
