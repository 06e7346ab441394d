// Package storage is the boundary between the sync engine and the object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/petems/go-s3-sitesync/internal/etag"
)

// MinPartSize is the smallest part size S3 accepts for multipart uploads.
const MinPartSize = manager.MinUploadPartSize

// Uploader abstracts S3 upload operations for testability.
type Uploader interface {
	// Upload stores Body under Key, split in parts of PartSize bytes.
	Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error)
}

// UploadInput contains the parameters for an S3 upload operation.
// This abstraction allows tests to verify upload parameters without
// depending directly on AWS SDK types.
type UploadInput struct {
	Bucket       string
	Key          string
	Body         io.Reader
	ContentType  *string
	CacheControl *string

	// PartSize must be the chunk size the fingerprint was computed with.
	PartSize int64
}

// UploadOutput contains the result of an S3 upload operation.
type UploadOutput struct {
	Location  string
	VersionID *string
	ETag      *string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         etag.Fingerprint
	LastModified time.Time
}

// BucketInfo describes a bucket owned by the caller.
type BucketInfo struct {
	Name         string
	CreationDate time.Time
}

// Client implements Uploader and manifest fetching using the AWS SDK v2.
type Client struct {
	s3Client *s3.Client
	uploader *manager.Uploader
}

// NewClient creates a new Client backed by the AWS SDK v2.
func NewClient(cfg aws.Config, optFns ...func(*s3.Options)) *Client {
	return NewClientWithS3(s3.NewFromConfig(cfg, optFns...))
}

// NewClientWithS3 creates a new Client with a custom S3 client.
// Useful for testing with custom endpoints (e.g., LocalStack).
func NewClientWithS3(client *s3.Client, optFns ...func(*manager.Uploader)) *Client {
	return &Client{
		s3Client: client,
		uploader: manager.NewUploader(client, optFns...),
	}
}

// S3 returns the underlying S3 client.
func (c *Client) S3() *s3.Client {
	return c.s3Client
}

// FetchManifest returns the fingerprint of every object under loc.
func (c *Client) FetchManifest(ctx context.Context, loc Location) (Manifest, error) {
	return FetchManifest(ctx, c.s3Client, loc)
}

func withPartSize(partSize int64) func(*manager.Uploader) {
	return func(u *manager.Uploader) {
		if partSize > 0 {
			u.PartSize = partSize
		}
	}
}

// Upload implements Uploader.Upload using the AWS SDK v2 manager.
func (c *Client) Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
	sdkInput := &s3.PutObjectInput{
		Bucket: aws.String(input.Bucket),
		Key:    aws.String(input.Key),
		Body:   input.Body,
	}

	// Only set optional fields if they are provided
	if input.ContentType != nil {
		sdkInput.ContentType = input.ContentType
	}
	if input.CacheControl != nil {
		sdkInput.CacheControl = input.CacheControl
	}

	result, err := c.uploader.Upload(ctx, sdkInput, withPartSize(input.PartSize))
	if err != nil {
		return nil, err
	}

	return &UploadOutput{
		Location:  result.Location,
		VersionID: result.VersionID,
		ETag:      result.ETag,
	}, nil
}

// ListBuckets returns all buckets owned by the caller.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	out, err := c.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	buckets := make([]BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, BucketInfo{
			Name:         aws.ToString(b.Name),
			CreationDate: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// ListObjects returns every object under loc.
func (c *Client) ListObjects(ctx context.Context, loc Location) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := eachObject(ctx, c.s3Client, loc, func(obj types.Object) {
		objects = append(objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         etag.Normalize(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}, nil)
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// check if Client implements Uploader interface
var _ Uploader = (*Client)(nil)
