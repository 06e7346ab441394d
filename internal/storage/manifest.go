package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/petems/go-s3-sitesync/internal/etag"
)

// Manifest maps every object key of a location to its fingerprint. It is a
// point-in-time snapshot and is never written to once built.
type Manifest map[string]etag.Fingerprint

// Lookup returns the fingerprint stored for key.
func (m Manifest) Lookup(key string) (etag.Fingerprint, bool) {
	fp, ok := m[key]
	return fp, ok
}

// FetchManifest lists every object under loc, following continuation tokens
// until the store reports no further pages.
func FetchManifest(ctx context.Context, api s3.ListObjectsV2APIClient, loc Location) (Manifest, error) {
	start := time.Now()
	manifest := make(Manifest)
	pages := 0

	err := eachObject(ctx, api, loc, func(obj types.Object) {
		manifest[aws.ToString(obj.Key)] = etag.Normalize(aws.ToString(obj.ETag))
	}, &pages)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "manifest fetched",
		"location", loc.String(),
		"objects", len(manifest),
		"pages", pages,
		"took", time.Since(start),
	)

	return manifest, nil
}

func eachObject(
	ctx context.Context,
	api s3.ListObjectsV2APIClient,
	loc Location,
	fn func(obj types.Object),
	pages *int,
) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
	}
	if prefix := loc.ListPrefix(); prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(api, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects in %s: %w", loc, err)
		}
		if pages != nil {
			*pages++
		}

		for _, obj := range page.Contents {
			fn(obj)
		}
	}

	return nil
}
