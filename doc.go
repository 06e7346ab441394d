/*
Go S3 Sitesync deploys a static site directory to an S3 bucket.

It only uploads the files whose content differs from what the bucket already holds. Instead of
keeping a local cache between runs, it fingerprints every local file the way S3 computes ETags
(an MD5 of the content, or an MD5 of the part MD5s for multipart uploads) and compares that with
the ETags listed in the bucket. The bucket is the only source of truth, so the tool gives the same
answer from any machine and after uploads done by someone else with the same chunk size.

The initial use case is a large static site (10k+ files) where a deploy changes a handful of files.

Deploys are one way: files removed locally are left in the bucket.

Usage:

	go-s3-sitesync sync ./public s3://my-site
	go-s3-sitesync sync --dry --verbose ./public my-site
	go-s3-sitesync list-objects s3://my-site/docs
	go-s3-sitesync list-buckets
	go-s3-sitesync version

Options may also come from S3SITESYNC_* environment variables or from the .go-s3-sitesync.json
config file, which --save writes.
*/
package main
