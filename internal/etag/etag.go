// Package etag computes content fingerprints that match the ETag S3 reports for
// objects uploaded in fixed-size parts.
//
// An object stored in one part has the quoted hex MD5 of its bytes as ETag. An
// object stored in N>1 parts has the quoted hex MD5 of the concatenated raw part
// digests, followed by "-N".
package etag

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultChunkSize is the part size used for both fingerprinting and uploads.
const DefaultChunkSize int64 = 8 * 1024 * 1024

// MaxParts is the maximum number of parts of a multipart upload.
const MaxParts = 10000

var ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")

// Fingerprint is an ETag-shaped content digest, always quoted.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Parts returns the number of chunks encoded in the fingerprint: 1 for the
// single-chunk shape, N for "<hex>-N", and 0 when the value is not a fingerprint.
func (f Fingerprint) Parts() int {
	s := string(f)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return 0
	}
	s = s[1 : len(s)-1]

	digest, count, multi := strings.Cut(s, "-")
	if !isHexDigest(digest) {
		return 0
	}
	if !multi {
		return 1
	}

	n, err := strconv.Atoi(count)
	if err != nil || n < 2 {
		return 0
	}
	return n
}

func isHexDigest(s string) bool {
	if len(s) != hex.EncodedLen(md5.Size) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Normalize turns an ETag as reported by a store into a Fingerprint. Some
// S3-compatible stores drop the surrounding quotes or use upper-case hex.
func Normalize(raw string) Fingerprint {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, `"`)
	return Fingerprint(`"` + strings.ToLower(raw) + `"`)
}

// EffectiveChunkSize returns the part size the transfer manager really uses for
// an object of the given size: it grows the part size when the object would
// otherwise need MaxParts parts or more.
func EffectiveChunkSize(size, chunkSize int64) int64 {
	if chunkSize < 1 || size < 0 {
		return chunkSize
	}
	if size/chunkSize >= MaxParts {
		return size/MaxParts + 1
	}
	return chunkSize
}

// ChunkCount returns how many chunks a stream of the given size is split into.
// An empty stream counts as one chunk.
func ChunkCount(size, chunkSize int64) int {
	if chunkSize < 1 {
		return 0
	}
	if size <= chunkSize {
		return 1
	}
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	return int(n)
}

// Compute reads r sequentially in chunks of chunkSize bytes and returns its
// fingerprint.
func Compute(r io.Reader, chunkSize int64) (Fingerprint, error) {
	if chunkSize < 1 {
		return "", ErrInvalidChunkSize
	}

	var sums []byte
	chunks := 0

	for {
		h := md5.New()
		n, err := io.CopyN(h, r, chunkSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read chunk %d: %w", chunks+1, err)
		}

		// the previous chunk ended exactly at EOF
		if n == 0 && chunks > 0 {
			break
		}

		sums = h.Sum(sums)
		chunks++

		if n < chunkSize {
			break
		}
	}

	if chunks == 1 {
		return Fingerprint(`"` + hex.EncodeToString(sums) + `"`), nil
	}

	sum := md5.Sum(sums)
	return Fingerprint(fmt.Sprintf(`"%s-%d"`, hex.EncodeToString(sum[:]), chunks)), nil
}

// ComputeFile fingerprints the file at path the way it will be stored when
// uploaded with chunkSize as part size.
func ComputeFile(path string, chunkSize int64) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	return Compute(f, EffectiveChunkSize(info.Size(), chunkSize))
}
