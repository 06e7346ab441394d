package sitesync

import (
	"sync"
	"time"

	"github.com/petems/go-s3-sitesync/internal/etag"
)

// Outcome is the decision taken for a single file.
type Outcome int

const (
	// Skipped files already have a matching object in the bucket.
	Skipped Outcome = iota
	// Uploaded files were sent to the bucket, or would have been in a dry run.
	Uploaded
	// Failed files could not be read, fingerprinted or uploaded.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Uploaded:
		return "uploaded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result describes what happened to one local file.
type Result struct {
	Key         string
	Path        string
	Size        int64
	Outcome     Outcome
	Fingerprint etag.Fingerprint
	// Existing is true when the key was already present in the manifest.
	Existing bool
	Err      error
}

// Summary is the outcome of a Sync call.
type Summary struct {
	FilesScanned  int
	FilesUploaded int
	FilesSkipped  int
	BytesUploaded int64
	Errors        []error
	DryRun        bool
	Duration      time.Duration
	// Results holds one entry per file, in completion order.
	Results []Result
}

// Failed reports whether any file failed.
func (s *Summary) Failed() bool {
	return len(s.Errors) > 0
}

// collector gathers results from the workers. The report callback runs under
// the lock, so callers see results one at a time.
type collector struct {
	sync.Mutex
	summary Summary
	report  func(Result)
}

func newCollector(dryRun bool, report func(Result)) *collector {
	return &collector{summary: Summary{DryRun: dryRun}, report: report}
}

func (c *collector) add(r Result) {
	c.Lock()
	defer c.Unlock()

	c.summary.FilesScanned++
	c.summary.Results = append(c.summary.Results, r)
	switch r.Outcome {
	case Skipped:
		c.summary.FilesSkipped++
	case Uploaded:
		c.summary.FilesUploaded++
		c.summary.BytesUploaded += r.Size
	case Failed:
		c.summary.Errors = append(c.summary.Errors, r.Err)
	}

	if c.report != nil {
		c.report(r)
	}
}

func (c *collector) result(took time.Duration) *Summary {
	c.Lock()
	defer c.Unlock()

	s := c.summary
	s.Errors = append([]error(nil), c.summary.Errors...)
	s.Results = append([]Result(nil), c.summary.Results...)
	s.Duration = took
	return &s
}
