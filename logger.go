package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/petems/go-s3-sitesync/internal/sitesync"
)

// loggerGen returns the console printer. The first message is printed on its
// own line in verbose mode, the second one as is in normal mode, and nothing
// is printed in quiet mode.
func loggerGen(o *options, w io.Writer) func(...string) {
	var mu sync.Mutex
	return func(msgs ...string) {
		if len(msgs) == 0 || o.quiet {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if o.verbose {
			fmt.Fprintln(w, msgs[0])
			return
		}
		if len(msgs) > 1 {
			fmt.Fprint(w, msgs[1])
		}
	}
}

// reporter prints one line (verbose) or one glyph (normal) per file.
func reporter(say func(...string), dryRun bool) func(sitesync.Result) {
	uploadVerb := "Uploaded"
	if dryRun {
		uploadVerb = "Pretending to upload"
	}

	return func(r sitesync.Result) {
		switch r.Outcome {
		case sitesync.Uploaded:
			say(fmt.Sprintf("%s %s (%s)", uploadVerb, r.Key, humanize.IBytes(uint64(r.Size))), green("."))
		case sitesync.Skipped:
			say(fmt.Sprintf("Unchanged %s", r.Key), faint("s"))
		case sitesync.Failed:
			say(fmt.Sprintf("Failed %s: %v", r.Key, r.Err), red("F"))
		}
	}
}

// printSummary closes the progress line and reports the totals. Failures are
// always listed on w, quiet or not.
func printSummary(say func(...string), w io.Writer, s *sitesync.Summary) {
	say("Done.", " done!\n")

	verb := "uploaded"
	if s.DryRun {
		verb = "to upload"
	}
	totals := fmt.Sprintf("%s files scanned: %s %s (%s), %s unchanged, %s failed in %s",
		humanize.Comma(int64(s.FilesScanned)),
		humanize.Comma(int64(s.FilesUploaded)), verb, humanize.IBytes(uint64(s.BytesUploaded)),
		humanize.Comma(int64(s.FilesSkipped)),
		humanize.Comma(int64(len(s.Errors))),
		s.Duration.Round(time.Millisecond),
	)
	say(totals, totals+"\n")

	for _, err := range s.Errors {
		fmt.Fprintln(w, red("F"), err)
	}
}
