// Package progress reports batch progress to stderr, rate limited to at
// most one line per second. Grounded on cmd/hercules/root.go's
// gopkg.in/cheggaaa/pb.v1 status bar, adapted from a percentage bar to a
// plain textual counter: unlike hercules' single-threaded commit walk,
// worktrees here complete in an unspecified order, so a percentage bar
// keyed on commit index would jitter.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reporter prints "<completed>/<total> commits analyzed" to stderr,
// clearing the previous line first, no more often than once per
// minInterval.
type Reporter struct {
	total       int
	minInterval time.Duration
	out         *os.File

	mu       sync.Mutex
	last     time.Time
	started  time.Time
	finished bool
}

// New returns a Reporter for a batch of the given total size, writing to
// stderr at most once per second.
func New(total int) *Reporter {
	return NewTo(os.Stderr, total, time.Second)
}

// NewTo is New with an explicit writer and rate, for tests.
func NewTo(out *os.File, total int, minInterval time.Duration) *Reporter {
	return &Reporter{total: total, minInterval: minInterval, out: out, started: time.Now()}
}

// Report is called after every commit completes with the running count of
// completed commits. It is safe to pass directly as a
// scheduler.Scheduler.OnProgress callback.
func (r *Reporter) Report(completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	now := time.Now()
	force := completed >= r.total
	if !force && now.Sub(r.last) < r.minInterval {
		return
	}
	r.last = now
	fmt.Fprintf(r.out, "\033[2K\r%s/%s commits analyzed",
		humanize.Comma(int64(completed)), humanize.Comma(int64(r.total)))
	if force {
		r.finished = true
		fmt.Fprint(r.out, "\033[2K\rfinalizing...")
	}
}

// Done clears the progress line, for use after the batch ends
// (cancellation or the final summary write). Once Report has printed the
// final count and the "finalizing..." line, Done leaves that line as is.
func (r *Reporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	fmt.Fprint(r.out, "\033[2K\r")
}
