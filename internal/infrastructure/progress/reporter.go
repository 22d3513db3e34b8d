// Package progress prints a single updating status line for document
// downloads.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/ports"
)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// Width is the display width of the status line in terminal cells.
	// Default: 80
	Width int

	// Label prefixes every line.
	Label string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu      sync.Mutex
	total   int
	done    int
	counts  map[domain.DownloadStatus]int
	started time.Time
	now     func() time.Time
}

var _ ports.Progress = (*Reporter)(nil)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Label == "" {
		opts.Label = "reportharvester"
	}
	return &Reporter{opts: opts, counts: map[domain.DownloadStatus]int{}, now: time.Now}
}

// Start resets the counters for a batch of total documents.
func (r *Reporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total = total
	r.done = 0
	r.counts = map[domain.DownloadStatus]int{}
	r.started = r.now()
	fmt.Fprintf(r.opts.Output, "[%s] %d documents to fetch\n", r.opts.Label, total)
}

// Step records one finished document and redraws the status line.
func (r *Reporter) Step(label string, status domain.DownloadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	r.counts[status]++

	line := fmt.Sprintf("[%s] %*d/%d %-10s %s",
		r.opts.Label, digits(r.total), r.done, r.total, status, label)
	fmt.Fprint(r.opts.Output, "\r"+fit(line, r.opts.Width))
}

// Finish ends the status line and prints the per-status summary.
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done > 0 {
		fmt.Fprintln(r.opts.Output)
	}
	fmt.Fprintf(r.opts.Output, "[%s] downloaded %d, skipped %d, failed %d in %s\n",
		r.opts.Label,
		r.counts[domain.StatusDownloaded],
		r.counts[domain.StatusSkipped],
		r.counts[domain.StatusFailed],
		r.now().Sub(r.started).Round(time.Millisecond),
	)
}

// fit truncates or pads s to exactly width cells so a shorter line fully
// overwrites a longer previous one. CJK titles take two cells per rune.
func fit(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func digits(n int) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}
