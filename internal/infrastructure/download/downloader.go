// Package download stores announcement documents on the local filesystem.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/infrastructure/transport"
	"ReportHarvester/internal/ports"
	"ReportHarvester/internal/retry"
	"ReportHarvester/pkg/filename"
)

// DefaultChunkSize is the copy buffer used while streaming a document.
const DefaultChunkSize = 100 * 1024

// ErrIncomplete is returned when the body ends before Content-Length bytes.
var ErrIncomplete = errors.New("download: body shorter than announced")

// Options configures a Downloader.
type Options struct {
	Root      string
	ChunkSize int
	// Headers are the static headers sent with each source's document GETs.
	Headers map[domain.SourceID]map[string]string
	Client  *http.Client
	// Retry covers sources without an entry in SourceRetry.
	Retry       retry.Policy
	SourceRetry map[domain.SourceID]retry.Policy
	Pacer       ports.Pacer
	Logger      *slog.Logger
}

// Downloader fetches documents into <root>/<year>/ and never leaves a
// partially written file at the final path.
type Downloader struct {
	root      string
	chunkSize int
	clients   map[domain.SourceID]*transport.Client
	fallback  *transport.Client
	policy    retry.Policy
	policies  map[domain.SourceID]retry.Policy
	pacer     ports.Pacer
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ports.Downloader = (*Downloader)(nil)

// New builds a downloader; documents are retried as a whole under opts.Retry.
func New(opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	policies := make(map[domain.SourceID]retry.Policy, len(opts.SourceRetry))
	for id, p := range opts.SourceRetry {
		policies[id] = withTransient(p)
	}

	// each attempt is a single request; retries wrap the whole stream
	single := retry.Policy{MaxAttempts: 1, Retryable: transport.IsTransient}

	clients := make(map[domain.SourceID]*transport.Client, len(opts.Headers))
	for id, headers := range opts.Headers {
		clients[id] = transport.NewClient(opts.Client, headers, single)
	}

	return &Downloader{
		root:      opts.Root,
		chunkSize: opts.ChunkSize,
		clients:   clients,
		fallback:  transport.NewClient(opts.Client, nil, single),
		policy:    withTransient(opts.Retry),
		policies:  policies,
		pacer:     opts.Pacer,
		logger:    opts.Logger,
		locks:     map[string]*sync.Mutex{},
	}
}

// TargetPath resolves <root>/<year>/<YYYYMMDD>_<secCode>_<title>.pdf.
func (d *Downloader) TargetPath(rec domain.Announcement) string {
	date := domain.DateOf(rec.Date)
	name := fmt.Sprintf("%s_%s_%s.pdf",
		date.Format("20060102"),
		filename.Sanitize(rec.SecCode),
		filename.Sanitize(rec.Title),
	)
	return filepath.Join(d.root, fmt.Sprintf("%04d", date.Year()), name)
}

// Ensure makes sure the document of rec exists at its target path. A file
// already present counts as complete and is skipped without a network call.
func (d *Downloader) Ensure(ctx context.Context, rec domain.Announcement) (domain.DownloadStatus, error) {
	path := d.TargetPath(rec)

	unlock := d.lock(path)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		d.debug("document already present", "path", path)
		return domain.StatusSkipped, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.StatusFailed, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.StatusFailed, fmt.Errorf("create directory for %s: %w", path, err)
	}

	client := d.clientFor(rec.Source)
	err := d.policyFor(rec.Source).Do(ctx, func(ctx context.Context) error {
		if d.pacer != nil {
			if err := d.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		return d.fetch(ctx, client, rec.FileLink, path)
	})
	if err != nil {
		return domain.StatusFailed, fmt.Errorf("download %s: %w", rec.FileLink, err)
	}

	d.debug("document stored", "path", path)
	return domain.StatusDownloaded, nil
}

// fetch streams link into a temp file beside path and renames it into place
// once the whole body has been read.
func (d *Downloader) fetch(ctx context.Context, client *transport.Client, link, path string) error {
	resp, err := client.Open(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, link, http.NoBody)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	written, err := io.CopyBuffer(writerOnly{tmp}, resp.Body, make([]byte, d.chunkSize))
	if err != nil {
		return fmt.Errorf("copy body to %s: %w", tmpName, err)
	}
	if resp.ContentLength >= 0 && written < resp.ContentLength {
		return fmt.Errorf("%w: got %d of %d bytes: %w", ErrIncomplete, written, resp.ContentLength, io.ErrUnexpectedEOF)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	committed = true
	return nil
}

func (d *Downloader) clientFor(id domain.SourceID) *transport.Client {
	if c, ok := d.clients[id]; ok {
		return c
	}
	return d.fallback
}

func (d *Downloader) policyFor(id domain.SourceID) retry.Policy {
	if p, ok := d.policies[id]; ok {
		return p
	}
	return d.policy
}

func withTransient(p retry.Policy) retry.Policy {
	if p.Retryable == nil {
		p.Retryable = transport.IsTransient
	}
	return p
}

// lock serializes the exists-check-then-write sequence per target path.
func (d *Downloader) lock(path string) func() {
	d.mu.Lock()
	m, ok := d.locks[path]
	if !ok {
		m = &sync.Mutex{}
		d.locks[path] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (d *Downloader) debug(msg string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

// writerOnly hides ReadFrom so CopyBuffer uses the chunk buffer.
type writerOnly struct {
	io.Writer
}
