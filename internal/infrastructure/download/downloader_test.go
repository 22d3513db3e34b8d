package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/retry"
)

func sample(link string) domain.Announcement {
	return domain.Announcement{
		Title:    "2022年度社会责任报告",
		Date:     time.Date(2022, time.March, 15, 0, 0, 0, 0, domain.Location),
		SecCode:  "000001",
		SecName:  "平安银行",
		FileLink: link,
		Source:   domain.SourceSZSE,
	}
}

func TestTargetPath(t *testing.T) {
	t.Parallel()

	d := New(Options{Root: "/data/reports"})
	rec := sample("http://example.test/a.pdf")
	rec.Title = `年报:摘要/草稿?`

	got := d.TargetPath(rec)
	assert.Equal(t, filepath.Join("/data/reports", "2022", "20220315_000001_年报-摘要-草稿-.pdf"), got)
	assert.False(t, strings.ContainsAny(filepath.Base(got), `\/:*?"<>|`))
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("%PDF-1.7 report body "), 20000)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "http://www.szse.cn", r.Header.Get("Origin"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d := New(Options{
		Root:      t.TempDir(),
		ChunkSize: 4096,
		Headers: map[domain.SourceID]map[string]string{
			domain.SourceSZSE: {"Origin": "http://www.szse.cn"},
		},
		Client: server.Client(),
	})
	rec := sample(server.URL + "/a.pdf")

	status, err := d.Ensure(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloaded, status)

	first, err := os.ReadFile(d.TargetPath(rec))
	require.NoError(t, err)
	assert.Equal(t, payload, first)

	status, err = d.Ensure(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, status)

	second, err := os.ReadFile(d.TargetPath(rec))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureTruncatedBodyLeavesNoFile(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot be hijacked")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()

		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: application/pdf\r\nContent-Length: 1000\r\n\r\n")
		buf.WriteString("%PDF-1.7 only the beginning")
		_ = buf.Flush()
	}))
	defer server.Close()

	root := t.TempDir()
	d := New(Options{
		Root:   root,
		Client: server.Client(),
		Retry:  retry.Policy{MaxAttempts: 2},
	})
	rec := sample(server.URL + "/a.pdf")

	status, err := d.Ensure(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, int32(2), calls.Load(), "truncated reads are retried")

	_, statErr := os.Stat(d.TargetPath(rec))
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(filepath.Dir(d.TargetPath(rec)))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files are removed")
}

func TestEnsureDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	d := New(Options{Root: t.TempDir(), Client: server.Client(), Retry: retry.Policy{MaxAttempts: 4}})

	status, err := d.Ensure(context.Background(), sample(server.URL+"/missing.pdf"))
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureUsesSourceRetryPolicy(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := New(Options{
		Root:   t.TempDir(),
		Client: server.Client(),
		Retry:  retry.Policy{MaxAttempts: 1},
		SourceRetry: map[domain.SourceID]retry.Policy{
			domain.SourceSZSE: {MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		},
	})

	_, err := d.Ensure(context.Background(), sample(server.URL+"/busy.pdf"))
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "szse override applies")

	other := sample(server.URL + "/other.pdf")
	other.Source = domain.SourceSSE
	_, err = d.Ensure(context.Background(), other)
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load(), "sse falls back to the default policy")
}

func TestEnsureSerializesSamePath(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	d := New(Options{Root: t.TempDir(), Client: server.Client()})
	rec := sample(server.URL + "/a.pdf")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[domain.DownloadStatus]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := d.Ensure(context.Background(), rec)
			assert.NoError(t, err)
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, statuses[domain.StatusDownloaded])
	assert.Equal(t, 7, statuses[domain.StatusSkipped])
}
