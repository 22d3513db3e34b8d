package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReportHarvester/internal/config"
	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/logging"
)

// fakeUpstreams serves all three query APIs plus the document host. Only
// March 2022 has announcements.
type fakeUpstreams struct {
	server    *httptest.Server
	documents atomic.Int32
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()
	f := &fakeUpstreams{}

	published := time.Date(2022, time.March, 15, 9, 30, 0, 0, domain.Location).UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("/cninfo", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("seDate") != "2022-03-01~2022-03-31" {
			_, _ = w.Write([]byte(`{"totalRecordNum":0,"announcements":null}`))
			return
		}
		fmt.Fprintf(w, `{"totalRecordNum":1,"announcements":[{"adjunctUrl":"finalpage/c1.PDF",
			"announcementTime":%d,"announcementTitle":"平安银行：2022年<em>社会责任</em>报告",
			"secCode":"000001","secName":"平安银行"}]}`, published)
	})
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		body := `{"pageHelp":{"total":0,"data":[]}}`
		if q.Get("START_DATE") == "2022-03-01" {
			body = `{"pageHelp":{"total":2,"data":[[
				{"SECURITY_CODE":"600000","SECURITY_NAME":"浦发银行","SSEDATE":"2022-03-16","TITLE":"浦发银行社会责任报告","URL":"/docs/s1.pdf"},
				{"SECURITY_CODE":"000001","SECURITY_NAME":"平安银行","SSEDATE":"2022-03-15","TITLE":"平安银行社会责任报告","URL":"/docs/s2.pdf"}
			]]}}`
		}
		fmt.Fprintf(w, "%s(%s)", q.Get("jsonCallBack"), body)
	})
	mux.HandleFunc("/szse", func(w http.ResponseWriter, r *http.Request) {
		var query struct {
			SeDate []string `json:"seDate"`
		}
		_ = json.NewDecoder(r.Body).Decode(&query)
		if len(query.SeDate) == 0 || query.SeDate[0] != "2022-03-01" {
			_, _ = w.Write([]byte(`{"announceCount":0,"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"announceCount":2,"data":[
			{"secCode":["000001"],"secName":["平安银行"],"publishTime":"2022-03-15 00:00:00","title":"平安银行：社会责任报告","attachPath":"/z1.pdf"},
			{"secCode":["000002"],"secName":["万科A"],"publishTime":"2022-03-16 00:00:00","title":"万科A：2022年社会责任报告","attachPath":"/z2.pdf"}
		]}`))
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		f.documents.Add(1)
		_, _ = io.WriteString(w, "%PDF-1.7 "+r.URL.Path)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func testConfig(root, upstream string) config.Config {
	return config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Harvest: config.HarvestConfig{Years: []int{2022}, Keyword: "社会责任", TimeoutSec: 5},
		Storage: config.StorageConfig{
			OutputRoot: filepath.Join(root, "reports"),
			SnapshotDB: filepath.Join(root, "db", "snapshots.db"),
			CSVDir:     filepath.Join(root, "csv"),
		},
		Download: config.DownloadConfig{ChunkSizeKb: 1, Workers: 2},
		Sources: []config.SourceConfig{
			{Name: domain.SourceCNInfo, Endpoint: upstream + "/cninfo", AssetHost: upstream + "/docs"},
			{Name: domain.SourceSSE, Endpoint: upstream + "/sse", AssetHost: upstream},
			{Name: domain.SourceSZSE, Endpoint: upstream + "/szse", AssetHost: upstream + "/docs"},
		},
	}
}

func TestApplicationRunEndToEnd(t *testing.T) {
	t.Parallel()

	upstreams := newFakeUpstreams(t)
	root := t.TempDir()
	cfg := testConfig(root, upstreams.server.URL)
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	application, err := New(ctx, cfg, logging.NewWithWriter(io.Discard, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.NoError(t, application.Run(ctx))

	year := filepath.Join(cfg.Storage.OutputRoot, "2022")
	for _, name := range []string{
		"20220315_000001_平安银行-2022年社会责任报告.pdf",
		"20220316_600000_浦发银行社会责任报告.pdf",
		"20220316_000002_2022年社会责任报告.pdf",
	} {
		_, err := os.Stat(filepath.Join(year, name))
		assert.NoError(t, err, name)
	}
	entries, err := os.ReadDir(year)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "duplicates across sources are not fetched")
	assert.Equal(t, int32(3), upstreams.documents.Load())

	for _, id := range []string{"cninfo", "sse", "szse"} {
		_, err := os.Stat(filepath.Join(cfg.Storage.CSVDir, id+"_announcements.csv"))
		assert.NoError(t, err, id)
	}

	// a download-only rerun from the snapshots fetches nothing new
	require.NoError(t, application.Download(ctx))
	assert.Equal(t, int32(3), upstreams.documents.Load())
}

func TestApplicationHarvestOnly(t *testing.T) {
	t.Parallel()

	upstreams := newFakeUpstreams(t)
	cfg := testConfig(t.TempDir(), upstreams.server.URL)
	require.NoError(t, cfg.OnlySources([]domain.SourceID{domain.SourceSZSE}))

	ctx := context.Background()
	application, err := New(ctx, cfg, logging.NewWithWriter(io.Discard, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.NoError(t, application.Harvest(ctx))
	assert.Zero(t, upstreams.documents.Load())

	_, err = os.Stat(filepath.Join(cfg.Storage.CSVDir, "szse_announcements.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Storage.CSVDir, "cninfo_announcements.csv"))
	assert.True(t, os.IsNotExist(err))
}
