package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"ReportHarvester/internal/config"
	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/infrastructure/download"
	"ReportHarvester/internal/infrastructure/exchange"
	"ReportHarvester/internal/infrastructure/progress"
	"ReportHarvester/internal/infrastructure/storage"
	"ReportHarvester/internal/infrastructure/throttle"
	"ReportHarvester/internal/logging"
	"ReportHarvester/internal/retry"
	"ReportHarvester/internal/source"
	"ReportHarvester/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	pipeline *usecase.Pipeline
}

// New builds a runnable application instance. The caller must Close it.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	queryClient := &http.Client{Timeout: cfg.Harvest.Timeout()}

	registry := source.NewRegistry()
	headers := make(map[domain.SourceID]map[string]string)
	downloadLog := baseLogger.With("component", "downloader")
	downloadRetry := make(map[domain.SourceID]retry.Policy)
	for _, id := range cfg.EnabledSources() {
		srcCfg, _ := cfg.Source(id)
		log := baseLogger.With("component", "source."+string(id))

		adapter, err := exchange.New(id, exchange.Options{
			Endpoint:  srcCfg.Endpoint,
			AssetHost: srcCfg.AssetHost,
			Keyword:   cfg.Harvest.Keyword,
			Headers:   srcCfg.Headers,
			Client:    queryClient,
			Retry:     logRetries(cfg.RetryFor(id), log),
		})
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
		headers[id] = exchange.MergeHeaders(exchange.DefaultHeaders(id), srcCfg.Headers)
		downloadRetry[id] = logRetries(cfg.RetryFor(id), downloadLog)
	}

	store, err := storage.OpenSQLiteStore(ctx, cfg.Storage.SnapshotDB)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	paginator := usecase.NewPaginator(
		throttle.NewPacer(cfg.Harvest.QueryPause()),
		baseLogger.With("component", "paginator"),
	)
	harvester := usecase.NewHarvester(paginator, cfg.Harvest.Years, baseLogger.With("component", "harvester"))

	downloader := download.New(download.Options{
		Root:        cfg.Storage.OutputRoot,
		ChunkSize:   cfg.Download.ChunkSize(),
		Headers:     headers,
		Client:      documentClient(cfg.Harvest.Timeout()),
		Retry:       logRetries(cfg.Retry.Policy(), downloadLog),
		SourceRetry: downloadRetry,
		Pacer:       throttle.NewPacer(cfg.Download.Pause()),
		Logger:      downloadLog,
	})

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Registry:   registry,
		Sources:    cfg.EnabledSources(),
		Order:      cfg.SourceOrder(),
		Harvester:  harvester,
		Store:      store,
		Exporter:   storage.NewCSVExporter(cfg.Storage.CSVDir),
		Downloader: downloader,
		Progress:   progress.NewReporter(progress.Options{Output: os.Stderr}),
		Workers:    cfg.Download.Workers,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	return &Application{cfg: cfg, logger: baseLogger, store: store, pipeline: pipeline}, nil
}

// Run harvests every enabled source and downloads the new documents.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("run started", "sources", a.cfg.EnabledSources(), "years", a.cfg.Harvest.Years)
	return a.pipeline.Run(ctx)
}

// Harvest queries and persists every enabled source without downloading.
func (a *Application) Harvest(ctx context.Context) error {
	a.logger.Info("harvest started", "sources", a.cfg.EnabledSources(), "years", a.cfg.Harvest.Years)
	return a.pipeline.Harvest(ctx)
}

// Download fetches documents listed in the stored snapshots.
func (a *Application) Download(ctx context.Context) error {
	a.logger.Info("download started", "sources", a.cfg.EnabledSources(), "output", a.cfg.Storage.OutputRoot)
	return a.pipeline.Download(ctx)
}

// Close releases the snapshot store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// documentClient bounds connection setup and the wait for headers but not
// the body transfer, which may be large.
func documentClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

func logRetries(p retry.Policy, log *slog.Logger) retry.Policy {
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("request failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return p
}
