package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/ports"
	"ReportHarvester/internal/source"
)

// ErrDownloadsFailed is returned after a run in which at least one document
// could not be fetched. The other documents are still attempted.
var ErrDownloadsFailed = errors.New("some documents failed to download")

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry *source.Registry
	// Sources are processed by this invocation.
	Sources []domain.SourceID
	// Order is the full configured source order, disabled sources included.
	// Stored snapshots of sources ordered before a processed one, but not
	// processed themselves, join its reference set.
	Order      []domain.SourceID
	Harvester  *Harvester
	Store      ports.SnapshotStore
	Exporter   ports.TabularExporter
	Downloader ports.Downloader
	Progress   ports.Progress
	// Workers is the number of concurrent downloads; values below 1 mean 1.
	Workers int
	Logger  *slog.Logger
}

// Pipeline implements the harvest, persist, reconcile and download workflow.
type Pipeline struct {
	registry   *source.Registry
	sources    []domain.SourceID
	order      []domain.SourceID
	enabled    map[domain.SourceID]bool
	harvester  *Harvester
	store      ports.SnapshotStore
	exporter   ports.TabularExporter
	downloader ports.Downloader
	progress   ports.Progress
	workers    int
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	workers := deps.Workers
	if workers < 1 {
		workers = 1
	}

	enabled := make(map[domain.SourceID]bool, len(deps.Sources))
	for _, id := range deps.Sources {
		enabled[id] = true
	}
	order := make([]domain.SourceID, 0, len(deps.Order)+len(deps.Sources))
	seen := make(map[domain.SourceID]bool, len(deps.Order))
	for _, id := range append(append([]domain.SourceID(nil), deps.Order...), deps.Sources...) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	return &Pipeline{
		registry:   deps.Registry,
		sources:    append([]domain.SourceID(nil), deps.Sources...),
		order:      order,
		enabled:    enabled,
		harvester:  deps.Harvester,
		store:      deps.Store,
		exporter:   deps.Exporter,
		downloader: deps.Downloader,
		progress:   deps.Progress,
		workers:    workers,
		logger:     deps.Logger,
	}
}

// Run harvests and persists every source in order, reconciles each one
// against the sources before it and downloads what is new. A source is added
// to the reference set only after it has been fully harvested and persisted;
// earlier sources not run now contribute their stored snapshot instead.
func (p *Pipeline) Run(ctx context.Context) error {
	var (
		reference []domain.Collection
		failed    int
	)

	for _, id := range p.plan() {
		if !p.enabled[id] {
			stored, err := p.loadSnapshot(ctx, id)
			if err != nil {
				return err
			}
			reference = append(reference, stored)
			continue
		}

		collection, err := p.harvestSource(ctx, id)
		if err != nil {
			return err
		}

		n, err := p.downloadNew(ctx, collection, reference)
		if err != nil {
			return err
		}
		failed += n
		reference = append(reference, collection)
	}

	return downloadsResult(failed)
}

// Harvest queries and persists every source without downloading.
func (p *Pipeline) Harvest(ctx context.Context) error {
	for _, id := range p.sources {
		if _, err := p.harvestSource(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Download reconciles and downloads from the stored snapshots only.
func (p *Pipeline) Download(ctx context.Context) error {
	if p.store == nil {
		return errors.New("snapshot store is not configured")
	}

	var (
		reference []domain.Collection
		failed    int
	)
	for _, id := range p.plan() {
		collection, err := p.loadSnapshot(ctx, id)
		if err != nil {
			return err
		}
		if p.enabled[id] {
			n, err := p.downloadNew(ctx, collection, reference)
			if err != nil {
				return err
			}
			failed += n
		}
		reference = append(reference, collection)
	}

	return downloadsResult(failed)
}

// plan is the configured order cut after the last processed source.
func (p *Pipeline) plan() []domain.SourceID {
	last := -1
	for i, id := range p.order {
		if p.enabled[id] {
			last = i
		}
	}
	return p.order[:last+1]
}

func (p *Pipeline) loadSnapshot(ctx context.Context, id domain.SourceID) (domain.Collection, error) {
	if p.store == nil {
		return domain.NewCollection(id, nil), nil
	}
	collection, err := p.store.Load(ctx, id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	p.info("snapshot loaded", "source", id, "records", collection.Len(), "processed", p.enabled[id])
	return collection, nil
}

func (p *Pipeline) harvestSource(ctx context.Context, id domain.SourceID) (domain.Collection, error) {
	if p.registry == nil || p.harvester == nil {
		return domain.Collection{}, errors.New("source registry is not configured")
	}

	adapter, err := p.registry.Resolve(id)
	if err != nil {
		return domain.Collection{}, err
	}

	collection, err := p.harvester.Harvest(ctx, adapter)
	if err != nil {
		return domain.Collection{}, err
	}

	if p.store != nil {
		if err := p.store.Save(ctx, collection); err != nil {
			return domain.Collection{}, fmt.Errorf("save snapshot %s: %w", id, err)
		}
	}
	if p.exporter != nil {
		if err := p.exporter.Export(ctx, collection); err != nil {
			return domain.Collection{}, fmt.Errorf("export %s: %w", id, err)
		}
	}
	return collection, nil
}

// downloadNew ensures every record of collection that is absent from the
// reference collections. It returns the number of failed documents; the
// error is non-nil only when ctx is done.
func (p *Pipeline) downloadNew(ctx context.Context, collection domain.Collection, reference []domain.Collection) (int, error) {
	fresh := Reconcile(collection, reference...)
	p.info("reconciled source",
		"source", collection.Source,
		"records", collection.Len(),
		"new", len(fresh),
		"known", collection.Len()-len(fresh),
	)
	if p.downloader == nil || len(fresh) == 0 {
		return 0, ctx.Err()
	}

	if p.progress != nil {
		p.progress.Start(len(fresh))
		defer p.progress.Finish()
	}

	jobs := make(chan domain.Announcement)
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)

	workers := p.workers
	if workers > len(fresh) {
		workers = len(fresh)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				status, err := p.downloader.Ensure(ctx, rec)
				if err != nil {
					status = domain.StatusFailed
					p.warn("download failed",
						"source", rec.Source,
						"sec_code", rec.SecCode,
						"date", rec.Date.Format(domain.DateLayout),
						"link", rec.FileLink,
						"error", err,
					)
				}

				mu.Lock()
				if status == domain.StatusFailed {
					failed++
				}
				if p.progress != nil {
					p.progress.Step(rec.SecCode+" "+rec.Title, status)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, rec := range fresh {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return failed, fmt.Errorf("download %s: %w", collection.Source, err)
	}
	return failed, nil
}

func downloadsResult(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%w: %d documents", ErrDownloadsFailed, failed)
	}
	return nil
}

func (p *Pipeline) info(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
