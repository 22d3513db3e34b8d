package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/ports"
	"ReportHarvester/internal/source"
)

// Paginator drives one adapter over one date range: it asks for the total,
// then fetches pages until the total is used up.
type Paginator struct {
	pacer  ports.Pacer
	logger *slog.Logger
}

// NewPaginator builds a paginator; a nil pacer disables pacing.
func NewPaginator(pacer ports.Pacer, log *slog.Logger) *Paginator {
	return &Paginator{pacer: pacer, logger: log}
}

// Collect returns every normalized record of the range. Entries failing
// normalization with domain.ErrInvalidRecord are logged and skipped. The upstreams expose
// no "has more" flag, so the page count is derived from the reported total:
// remaining starts at total and drops by PageSize after every page.
func (p *Paginator) Collect(ctx context.Context, adapter source.Adapter, r domain.DateRange) (domain.Batch, error) {
	batch := domain.Batch{Source: adapter.Source(), Range: r}

	if err := p.wait(ctx); err != nil {
		return batch, err
	}
	total, err := adapter.FetchTotal(ctx, r)
	if err != nil {
		return batch, fmt.Errorf("fetch total %s %s: %w", adapter.Source(), r, err)
	}
	if total <= 0 {
		p.debug("range is empty", "source", adapter.Source(), "range", r.String())
		return batch, nil
	}

	size := adapter.PageSize()
	if size <= 0 {
		return batch, fmt.Errorf("source %s reports page size %d", adapter.Source(), size)
	}

	filtered, invalid := 0, 0
	for page, remaining := 1, total; remaining > 0; page, remaining = page+1, remaining-size {
		if err := p.wait(ctx); err != nil {
			return batch, err
		}

		fragments, err := adapter.FetchPage(ctx, r, page)
		if err != nil {
			return batch, fmt.Errorf("fetch page %d %s %s: %w", page, adapter.Source(), r, err)
		}

		for _, fragment := range fragments {
			rec, err := fragment.Normalize()
			if errors.Is(err, source.ErrFiltered) {
				filtered++
				continue
			}
			if errors.Is(err, domain.ErrInvalidRecord) {
				invalid++
				p.warn("skipping invalid entry",
					"source", adapter.Source(),
					"range", r.String(),
					"page", page,
					"error", err,
				)
				continue
			}
			if err != nil {
				return batch, fmt.Errorf("normalize %s page %d: %w", adapter.Source(), page, err)
			}
			batch.Records = append(batch.Records, rec)
		}
	}

	p.debug("range collected",
		"source", adapter.Source(),
		"range", r.String(),
		"total", total,
		"records", len(batch.Records),
		"filtered", filtered,
		"invalid", invalid,
	)
	return batch, nil
}

func (p *Paginator) wait(ctx context.Context) error {
	if p.pacer == nil {
		return ctx.Err()
	}
	if err := p.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pace query: %w", err)
	}
	return nil
}

func (p *Paginator) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Paginator) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
