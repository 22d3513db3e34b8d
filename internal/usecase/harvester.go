package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/source"
)

// Harvester runs the paginator over every month of the configured years and
// assembles the per-source collection.
type Harvester struct {
	paginator *Paginator
	years     []int
	logger    *slog.Logger
}

// NewHarvester wires the paginator with the configured years.
func NewHarvester(paginator *Paginator, years []int, log *slog.Logger) *Harvester {
	return &Harvester{
		paginator: paginator,
		years:     append([]int(nil), years...),
		logger:    log,
	}
}

// Harvest collects one source month by month, in calendar order.
func (h *Harvester) Harvest(ctx context.Context, adapter source.Adapter) (domain.Collection, error) {
	collection := domain.NewCollection(adapter.Source(), nil)
	if h.paginator == nil {
		return collection, fmt.Errorf("paginator is not configured")
	}

	ranges := domain.MonthRanges(h.years)
	h.debug("harvest source", "source", adapter.Source(), "years", h.years, "ranges", len(ranges))

	for _, r := range ranges {
		batch, err := h.paginator.Collect(ctx, adapter, r)
		if err != nil {
			return collection, fmt.Errorf("harvest %s: %w", adapter.Source(), err)
		}
		collection = collection.Append(batch)
	}

	h.info("source harvested", "source", adapter.Source(), "records", collection.Len())
	return collection, nil
}

func (h *Harvester) debug(msg string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *Harvester) info(msg string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}
