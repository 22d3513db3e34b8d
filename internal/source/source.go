package source

import (
	"context"
	"errors"
	"fmt"

	"ReportHarvester/internal/domain"
)

var (
	// ErrFiltered is returned by Fragment.Normalize for entries the source
	// over-matched and the client drops.
	ErrFiltered = errors.New("fragment filtered out")
	// ErrMalformedResponse wraps JSON/JSONP decode failures.
	ErrMalformedResponse = errors.New("malformed response")
)

// Fragment is one raw entry from a page envelope, still in wire shape.
type Fragment interface {
	// Normalize maps the entry onto the canonical record. It is pure.
	Normalize() (domain.Announcement, error)
}

// Adapter knows one source's request encoding, page size and envelope.
type Adapter interface {
	Source() domain.SourceID
	// PageSize is fixed per source; upstreams reject or ignore other values.
	PageSize() int
	// FetchTotal reports how many entries the source holds for the range.
	FetchTotal(ctx context.Context, r domain.DateRange) (int, error)
	// FetchPage returns the raw entries of a 1-based page.
	FetchPage(ctx context.Context, r domain.DateRange, page int) ([]Fragment, error)
}

// Registry keeps a mapping from source IDs to their adapters.
type Registry struct {
	adapters map[domain.SourceID]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[domain.SourceID]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[domain.SourceID]Adapter{}
	}
	r.adapters[adapter.Source()] = adapter
}

// Resolve returns an adapter by source or an error if it is absent.
func (r *Registry) Resolve(id domain.SourceID) (Adapter, error) {
	if adapter, ok := r.adapters[id]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("source %s is not registered", id)
}
