package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/source"
)

type stubFragment struct {
	rec domain.Announcement
	err error
}

func (f stubFragment) Normalize() (domain.Announcement, error) {
	return f.rec, f.err
}

// stubAdapter serves total records for every range, pageSize at a time.
type stubAdapter struct {
	id       domain.SourceID
	pageSize int
	total    func(domain.DateRange) int
	filter   func(i int) bool

	mu         sync.Mutex
	totalCalls int
	pageSizes  []int
	ranges     []domain.DateRange
}

func (a *stubAdapter) Source() domain.SourceID { return a.id }
func (a *stubAdapter) PageSize() int           { return a.pageSize }

func (a *stubAdapter) FetchTotal(_ context.Context, r domain.DateRange) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalCalls++
	a.ranges = append(a.ranges, r)
	return a.total(r), nil
}

func (a *stubAdapter) FetchPage(_ context.Context, r domain.DateRange, page int) ([]source.Fragment, error) {
	total := a.total(r)
	start := (page - 1) * a.pageSize
	end := start + a.pageSize
	if end > total {
		end = total
	}

	fragments := make([]source.Fragment, 0, end-start)
	for i := start; i < end; i++ {
		f := stubFragment{rec: domain.Announcement{
			Title:    fmt.Sprintf("report %d", i),
			Date:     r.Start,
			SecCode:  fmt.Sprintf("%06d", i),
			FileLink: fmt.Sprintf("http://example.test/%d.pdf", i),
			Source:   a.id,
		}}
		if a.filter != nil && a.filter(i) {
			f.err = source.ErrFiltered
		}
		fragments = append(fragments, f)
	}

	a.mu.Lock()
	a.pageSizes = append(a.pageSizes, len(fragments))
	a.mu.Unlock()
	return fragments, nil
}

func fixedTotal(n int) func(domain.DateRange) int {
	return func(domain.DateRange) int { return n }
}

type countingPacer struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return ctx.Err()
}

func TestPaginatorFetchesPartialLastPage(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{id: domain.SourceSSE, pageSize: 25, total: fixedTotal(57)}
	pacer := &countingPacer{}

	batch, err := NewPaginator(pacer, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.NoError(t, err)

	assert.Equal(t, []int{25, 25, 7}, adapter.pageSizes)
	assert.Len(t, batch.Records, 57)
	assert.Equal(t, domain.SourceSSE, batch.Source)
	assert.Equal(t, 4, pacer.calls, "one pause before the total query and one per page")
}

func TestPaginatorZeroTotalSkipsPages(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{id: domain.SourceCNInfo, pageSize: 30, total: fixedTotal(0)}

	batch, err := NewPaginator(nil, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.NoError(t, err)

	assert.Empty(t, adapter.pageSizes)
	assert.Empty(t, batch.Records)
	assert.Equal(t, 1, adapter.totalCalls)
}

func TestPaginatorExactMultipleOfPageSize(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{id: domain.SourceSZSE, pageSize: 50, total: fixedTotal(100)}

	batch, err := NewPaginator(nil, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.NoError(t, err)

	assert.Equal(t, []int{50, 50}, adapter.pageSizes)
	assert.Len(t, batch.Records, 100)
}

func TestPaginatorDropsFilteredFragments(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		id:       domain.SourceSSE,
		pageSize: 25,
		total:    fixedTotal(10),
		filter:   func(i int) bool { return i%2 == 1 },
	}

	batch, err := NewPaginator(nil, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.NoError(t, err)
	assert.Len(t, batch.Records, 5)
}

// brokenAdapter serves one invalid entry between two good ones.
type brokenAdapter struct {
	stubAdapter
}

func (a *brokenAdapter) FetchPage(context.Context, domain.DateRange, int) ([]source.Fragment, error) {
	return []source.Fragment{
		stubFragment{rec: domain.Announcement{SecCode: "000001", Source: a.id}},
		stubFragment{err: fmt.Errorf("%w: empty document path", domain.ErrInvalidRecord)},
		stubFragment{rec: domain.Announcement{SecCode: "000002", Source: a.id}},
	}, nil
}

func TestPaginatorSkipsInvalidRecord(t *testing.T) {
	t.Parallel()

	adapter := &brokenAdapter{stubAdapter{id: domain.SourceCNInfo, pageSize: 30, total: fixedTotal(3)}}

	batch, err := NewPaginator(nil, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "000001", batch.Records[0].SecCode)
	assert.Equal(t, "000002", batch.Records[1].SecCode)
}

// undecodableAdapter fails normalization with an error that is not a bad row.
type undecodableAdapter struct {
	stubAdapter
}

func (a *undecodableAdapter) FetchPage(context.Context, domain.DateRange, int) ([]source.Fragment, error) {
	return []source.Fragment{stubFragment{err: source.ErrMalformedResponse}}, nil
}

func TestPaginatorAbortsOnMalformedEntry(t *testing.T) {
	t.Parallel()

	adapter := &undecodableAdapter{stubAdapter{id: domain.SourceCNInfo, pageSize: 30, total: fixedTotal(1)}}

	_, err := NewPaginator(nil, nil).Collect(context.Background(), adapter, domain.MonthRange(2022, time.March))
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrMalformedResponse))
}

func TestPaginatorStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := &stubAdapter{id: domain.SourceCNInfo, pageSize: 30, total: fixedTotal(5)}

	_, err := NewPaginator(&countingPacer{}, nil).Collect(ctx, adapter, domain.MonthRange(2022, time.March))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, adapter.totalCalls)
}

func TestHarvesterQueriesEveryMonth(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{
		id:       domain.SourceCNInfo,
		pageSize: 30,
		total: func(r domain.DateRange) int {
			if r.Start.Month() == time.February {
				return 2
			}
			return 0
		},
	}

	harvester := NewHarvester(NewPaginator(nil, nil), []int{2023, 2024}, nil)
	collection, err := harvester.Harvest(context.Background(), adapter)
	require.NoError(t, err)

	require.Len(t, adapter.ranges, 24)
	assert.Equal(t, "2023-01-01", adapter.ranges[0].StartDate())
	assert.Equal(t, "2023-02-28", adapter.ranges[1].EndDate())
	assert.Equal(t, "2024-02-29", adapter.ranges[13].EndDate())
	assert.Equal(t, "2024-12-31", adapter.ranges[23].EndDate())

	assert.Equal(t, domain.SourceCNInfo, collection.Source)
	assert.Equal(t, 4, collection.Len())
}
