package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/infrastructure/transport"
	"ReportHarvester/internal/source"
	"ReportHarvester/pkg/filename"
)

const (
	szseEndpoint  = "http://www.szse.cn/api/disc/announcement/annList"
	szseAssetHost = "http://disc.static.szse.cn/download"
	szsePageSize  = 50
	szseChannel   = "listedNotice_disc"

	// titles look like "平安银行：2022年社会责任报告"; only the part after the
	// full-width colon is kept.
	labelSeparator = "："
)

var szseHeaders = map[string]string{
	"User-Agent":       browserUserAgent,
	"Referer":          "http://www.szse.cn/disclosure/listed/notice/index.html",
	"Origin":           "http://www.szse.cn",
	"X-Request-Type":   "ajax",
	"X-Requested-With": "XMLHttpRequest",
}

// SZSE queries the Shenzhen announcement list with JSON POSTs.
type SZSE struct {
	endpoint  string
	assetHost string
	keyword   string
	client    *transport.Client
	token     func() string
}

var _ source.Adapter = (*SZSE)(nil)

// NewSZSE wires the adapter; empty options use the public endpoint.
func NewSZSE(opts Options) *SZSE {
	opts = opts.withDefaults(szseEndpoint, szseAssetHost, szseHeaders)
	return &SZSE{
		endpoint:  opts.Endpoint,
		assetHost: opts.AssetHost,
		keyword:   opts.Keyword,
		client:    transport.NewClient(opts.Client, opts.Headers, opts.Retry),
		token:     uuid.NewString,
	}
}

// Source identifies the adapter inside the registry.
func (s *SZSE) Source() domain.SourceID {
	return domain.SourceSZSE
}

// PageSize is fixed by the announcement list endpoint.
func (s *SZSE) PageSize() int {
	return szsePageSize
}

// FetchTotal reads announceCount from the first page.
func (s *SZSE) FetchTotal(ctx context.Context, r domain.DateRange) (int, error) {
	resp, err := s.query(ctx, r, 1)
	if err != nil {
		return 0, err
	}
	return int(resp.AnnounceCount), nil
}

// FetchPage returns the entries of one page.
func (s *SZSE) FetchPage(ctx context.Context, r domain.DateRange, page int) ([]source.Fragment, error) {
	resp, err := s.query(ctx, r, page)
	if err != nil {
		return nil, err
	}

	fragments := make([]source.Fragment, 0, len(resp.Data))
	for _, item := range resp.Data {
		item.assetHost = s.assetHost
		fragments = append(fragments, item)
	}
	return fragments, nil
}

type szseQuery struct {
	ChannelCode []string `json:"channelCode"`
	PageNum     int      `json:"pageNum"`
	PageSize    int      `json:"pageSize"`
	SeDate      []string `json:"seDate"`
	SearchKey   []string `json:"searchKey"`
}

type szseResponse struct {
	AnnounceCount flexInt        `json:"announceCount"`
	Data          []szseFragment `json:"data"`
}

func (s *SZSE) query(ctx context.Context, r domain.DateRange, page int) (szseResponse, error) {
	payload, err := json.Marshal(szseQuery{
		ChannelCode: []string{szseChannel},
		PageNum:     page,
		PageSize:    szsePageSize,
		SeDate:      []string{r.StartDate(), r.EndDate()},
		SearchKey:   []string{s.keyword},
	})
	if err != nil {
		return szseResponse{}, fmt.Errorf("marshal szse query: %w", err)
	}

	body, err := s.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(s.endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("random", s.token())
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return szseResponse{}, fmt.Errorf("szse query %s page %d: %w", r, page, err)
	}

	var resp szseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return szseResponse{}, fmt.Errorf("szse decode %s page %d: %w: %w", r, page, source.ErrMalformedResponse, err)
	}
	return resp, nil
}

type szseFragment struct {
	SecCode     []string `json:"secCode"`
	SecName     []string `json:"secName"`
	PublishTime string   `json:"publishTime"`
	Title       string   `json:"title"`
	AttachPath  string   `json:"attachPath"`

	assetHost string
}

// Normalize unwraps the single-element code/name arrays, drops the leading
// label of the title and prefixes the attachment path with the download host.
func (f szseFragment) Normalize() (domain.Announcement, error) {
	code := first(f.SecCode)
	if code == "" {
		return domain.Announcement{}, fmt.Errorf("%w: szse entry without secCode", domain.ErrInvalidRecord)
	}

	date, err := domain.ParseDate(strings.TrimSpace(f.PublishTime))
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("%w: szse entry %s: %v", domain.ErrInvalidRecord, code, err)
	}

	link, err := joinURL(f.assetHost, f.AttachPath)
	if err != nil {
		return domain.Announcement{}, err
	}

	title := plainText(f.Title)
	if i := strings.LastIndex(title, labelSeparator); i >= 0 {
		title = title[i+len(labelSeparator):]
	}

	return domain.Announcement{
		Title:    filename.Sanitize(title),
		Date:     date,
		SecCode:  code,
		SecName:  first(f.SecName),
		FileLink: link,
		Source:   domain.SourceSZSE,
	}, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
