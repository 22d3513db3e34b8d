package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/infrastructure/transport"
	"ReportHarvester/internal/source"
	"ReportHarvester/pkg/filename"
)

const (
	cninfoEndpoint  = "http://www.cninfo.com.cn/new/hisAnnouncement/query"
	cninfoAssetHost = "http://static.cninfo.com.cn/"
	cninfoPageSize  = 30
)

var cninfoHeaders = map[string]string{
	"User-Agent":       browserUserAgent,
	"X-Requested-With": "XMLHttpRequest",
}

// CNInfo queries the primary disclosure registry with form-encoded POSTs.
type CNInfo struct {
	endpoint  string
	assetHost string
	keyword   string
	client    *transport.Client
}

var _ source.Adapter = (*CNInfo)(nil)

// NewCNInfo wires the adapter; empty options use the public endpoint.
func NewCNInfo(opts Options) *CNInfo {
	opts = opts.withDefaults(cninfoEndpoint, cninfoAssetHost, cninfoHeaders)
	return &CNInfo{
		endpoint:  opts.Endpoint,
		assetHost: opts.AssetHost,
		keyword:   opts.Keyword,
		client:    transport.NewClient(opts.Client, opts.Headers, opts.Retry),
	}
}

// Source identifies the adapter inside the registry.
func (c *CNInfo) Source() domain.SourceID {
	return domain.SourceCNInfo
}

// PageSize is the largest page the registry serves.
func (c *CNInfo) PageSize() int {
	return cninfoPageSize
}

// FetchTotal reads totalRecordNum from the first page.
func (c *CNInfo) FetchTotal(ctx context.Context, r domain.DateRange) (int, error) {
	resp, err := c.query(ctx, r, 1)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalRecordNum), nil
}

// FetchPage returns the announcements of one page.
func (c *CNInfo) FetchPage(ctx context.Context, r domain.DateRange, page int) ([]source.Fragment, error) {
	resp, err := c.query(ctx, r, page)
	if err != nil {
		return nil, err
	}
	if resp.TotalRecordNum == 0 {
		return nil, nil
	}

	fragments := make([]source.Fragment, 0, len(resp.Announcements))
	for _, item := range resp.Announcements {
		item.assetHost = c.assetHost
		fragments = append(fragments, item)
	}
	return fragments, nil
}

type cninfoResponse struct {
	TotalRecordNum flexInt          `json:"totalRecordNum"`
	Announcements  []cninfoFragment `json:"announcements"`
}

func (c *CNInfo) query(ctx context.Context, r domain.DateRange, page int) (cninfoResponse, error) {
	form := url.Values{}
	form.Set("pageNum", strconv.Itoa(page))
	form.Set("pageSize", strconv.Itoa(cninfoPageSize))
	form.Set("column", "szse")
	form.Set("tabName", "fulltext")
	form.Set("plate", "")
	form.Set("stock", "")
	form.Set("searchkey", c.keyword)
	form.Set("category", "")
	form.Set("seDate", r.StartDate()+"~"+r.EndDate())
	form.Set("sortName", "")
	form.Set("sortType", "")
	form.Set("isHLtitle", "true")
	encoded := form.Encode()

	body, err := c.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		return req, nil
	})
	if err != nil {
		return cninfoResponse{}, fmt.Errorf("cninfo query %s page %d: %w", r, page, err)
	}

	var resp cninfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cninfoResponse{}, fmt.Errorf("cninfo decode %s page %d: %w: %w", r, page, source.ErrMalformedResponse, err)
	}
	return resp, nil
}

type cninfoFragment struct {
	AdjunctURL        string  `json:"adjunctUrl"`
	AnnouncementTime  flexInt `json:"announcementTime"`
	AnnouncementTitle string  `json:"announcementTitle"`
	SecCode           string  `json:"secCode"`
	SecName           string  `json:"secName"`

	assetHost string
}

// Normalize converts the epoch-millisecond timestamp to a date, prefixes the
// partial document path with the static host and strips title highlighting.
func (f cninfoFragment) Normalize() (domain.Announcement, error) {
	code := strings.TrimSpace(f.SecCode)
	if code == "" {
		return domain.Announcement{}, fmt.Errorf("%w: cninfo entry without secCode", domain.ErrInvalidRecord)
	}
	if f.AnnouncementTime <= 0 {
		return domain.Announcement{}, fmt.Errorf("%w: cninfo entry %s without announcementTime", domain.ErrInvalidRecord, code)
	}

	link, err := joinURL(f.assetHost, f.AdjunctURL)
	if err != nil {
		return domain.Announcement{}, err
	}

	return domain.Announcement{
		Title:    filename.Sanitize(plainText(f.AnnouncementTitle)),
		Date:     domain.DateOf(time.UnixMilli(int64(f.AnnouncementTime))),
		SecCode:  code,
		SecName:  strings.TrimSpace(f.SecName),
		FileLink: link,
		Source:   domain.SourceCNInfo,
	}, nil
}
