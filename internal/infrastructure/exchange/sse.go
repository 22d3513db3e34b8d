package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/infrastructure/transport"
	"ReportHarvester/internal/source"
	"ReportHarvester/pkg/filename"
)

const (
	sseEndpoint  = "http://query.sse.com.cn/security/stock/queryCompanyBulletinNew.do"
	sseAssetHost = "http://www.sse.com.cn"
	ssePageSize  = 25
)

var sseHeaders = map[string]string{
	"User-Agent": browserUserAgent,
	"Referer":    "http://www.sse.com.cn/",
}

// SSE queries the Shanghai bulletin endpoint, which answers in JSONP.
type SSE struct {
	endpoint  string
	assetHost string
	keyword   string
	client    *transport.Client
	stamps    *stamper
}

var _ source.Adapter = (*SSE)(nil)

// NewSSE wires the adapter; empty options use the public endpoint.
func NewSSE(opts Options) *SSE {
	opts = opts.withDefaults(sseEndpoint, sseAssetHost, sseHeaders)
	return &SSE{
		endpoint:  opts.Endpoint,
		assetHost: opts.AssetHost,
		keyword:   opts.Keyword,
		client:    transport.NewClient(opts.Client, opts.Headers, opts.Retry),
		stamps:    &stamper{now: time.Now},
	}
}

// Source identifies the adapter inside the registry.
func (s *SSE) Source() domain.SourceID {
	return domain.SourceSSE
}

// PageSize is fixed by the bulletin endpoint.
func (s *SSE) PageSize() int {
	return ssePageSize
}

// FetchTotal reads pageHelp.total from the first page.
func (s *SSE) FetchTotal(ctx context.Context, r domain.DateRange) (int, error) {
	payload, err := s.query(ctx, r, 1)
	if err != nil {
		return 0, err
	}
	return int(payload.PageHelp.Total), nil
}

// FetchPage returns the flattened entries of one page.
func (s *SSE) FetchPage(ctx context.Context, r domain.DateRange, page int) ([]source.Fragment, error) {
	payload, err := s.query(ctx, r, page)
	if err != nil {
		return nil, err
	}

	fragments := make([]source.Fragment, 0, len(payload.PageHelp.Data))
	for _, item := range payload.PageHelp.Data {
		item.assetHost = s.assetHost
		item.keyword = s.keyword
		fragments = append(fragments, item)
	}
	return fragments, nil
}

type ssePayload struct {
	PageHelp struct {
		Total flexInt `json:"total"`
		Data  sseRows `json:"data"`
	} `json:"pageHelp"`
}

func (s *SSE) query(ctx context.Context, r domain.DateRange, page int) (ssePayload, error) {
	callback := "jsonpCallback" + strconv.Itoa(10000000+rand.IntN(90000000))

	body, err := s.client.Fetch(ctx, func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(s.endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("jsonCallBack", callback)
		q.Set("isPagination", "true")
		q.Set("pageHelp.pageSize", strconv.Itoa(ssePageSize))
		q.Set("pageHelp.cacheSize", "1")
		q.Set("START_DATE", r.StartDate())
		q.Set("END_DATE", r.EndDate())
		q.Set("SECURITY_CODE", "")
		q.Set("TITLE", s.keyword)
		q.Set("BULLETIN_TYPE", "")
		q.Set("stockType", "")
		q.Set("pageHelp.pageNo", strconv.Itoa(page))
		q.Set("pageHelp.beginPage", strconv.Itoa(page))
		q.Set("pageHelp.endPage", strconv.Itoa(page))
		q.Set("_", strconv.FormatInt(s.stamps.next(), 10))
		u.RawQuery = q.Encode()

		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	})
	if err != nil {
		return ssePayload{}, fmt.Errorf("sse query %s page %d: %w", r, page, err)
	}

	raw, err := unwrapJSONP(body)
	if err != nil {
		return ssePayload{}, fmt.Errorf("sse unwrap %s page %d: %w", r, page, err)
	}

	var payload ssePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ssePayload{}, fmt.Errorf("sse decode %s page %d: %w: %w", r, page, source.ErrMalformedResponse, err)
	}
	return payload, nil
}

// unwrapJSONP strips a `callbackName(` prefix and the closing parenthesis.
// Plain JSON bodies pass through unchanged.
func unwrapJSONP(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	trimmed = bytes.TrimRight(trimmed, ";")
	trimmed = bytes.TrimSpace(trimmed)

	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return trimmed, nil
	}

	open := bytes.IndexByte(trimmed, '(')
	if open <= 0 || trimmed[len(trimmed)-1] != ')' {
		return nil, fmt.Errorf("%w: body is not a JSONP envelope", source.ErrMalformedResponse)
	}
	for _, c := range trimmed[:open] {
		if !isCallbackByte(c) {
			return nil, fmt.Errorf("%w: invalid JSONP callback %q", source.ErrMalformedResponse, trimmed[:open])
		}
	}

	return trimmed[open+1 : len(trimmed)-1], nil
}

func isCallbackByte(c byte) bool {
	return c == '_' || c == '$' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// sseRows accepts data as either a list of rows or a list of lists of rows.
type sseRows []sseFragment

func (rows *sseRows) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
			*rows = nil
			return nil
		}
		return err
	}

	var out sseRows
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var nested []sseFragment
			if err := json.Unmarshal(item, &nested); err != nil {
				return err
			}
			out = append(out, nested...)
			continue
		}

		var single sseFragment
		if err := json.Unmarshal(item, &single); err != nil {
			return err
		}
		out = append(out, single)
	}
	*rows = out
	return nil
}

type sseFragment struct {
	SecurityCode string `json:"SECURITY_CODE"`
	SecurityName string `json:"SECURITY_NAME"`
	SSEDate      string `json:"SSEDATE"`
	Title        string `json:"TITLE"`
	URL          string `json:"URL"`

	assetHost string
	keyword   string
}

// Normalize drops entries whose title lacks the keyword, since the server
// side TITLE search over-matches.
func (f sseFragment) Normalize() (domain.Announcement, error) {
	title := plainText(f.Title)
	if f.keyword != "" && !strings.Contains(title, f.keyword) {
		return domain.Announcement{}, source.ErrFiltered
	}

	code := strings.TrimSpace(f.SecurityCode)
	if code == "" {
		return domain.Announcement{}, fmt.Errorf("%w: sse entry without SECURITY_CODE", domain.ErrInvalidRecord)
	}

	date, err := domain.ParseDate(strings.TrimSpace(f.SSEDate))
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("%w: sse entry %s: %v", domain.ErrInvalidRecord, code, err)
	}

	link, err := joinURL(f.assetHost, f.URL)
	if err != nil {
		return domain.Announcement{}, err
	}

	return domain.Announcement{
		Title:    filename.Sanitize(title),
		Date:     date,
		SecCode:  code,
		SecName:  strings.TrimSpace(f.SecurityName),
		FileLink: link,
		Source:   domain.SourceSSE,
	}, nil
}

// stamper hands out strictly increasing millisecond stamps for the
// cache-busting `_` parameter.
type stamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (s *stamper) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
