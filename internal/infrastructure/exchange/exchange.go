// Package exchange implements the source adapters for the three upstream
// disclosure-query APIs. Each adapter owns its request encoding and response
// envelope; each fragment type owns the mapping onto domain.Announcement.
package exchange

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/retry"
	"ReportHarvester/internal/source"
)

// DefaultKeyword is the search term for social-responsibility reports.
const DefaultKeyword = "社会责任"

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

// Options configures an adapter. Zero values fall back to the source defaults.
type Options struct {
	Endpoint  string
	AssetHost string
	Keyword   string
	// Headers are merged over the source's default static headers.
	Headers map[string]string
	Client  *http.Client
	Retry   retry.Policy
}

func (o Options) withDefaults(endpoint, assetHost string, headers map[string]string) Options {
	if o.Endpoint == "" {
		o.Endpoint = endpoint
	}
	if o.AssetHost == "" {
		o.AssetHost = assetHost
	}
	if o.Keyword == "" {
		o.Keyword = DefaultKeyword
	}
	o.Headers = MergeHeaders(headers, o.Headers)
	return o
}

// DefaultHeaders returns the static headers a source expects, also used when
// fetching its documents.
func DefaultHeaders(id domain.SourceID) map[string]string {
	switch id {
	case domain.SourceCNInfo:
		return MergeHeaders(cninfoHeaders, nil)
	case domain.SourceSSE:
		return MergeHeaders(sseHeaders, nil)
	case domain.SourceSZSE:
		return MergeHeaders(szseHeaders, nil)
	}
	return map[string]string{"User-Agent": browserUserAgent}
}

// MergeHeaders returns a copy of base overlaid with override.
func MergeHeaders(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// joinURL resolves a partial document path against a source's asset host.
func joinURL(host, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty document path", domain.ErrInvalidRecord)
	}

	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: document link %q: %v", domain.ErrInvalidRecord, raw, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", fmt.Errorf("%w: document link %q is not absolute", domain.ErrInvalidRecord, raw)
	}
	return parsed.String(), nil
}

// plainText drops highlight markup such as <em>社会责任</em> and decodes
// entities, leaving the visible title text.
func plainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}

// flexInt decodes integers that upstreams sometimes send as strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("decode integer %s: %w", b, err)
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}

// New builds the adapter of a source.
func New(id domain.SourceID, opts Options) (source.Adapter, error) {
	switch id {
	case domain.SourceCNInfo:
		return NewCNInfo(opts), nil
	case domain.SourceSSE:
		return NewSSE(opts), nil
	case domain.SourceSZSE:
		return NewSZSE(opts), nil
	}
	return nil, fmt.Errorf("unknown source %q", id)
}
