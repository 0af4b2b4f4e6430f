package statedoc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/mirrorrelay/internal/mirror"
	"github.com/agentworkforce/mirrorrelay/internal/observability"
)

const maxDocumentBytes = 4 << 20

// Fetcher reads one mirror's status document. Implementations never fail
// outright: problems are reported through an unavailable FetchResult.
type Fetcher interface {
	Fetch(ctx context.Context, m mirror.Mirror) FetchResult
}

type HTTPFetcherOptions struct {
	BaseURL    string
	Branch     string
	Path       string
	HTTPClient *http.Client
	UserAgent  string
	Now        func() time.Time
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// HTTPFetcher reads documents from raw file hosting at
// {base}/{owner}/{name}/{branch}/{path}.
type HTTPFetcher struct {
	baseURL    string
	branch     string
	path       string
	httpClient *http.Client
	userAgent  string
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://raw.githubusercontent.com"
	}
	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		branch = "main"
	}
	path := strings.Trim(strings.TrimSpace(opts.Path), "/")
	if path == "" {
		path = "state.json"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPFetcher{
		baseURL:    baseURL,
		branch:     branch,
		path:       path,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		now:        now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// DocumentURL builds the location of m's document with a cache-busting
// query parameter taken from the fetcher's clock.
func (f *HTTPFetcher) DocumentURL(m mirror.Mirror) string {
	segments := []string{url.PathEscape(m.Owner), url.PathEscape(m.Name), url.PathEscape(f.branch)}
	for _, part := range strings.Split(f.path, "/") {
		segments = append(segments, url.PathEscape(part))
	}
	return f.baseURL + "/" + strings.Join(segments, "/") + "?t=" + strconv.FormatInt(f.now().UnixMilli(), 10)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, m mirror.Mirror) FetchResult {
	doc, err := f.fetch(ctx, m)
	f.metrics.RecordStateFetch(m.String(), err == nil)
	if err != nil {
		f.logger.Debug().Str("mirror", m.String()).Err(err).Msg("status document unavailable")
		return FetchResult{Mirror: m, Err: err}
	}
	return FetchResult{Mirror: m, Document: doc, Available: true}
}

func (f *HTTPFetcher) fetch(ctx context.Context, m mirror.Mirror) (StatusDocument, error) {
	if m.IsZero() {
		return StatusDocument{}, mirror.ErrInvalidMirror
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.DocumentURL(m), nil)
	if err != nil {
		return StatusDocument{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return StatusDocument{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return StatusDocument{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusDocument{}, fmt.Errorf("status document fetch failed: status=%d", resp.StatusCode)
	}
	return DecodeStatusDocument(body)
}
