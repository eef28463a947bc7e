// Package xiaohongshu implements the Xiaohongshu Fetcher (C8) and
// Pipeline (C9): signed upstream calls, auth-refresh fallback chain,
// single-URL summarize, and the collection-sync job driver.
package xiaohongshu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
)

// BrowserFallback is the pluggable seam for escalating to a live-browser
// session when a signed request is rejected. No real headless-browser
// driver appears anywhere in the example pack and spec §9's open
// question leaves the exact media-URL reuse semantics unclear, so this
// stays a narrow interface with a no-op default — the escalation *path*
// exists, not a concrete implementation.
type BrowserFallback interface {
	FetchList(ctx context.Context, cursor string, limit int) (*ListPage, error)
	FetchDetail(ctx context.Context, noteID string) (*NoteDetail, error)
}

// NoopBrowserFallback always declines, surfacing DEPENDENCY_MISSING so
// callers can distinguish "no fallback configured" from an upstream failure.
type NoopBrowserFallback struct{}

func (NoopBrowserFallback) FetchList(ctx context.Context, cursor string, limit int) (*ListPage, error) {
	return nil, apierr.New(apierr.DependencyMissing, "no browser fallback driver configured")
}

func (NoopBrowserFallback) FetchDetail(ctx context.Context, noteID string) (*NoteDetail, error) {
	return nil, apierr.New(apierr.DependencyMissing, "no browser fallback driver configured")
}

// ListItem is one entry in a collection list page.
type ListItem struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
}

// ListPage is the result of one fetch_list call.
type ListPage struct {
	Items      []ListItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// NoteDetail is the result of one fetch_detail call.
type NoteDetail struct {
	NoteID       string `json:"note_id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	VideoURL     string `json:"video_url,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
}

// Fetcher wraps signed upstream requests against the Xiaohongshu
// web_readonly surface.
type Fetcher struct {
	auth     *AuthStore
	client   *http.Client
	baseURL  string
	fallback BrowserFallback
}

// NewFetcher builds a Fetcher. baseURL is typically
// "https://edith.xiaohongshu.com".
func NewFetcher(auth *AuthStore, baseURL string, allowlist []string, timeout time.Duration, fallback BrowserFallback) *Fetcher {
	if fallback == nil {
		fallback = NoopBrowserFallback{}
	}
	return &Fetcher{
		auth:    auth,
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: newAllowlistTransport(allowlist),
		},
		fallback: fallback,
	}
}

const statusSignatureRejected = 406

// FetchList retrieves one page of the owner's favorite collection.
func (f *Fetcher) FetchList(ctx context.Context, collectionID, cursor string, limit int) (*ListPage, error) {
	q := url.Values{"collection_id": {collectionID}, "limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page ListPage
	err := f.doSigned(ctx, http.MethodGet, "/api/sns/web/v1/favorite/list", q, &page)
	if err != nil && apierr.Is(err, apierr.UpstreamError) && isSignatureRejected(err) {
		return f.fallback.FetchList(ctx, cursor, limit)
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchDetail retrieves one note's full detail.
func (f *Fetcher) FetchDetail(ctx context.Context, noteID string) (*NoteDetail, error) {
	q := url.Values{"note_id": {noteID}}
	var detail NoteDetail
	err := f.doSigned(ctx, http.MethodGet, "/api/sns/web/v1/feed", q, &detail)
	if err != nil && apierr.Is(err, apierr.UpstreamError) && isSignatureRejected(err) {
		return f.fallback.FetchDetail(ctx, noteID)
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func isSignatureRejected(err error) bool {
	var e *apierr.Error
	if ae, ok := err.(*apierr.Error); ok {
		e = ae
	}
	return e != nil && e.RetryAfterSeconds == statusSignatureRejected
}

func (f *Fetcher) doSigned(ctx context.Context, method, path string, query url.Values, out any) error {
	capture := f.auth.Current()
	if capture.Empty() {
		return apierr.New(apierr.AuthExpired, "no xiaohongshu auth capture available")
	}

	full := f.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, full, nil)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "build xiaohongshu request")
	}
	req.Header.Set("Cookie", capture.Cookie)
	if capture.UserAgent != "" {
		req.Header.Set("User-Agent", capture.UserAgent)
	}
	if capture.Origin != "" {
		req.Header.Set("Origin", capture.Origin)
	}
	if capture.Referer != "" {
		req.Header.Set("Referer", capture.Referer)
	}
	for k, v := range capture.ExtraHeaders {
		req.Header.Set(k, v)
	}
	if err := signRequest(req, capture.Cookie); err != nil {
		return err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, err, "xiaohongshu request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apierr.New(apierr.AuthExpired, "xiaohongshu rejected current credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierr.RateLimit("xiaohongshu rate limited the request", 0)
	case resp.StatusCode == statusSignatureRejected:
		return &apierr.Error{Kind: apierr.UpstreamError, Message: "signature rejected", RetryAfterSeconds: statusSignatureRejected}
	case resp.StatusCode >= 400:
		return apierr.Newf(apierr.UpstreamError, "xiaohongshu returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Wrap(apierr.UpstreamError, err, "malformed xiaohongshu response")
	}
	return nil
}
