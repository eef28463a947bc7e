package xiaohongshu

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// AuthStore holds the single in-memory AuthCapture behind a mutex,
// replacing the whole capture atomically on update — mirrors the
// teacher's §9-flagged "mutable module-level singleton" pattern, now
// owned as a value by the app context instead of a package global.
type AuthStore struct {
	mu      sync.RWMutex
	capture models.AuthCapture

	harPath  string
	curlPath string
}

// NewAuthStore builds an AuthStore that falls back to the given HAR/cURL
// capture files when no runtime auth/update call has happened yet.
func NewAuthStore(harPath, curlPath string) *AuthStore {
	return &AuthStore{harPath: harPath, curlPath: curlPath}
}

// Current returns a copy of the active capture.
func (a *AuthStore) Current() models.AuthCapture {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.capture
}

// Update replaces the capture wholesale via an explicit auth/update call.
// Rejects an empty cookie per spec §3's AuthCapture invariant.
func (a *AuthStore) Update(cookie, userAgent, origin, referer string, extra map[string]string) error {
	if cookie == "" {
		return apierr.New(apierr.InvalidInput, "cookie must not be empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capture = models.AuthCapture{
		Cookie:       cookie,
		UserAgent:    userAgent,
		Origin:       origin,
		Referer:      referer,
		ExtraHeaders: extra,
		CapturedAt:   time.Now().UTC(),
	}
	return nil
}

// RefreshResult summarizes what Refresh found, for the
// capture/refresh endpoint's response shape.
type RefreshResult struct {
	RequestURLHost string   `json:"request_url_host"`
	RequestMethod  string   `json:"request_method"`
	HeadersCount   int      `json:"headers_count"`
	EmptyKeys      []string `json:"empty_keys"`
}

// Refresh reloads the capture from the on-disk HAR file, falling back
// to the cURL file when the HAR is unusable, per spec §4.8(b).
func (a *AuthStore) Refresh() (*RefreshResult, error) {
	if a.harPath != "" {
		if result, capture, err := parseHAR(a.harPath); err == nil {
			a.mu.Lock()
			a.capture = capture
			a.mu.Unlock()
			return result, nil
		}
	}
	if a.curlPath != "" {
		result, capture, err := parseCurlFile(a.curlPath)
		if err != nil {
			return nil, apierr.Wrap(apierr.DependencyMissing, err, "no usable HAR or cURL capture file")
		}
		a.mu.Lock()
		a.capture = capture
		a.mu.Unlock()
		return result, nil
	}
	return nil, apierr.New(apierr.DependencyMissing, "no HAR or cURL capture file configured")
}

type harFile struct {
	Log struct {
		Entries []struct {
			Request struct {
				Method  string `json:"method"`
				URL     string `json:"url"`
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"request"`
		} `json:"entries"`
	} `json:"log"`
}

func parseHAR(path string) (*RefreshResult, models.AuthCapture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, models.AuthCapture{}, err
	}
	var h harFile
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, models.AuthCapture{}, err
	}
	for _, entry := range h.Log.Entries {
		if !strings.Contains(entry.Request.URL, "xiaohongshu.com") {
			continue
		}
		capture := models.AuthCapture{ExtraHeaders: map[string]string{}, CapturedAt: time.Now().UTC()}
		var emptyKeys []string
		for _, hdr := range entry.Request.Headers {
			switch strings.ToLower(hdr.Name) {
			case "cookie":
				capture.Cookie = hdr.Value
			case "user-agent":
				capture.UserAgent = hdr.Value
			case "origin":
				capture.Origin = hdr.Value
			case "referer":
				capture.Referer = hdr.Value
			default:
				if hdr.Value == "" {
					emptyKeys = append(emptyKeys, hdr.Name)
					continue
				}
				capture.ExtraHeaders[hdr.Name] = hdr.Value
			}
		}
		if capture.Empty() {
			continue
		}
		return &RefreshResult{
			RequestURLHost: hostOf(entry.Request.URL),
			RequestMethod:  entry.Request.Method,
			HeadersCount:   len(entry.Request.Headers),
			EmptyKeys:      emptyKeys,
		}, capture, nil
	}
	return nil, models.AuthCapture{}, apierr.New(apierr.DependencyMissing, "no xiaohongshu request found in HAR")
}

var curlHeaderRe = regexp.MustCompile(`(?i)^\s*-H\s+'([^:]+):\s*(.*)'\s*\\?\s*$`)
var curlURLRe = regexp.MustCompile(`(?i)^\s*curl\s+'([^']+)'`)

func parseCurlFile(path string) (*RefreshResult, models.AuthCapture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.AuthCapture{}, err
	}
	defer f.Close()

	capture := models.AuthCapture{ExtraHeaders: map[string]string{}, CapturedAt: time.Now().UTC()}
	var url string
	var emptyKeys []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := curlURLRe.FindStringSubmatch(line); m != nil {
			url = m[1]
			continue
		}
		m := curlHeaderRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		switch strings.ToLower(name) {
		case "cookie":
			capture.Cookie = value
		case "user-agent":
			capture.UserAgent = value
		case "origin":
			capture.Origin = value
		case "referer":
			capture.Referer = value
		default:
			if value == "" {
				emptyKeys = append(emptyKeys, name)
				continue
			}
			capture.ExtraHeaders[name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, models.AuthCapture{}, err
	}
	if capture.Empty() {
		return nil, models.AuthCapture{}, apierr.New(apierr.DependencyMissing, "no cookie found in cURL capture")
	}
	return &RefreshResult{
		RequestURLHost: hostOf(url),
		RequestMethod:  "GET",
		HeadersCount:   len(capture.ExtraHeaders) + 3,
		EmptyKeys:      emptyKeys,
	}, capture, nil
}

func hostOf(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		withoutScheme = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(withoutScheme, "/?"); idx >= 0 {
		withoutScheme = withoutScheme[:idx]
	}
	return withoutScheme
}
