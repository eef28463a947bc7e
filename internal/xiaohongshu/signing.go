package xiaohongshu

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/thebtf/midas/pkg/apierr"
)

// signingKey derives a stable per-capture request-signing key from the
// AuthCapture's cookie via x/crypto/hkdf, rather than using the cookie
// itself as the HMAC key directly — so rotating the salt (e.g. per
// deployment) doesn't require a new capture.
func signingKey(cookie string) ([]byte, error) {
	salt := []byte("midas-xiaohongshu-request-signing")
	r := hkdf.New(sha256.New, []byte(cookie), salt, []byte("request-signature"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// signRequest computes an HMAC-SHA256 signature over
// method+path+timestamp+nonce and attaches it alongside the timestamp
// and nonce as headers, per SPEC_FULL.md's C8 expansion.
func signRequest(req *http.Request, cookie string) error {
	key, err := signingKey(cookie)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err, "derive request signing key")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := strconv.FormatUint(rand.Uint64(), 16)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(req.Method))
	mac.Write([]byte(req.URL.Path))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(nonce))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-Midas-Timestamp", timestamp)
	req.Header.Set("X-Midas-Nonce", nonce)
	req.Header.Set("X-Midas-Signature", signature)
	return nil
}

// allowlistTransport enforces HTTPS-only and a host allowlist on every
// outbound request, the same shape as the teacher's inbound
// SecurityHeaders middleware applied instead to an http.Client's
// RoundTripper.
type allowlistTransport struct {
	next      http.RoundTripper
	allowlist map[string]struct{}
}

func newAllowlistTransport(hosts []string) *allowlistTransport {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return &allowlistTransport{next: http.DefaultTransport, allowlist: set}
}

func (t *allowlistTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, apierr.Newf(apierr.InvalidInput, "refusing non-HTTPS request to %s", req.URL)
	}
	if len(t.allowlist) > 0 {
		if _, ok := t.allowlist[req.URL.Host]; !ok {
			return nil, apierr.Newf(apierr.InvalidInput, "host %q is not in the xiaohongshu allowlist", req.URL.Host)
		}
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, apierr.Newf(apierr.InvalidInput, "method %q is not permitted", req.Method)
	}
	return t.next.RoundTrip(req)
}
