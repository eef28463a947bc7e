package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/midas/pkg/apierr"
)

// envelope is the unified response shape every endpoint returns, per
// spec §4.12/§6: {ok, code, message, data, request_id}.
type envelope struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id"`
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("failed to encode response envelope")
	}
}

func writeOK(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, http.StatusOK, envelope{
		OK:        true,
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeError maps a component error to its wire code and HTTP status,
// never leaking internals to the client, per spec §7's propagation policy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tagged *apierr.Error
	kind := apierr.Internal
	message := "internal error"
	var retryAfter int
	var data any
	if errors.As(err, &tagged) {
		kind = tagged.Kind
		message = tagged.Message
		retryAfter = tagged.RetryAfterSeconds
		data = tagged.Data
	} else {
		log.Error().Err(err).Msg("untagged error reached the http layer")
	}

	status := httpStatusFor(kind)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeEnvelope(w, status, envelope{
		OK:        false,
		Code:      string(kind),
		Message:   message,
		Data:      data,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func httpStatusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.InvalidInput:
		return http.StatusBadRequest
	case apierr.AuthExpired:
		return http.StatusUnauthorized
	case apierr.RateLimited:
		return http.StatusTooManyRequests
	case apierr.UpstreamError:
		return http.StatusBadGateway
	case apierr.DependencyMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newRateLimitedEnvelope(r *http.Request) envelope {
	return envelope{
		OK:        false,
		Code:      string(apierr.RateLimited),
		Message:   "rate limit exceeded",
		RequestID: RequestIDFromContext(r.Context()),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.InvalidInput, err, "malformed json request body")
	}
	return nil
}
