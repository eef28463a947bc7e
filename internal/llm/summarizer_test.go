package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/midas/pkg/apierr"
)

func TestSummarizeHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"# Summary"}}]}`))
	}))
	defer srv.Close()

	s, err := NewSummarizer(Config{Enabled: true, BaseURL: srv.URL, Model: "test-model", Timeout: 2 * time.Second})
	require.NoError(t, err)

	out, err := s.Summarize(context.Background(), "some transcript text", Hints{Format: "markdown", Source: "bilibili"})
	require.NoError(t, err)
	require.Equal(t, "# Summary", out)
}

func TestSummarizeMapsAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := NewSummarizer(Config{Enabled: true, BaseURL: srv.URL, Model: "test-model", Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "text", Hints{})
	require.Error(t, err)
	require.Equal(t, apierr.AuthExpired, apierr.KindOf(err))
}

func TestSummarizeDisabled(t *testing.T) {
	s, err := NewSummarizer(Config{Enabled: false})
	require.NoError(t, err)
	_, err = s.Summarize(context.Background(), "text", Hints{})
	require.Error(t, err)
}
