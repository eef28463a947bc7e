// Package llm implements the LLM Summarizer (C6): an OpenAI-compatible
// chat-completion client wrapped in the same CircuitBreaker + bounded
// semaphore + retryWithBackoff shape as the teacher's
// internal/worker/sdk/processor.go and internal/worker/service.go.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/midas/pkg/apierr"
)

// Config configures the upstream endpoint and budget.
type Config struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxPromptChars int
	MaxConcurrent  int
}

// Hints narrows the summarization request, e.g. output format and
// source family, per spec §4.6.
type Hints struct {
	Format string
	Source string
}

// Summarizer talks to the configured chat-completion endpoint.
type Summarizer struct {
	cfg     Config
	client  *http.Client
	breaker *CircuitBreaker
	sem     chan struct{}
	enc     tokenizer.Codec
}

// NewSummarizer builds a Summarizer. MaxConcurrent bounds in-flight
// calls (mirrors Processor.sem); defaults to 4.
func NewSummarizer(cfg Config) (*Summarizer, error) {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Summarizer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker(5, 30*time.Second),
		sem:     make(chan struct{}, maxConcurrent),
		enc:     enc,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize produces a Markdown summary of text. Applies the configured
// outer timeout, retries only transport errors (bounded exponential
// backoff, at most 2 attempts), and truncates the prompt to
// MaxPromptChars before sending.
func (s *Summarizer) Summarize(ctx context.Context, text string, hints Hints) (string, error) {
	if !s.cfg.Enabled {
		return "", apierr.New(apierr.DependencyMissing, "llm summarization is disabled")
	}
	if !s.breaker.Allow() {
		return "", apierr.New(apierr.UpstreamError, "llm circuit breaker is open")
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return "", apierr.Wrap(apierr.Internal, ctx.Err(), "waiting for llm call slot")
	}

	budgeted := s.budgetPrompt(text)

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	prompt := buildPrompt(budgeted, hints)

	var markdown string
	err := retryWithBackoff(runCtx, 2, 500*time.Millisecond, func() error {
		result, callErr := s.callOnce(runCtx, prompt)
		if callErr != nil {
			return callErr
		}
		markdown = result
		return nil
	})
	if err != nil {
		s.breaker.RecordFailure()
		return "", err
	}
	s.breaker.RecordSuccess()
	return markdown, nil
}

func buildPrompt(text string, hints Hints) string {
	format := hints.Format
	if format == "" {
		format = "markdown"
	}
	return fmt.Sprintf("Summarize the following %s source content as %s:\n\n%s", hints.Source, format, text)
}

// budgetPrompt keeps the first MaxPromptChars bytes of text and drops the
// tail, logging a warning with the dropped byte count. The cut is by byte
// length, not by token count; tiktoken-go/tokenizer only supplies the
// original text's token total for that warning.
func (s *Summarizer) budgetPrompt(text string) string {
	limit := s.cfg.MaxPromptChars
	if limit <= 0 || len(text) <= limit {
		return text
	}
	ids, _, err := s.enc.Encode(text)
	if err != nil || len(ids) == 0 {
		truncated := text[:limit]
		log.Warn().Int("dropped_chars", len(text)-limit).Msg("truncated oversized prompt without tokenizer")
		return truncated
	}
	truncated := text[:limit]
	log.Warn().Int("dropped_chars", len(text)-limit).Int("total_tokens", len(ids)).Msg("truncated oversized prompt")
	return truncated
}

func (s *Summarizer) callOnce(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, err, "encode chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// transport error: eligible for retry
		return "", err
	}
	defer resp.Body.Close()

	return parseChatResponse(resp)
}

func parseChatResponse(resp *http.Response) (string, error) {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apierr.New(apierr.AuthExpired, "llm endpoint rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", apierr.RateLimit("llm endpoint rate limited the request", retryAfter)
	case resp.StatusCode >= 500:
		return "", apierr.Newf(apierr.UpstreamError, "llm endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		var errBody chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", apierr.Newf(apierr.UpstreamError, "llm endpoint rejected request: %s", errBody.Error.Message)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apierr.Wrap(apierr.UpstreamError, err, "malformed llm response body")
	}
	if len(parsed.Choices) == 0 {
		return "", apierr.New(apierr.UpstreamError, "llm response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil {
		return 0
	}
	return seconds
}

// retryWithBackoff generalizes internal/worker/service.go's helper to
// operate on an arbitrary func() error instead of a CLI-specific call,
// retrying only while the context is still live and attempts remain.
func retryWithBackoff(ctx context.Context, maxAttempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// only bare transport errors are retried; a tagged *apierr.Error
		// means the upstream answered and classified the failure, which
		// retrying would not fix.
		var tagged *apierr.Error
		if isTagged(err, &tagged) || attempt == maxAttempts-1 {
			return lastErr
		}

		backoff := base * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func isTagged(err error, target **apierr.Error) bool {
	if e, ok := err.(*apierr.Error); ok {
		*target = e
		return true
	}
	return false
}
