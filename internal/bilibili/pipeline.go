// Package bilibili implements the Bilibili Pipeline (C7): normalize →
// fetch audio → transcribe → summarize, recording step timings the same
// way the teacher's sdk.Processor times each CLI call.
package bilibili

import (
	"context"
	"time"

	"github.com/thebtf/midas/internal/asr"
	"github.com/thebtf/midas/internal/llm"
	"github.com/thebtf/midas/internal/media"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// Pipeline orchestrates C4 -> C5 -> C6 for Bilibili sources.
type Pipeline struct {
	fetcher    *media.Fetcher
	asr        *asr.Engine
	summarizer *llm.Summarizer

	maxVideoMinutes int
}

// NewPipeline builds a Pipeline wired to the given component instances.
func NewPipeline(fetcher *media.Fetcher, engine *asr.Engine, summarizer *llm.Summarizer, maxVideoMinutes int) *Pipeline {
	return &Pipeline{fetcher: fetcher, asr: engine, summarizer: summarizer, maxVideoMinutes: maxVideoMinutes}
}

// Summarize runs the full pipeline for a user-supplied Bilibili URL or
// raw BV id. Does not save; callers must call the Note Store separately.
func (p *Pipeline) Summarize(ctx context.Context, input string) (*models.SummaryArtifact, error) {
	bvID, canonicalURL, err := media.NormalizeBilibiliURL(input)
	if err != nil {
		return nil, err
	}

	var totalElapsed time.Duration

	step1 := time.Now()
	audio, err := p.fetcher.FetchAudio(ctx, canonicalURL)
	totalElapsed += time.Since(step1)
	if err != nil {
		return nil, err
	}
	defer audio.Cleanup()

	if p.maxVideoMinutes > 0 && audio.DurationSeconds > float64(p.maxVideoMinutes*60) {
		return nil, apierr.Newf(apierr.InvalidInput, "video duration %.0fs exceeds max_video_minutes=%d", audio.DurationSeconds, p.maxVideoMinutes)
	}

	step2 := time.Now()
	transcript, err := p.asr.Transcribe(ctx, audio.AudioPath)
	totalElapsed += time.Since(step2)
	if err != nil {
		return nil, err
	}

	step3 := time.Now()
	markdown, err := p.summarizer.Summarize(ctx, transcript.Text, llm.Hints{Format: "markdown", Source: "bilibili"})
	totalElapsed += time.Since(step3)
	if err != nil {
		return nil, err
	}

	return &models.SummaryArtifact{
		Source:          models.SourceBilibili,
		SourceID:        bvID,
		SourceURL:       canonicalURL,
		Title:           bvID,
		SummaryMarkdown: markdown,
		CapturedMetadata: map[string]any{
			"elapsed_ms":       totalElapsed.Milliseconds(),
			"transcript_chars": transcript.CharCount,
		},
	}, nil
}
