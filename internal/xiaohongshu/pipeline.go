package xiaohongshu

import (
	"context"
	"regexp"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thebtf/midas/internal/asr"
	"github.com/thebtf/midas/internal/llm"
	"github.com/thebtf/midas/internal/media"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// DetailFetchMode mirrors xiaohongshu.web_readonly.detail_fetch_mode.
type DetailFetchMode string

const (
	DetailFetchAuto   DetailFetchMode = "auto"
	DetailFetchAlways DetailFetchMode = "always"
	DetailFetchNever  DetailFetchMode = "never"
)

// DedupeStore is the narrow interface the pipeline needs from
// internal/store, kept local to avoid a store -> xiaohongshu import cycle.
type DedupeStore interface {
	Contains(ctx context.Context, source models.Source, sourceID string) (bool, error)
	Add(ctx context.Context, source models.Source, sourceID string) error
}

// Pipeline implements C9: single-URL summarize (synchronous) and the
// collection-sync driver (run by the Job Manager).
type Pipeline struct {
	fetcher    *Fetcher
	dedupe     DedupeStore
	media      *media.Fetcher
	asr        *asr.Engine
	summarizer *llm.Summarizer

	detailFetchMode DetailFetchMode

	sf singleflight.Group
}

// NewPipeline builds a Pipeline wired to its collaborators.
func NewPipeline(fetcher *Fetcher, dedupe DedupeStore, mediaFetcher *media.Fetcher, engine *asr.Engine, summarizer *llm.Summarizer, mode DetailFetchMode) *Pipeline {
	return &Pipeline{
		fetcher:         fetcher,
		dedupe:          dedupe,
		media:           mediaFetcher,
		asr:             engine,
		summarizer:      summarizer,
		detailFetchMode: mode,
	}
}

var noteIDRe = regexp.MustCompile(`/(?:explore|discovery/item)/([0-9a-f]{24})`)

// ExtractNoteID pulls the platform note id out of a Xiaohongshu URL.
func ExtractNoteID(rawURL string) (string, error) {
	m := noteIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", apierr.New(apierr.InvalidInput, "no xiaohongshu note id found in url")
	}
	return m[1], nil
}

// SummarizeURL is the single-URL synchronous summarize path. A
// singleflight.Group keyed by note_id collapses concurrent calls for
// the same note, grounded on the teacher's x/sync/singleflight use in
// internal/search/manager.go.
func (p *Pipeline) SummarizeURL(ctx context.Context, rawURL string) (*models.SummaryArtifact, error) {
	noteID, err := ExtractNoteID(rawURL)
	if err != nil {
		return nil, err
	}

	v, err, _ := p.sf.Do(noteID, func() (any, error) {
		return p.summarizeNote(ctx, noteID, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SummaryArtifact), nil
}

func (p *Pipeline) summarizeNote(ctx context.Context, noteID, rawURL string) (*models.SummaryArtifact, error) {
	detail, err := p.fetchDetailRespectingPolicy(ctx, noteID)
	if err != nil {
		return nil, err
	}

	markdown, charCount, elapsedMS, err := p.summarizeDetail(ctx, detail)
	if err != nil {
		return nil, err
	}

	if err := p.dedupe.Add(ctx, models.SourceXiaohongshu, noteID); err != nil {
		return nil, err
	}

	return &models.SummaryArtifact{
		Source:          models.SourceXiaohongshu,
		SourceID:        noteID,
		SourceURL:       rawURL,
		Title:           detail.Title,
		SummaryMarkdown: markdown,
		CapturedMetadata: map[string]any{
			"elapsed_ms":       elapsedMS,
			"transcript_chars": charCount,
		},
	}, nil
}

func (p *Pipeline) fetchDetailRespectingPolicy(ctx context.Context, noteID string) (*NoteDetail, error) {
	if p.detailFetchMode == DetailFetchNever {
		return nil, apierr.New(apierr.InvalidInput, "detail_fetch_mode=never forbids fetching note detail")
	}
	return p.fetcher.FetchDetail(ctx, noteID)
}

// summarizeDetail routes through C4->C5->C6 when the note carries a
// video asset and policy allows it (spec §4.9's "video-note" branch,
// whose exact media-URL-reuse semantics are left as an open question —
// see DESIGN.md); otherwise it summarizes the text content directly.
func (p *Pipeline) summarizeDetail(ctx context.Context, detail *NoteDetail) (markdown string, charCount int, elapsedMS int64, err error) {
	start := time.Now()

	text := detail.Content
	if detail.VideoURL != "" && p.detailFetchMode != DetailFetchNever && p.media != nil && p.asr != nil {
		audio, fetchErr := p.media.FetchAudio(ctx, detail.VideoURL)
		if fetchErr == nil {
			defer audio.Cleanup()
			transcript, asrErr := p.asr.Transcribe(ctx, audio.AudioPath)
			if asrErr == nil {
				text = transcript.Text
			}
		}
	}

	markdown, err = p.summarizer.Summarize(ctx, text, llm.Hints{Format: "markdown", Source: "xiaohongshu"})
	if err != nil {
		return "", 0, 0, err
	}
	return markdown, len([]rune(text)), time.Since(start).Milliseconds(), nil
}
