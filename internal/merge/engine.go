package merge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/midas/internal/llm"
	"github.com/thebtf/midas/internal/store"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

// Engine orchestrates suggest/preview/commit/rollback/finalize against
// the Note Store's merge tables and the LLM Summarizer, per spec §4.11.
type Engine struct {
	store      *store.Store
	summarizer *llm.Summarizer
	minScore   float64
}

// NewEngine builds an Engine. minScore is the suggest() threshold below
// which a pair is never surfaced as a candidate.
func NewEngine(s *store.Store, summarizer *llm.Summarizer, minScore float64) *Engine {
	if minScore <= 0 {
		minScore = 0.35
	}
	return &Engine{store: s, summarizer: summarizer, minScore: minScore}
}

// Suggest lists notes for source and groups them into candidates.
func (e *Engine) Suggest(ctx context.Context, source models.Source) ([]models.MergeCandidate, error) {
	notes, _, err := e.store.List(ctx, source, store.NoteFilter{})
	if err != nil {
		return nil, err
	}
	return GroupCandidates(notes, e.minScore), nil
}

// Preview fetches note_ids and builds the non-destructive merge preview.
func (e *Engine) Preview(ctx context.Context, source models.Source, noteIDs []string) (*models.MergePreview, error) {
	notes, err := e.loadNotes(ctx, source, noteIDs)
	if err != nil {
		return nil, err
	}
	preview := Preview(ctx, e.summarizer, notes)
	return &preview, nil
}

// Commit inserts the merged note, keeps the originals, and records a
// MergeRecord. The merge-of-a-merge open question is decided as
// "reject with INVALID_INPUT" per DESIGN.md.
func (e *Engine) Commit(ctx context.Context, source models.Source, noteIDs []string, mergedTitle, mergedSummary string, fieldDecisions []models.FieldDecision) (mergeID, mergedNoteID string, err error) {
	if len(noteIDs) < 2 {
		return "", "", apierr.New(apierr.InvalidInput, "commit requires at least two source notes")
	}
	for _, id := range noteIDs {
		isMerge, checkErr := e.store.IsMergedNoteID(ctx, id)
		if checkErr != nil {
			return "", "", checkErr
		}
		if isMerge {
			return "", "", apierr.New(apierr.InvalidInput, "cannot merge a note that is itself the result of a non-finalized merge")
		}
	}

	merged, err := e.store.Save(ctx, models.SummaryArtifact{
		Source:          source,
		SourceID:        "merge:" + uuid.NewString(),
		Title:           mergedTitle,
		SummaryMarkdown: mergedSummary,
		CapturedMetadata: map[string]any{
			"merged_from": noteIDs,
		},
	})
	if err != nil {
		return "", "", err
	}

	rec := models.MergeRecord{
		MergeID:        uuid.NewString(),
		Source:         source,
		SourceNoteIDs:  noteIDs,
		MergedNoteID:   merged.NoteID,
		FieldDecisions: fieldDecisions,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.InsertMergeRecord(ctx, rec); err != nil {
		return "", "", err
	}
	return rec.MergeID, merged.NoteID, nil
}

// Rollback deletes merged_note_id and the merge record, restoring the
// pre-commit note set. Rejects if the merge is finalized or is no longer
// the most recent non-finalized merge for its source.
func (e *Engine) Rollback(ctx context.Context, mergeID string) error {
	rec, err := e.store.GetMergeRecord(ctx, mergeID)
	if err != nil {
		return err
	}
	if rec == nil {
		return apierr.New(apierr.InvalidInput, "merge record not found")
	}
	if rec.FinalizedAt != nil {
		return apierr.New(apierr.InvalidInput, "cannot roll back a finalized merge")
	}

	latest, err := e.store.LatestNonFinalizedMerge(ctx, rec.Source)
	if err != nil {
		return err
	}
	if latest == nil || latest.MergeID != mergeID {
		return apierr.New(apierr.InvalidInput, "only the most recent non-finalized merge for a source may be rolled back")
	}

	if _, err := e.store.Delete(ctx, rec.Source, rec.MergedNoteID); err != nil {
		return err
	}
	return e.store.DeleteMergeRecord(ctx, mergeID)
}

// Finalize deletes the original source notes and marks the merge
// finalized. Destructive and irreversible; callers must enforce the
// confirm_destructive gate before calling this (C12's responsibility).
func (e *Engine) Finalize(ctx context.Context, mergeID string) (deletedSourceCount int, err error) {
	rec, err := e.store.GetMergeRecord(ctx, mergeID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, apierr.New(apierr.InvalidInput, "merge record not found")
	}
	if rec.FinalizedAt != nil {
		return 0, apierr.New(apierr.InvalidInput, "merge already finalized")
	}

	for _, id := range rec.SourceNoteIDs {
		deleted, err := e.store.Delete(ctx, rec.Source, id)
		if err != nil {
			return deletedSourceCount, err
		}
		if deleted {
			deletedSourceCount++
		}
	}

	if err := e.store.FinalizeMerge(ctx, mergeID, time.Now().UTC()); err != nil {
		return deletedSourceCount, err
	}
	return deletedSourceCount, nil
}

func (e *Engine) loadNotes(ctx context.Context, source models.Source, noteIDs []string) ([]models.SavedNote, error) {
	if len(noteIDs) < 2 {
		return nil, apierr.New(apierr.InvalidInput, "preview requires at least two note ids")
	}
	notes := make([]models.SavedNote, 0, len(noteIDs))
	for _, id := range noteIDs {
		note, err := e.store.Get(ctx, source, id)
		if err != nil {
			return nil, err
		}
		if note == nil {
			return nil, apierr.Newf(apierr.InvalidInput, "note %q not found", id)
		}
		notes = append(notes, *note)
	}
	return notes, nil
}
