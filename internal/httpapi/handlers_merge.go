package httpapi

import (
	"net/http"

	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

type suggestRequest struct {
	Source models.Source `json:"source"`
}

func (s *Service) handleMergeSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	candidates, err := s.app.Merge.Suggest(r.Context(), req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"candidates": candidates})
}

type previewRequest struct {
	Source  models.Source `json:"source"`
	NoteIDs []string      `json:"note_ids"`
}

func (s *Service) handleMergePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	preview, err := s.app.Merge.Preview(r.Context(), req.Source, req.NoteIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, preview)
}

type commitRequest struct {
	Source                models.Source          `json:"source"`
	NoteIDs               []string               `json:"note_ids"`
	MergedTitle           string                 `json:"merged_title"`
	MergedSummaryMarkdown string                 `json:"merged_summary_markdown"`
	FieldDecisions        []models.FieldDecision `json:"field_decisions"`
}

func (s *Service) handleMergeCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mergeID, mergedNoteID, err := s.app.Merge.Commit(r.Context(), req.Source, req.NoteIDs, req.MergedTitle, req.MergedSummaryMarkdown, req.FieldDecisions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"merge_id": mergeID, "merged_note_id": mergedNoteID})
}

type mergeIDRequest struct {
	MergeID string `json:"merge_id"`
}

func (s *Service) handleMergeRollback(w http.ResponseWriter, r *http.Request) {
	var req mergeIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Merge.Rollback(r.Context(), req.MergeID); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"ok": true})
}

type finalizeRequest struct {
	MergeID            string `json:"merge_id"`
	ConfirmDestructive bool   `json:"confirm_destructive"`
}

func (s *Service) handleMergeFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.ConfirmDestructive {
		writeError(w, r, apierr.New(apierr.InvalidInput, "finalize requires confirm_destructive=true"))
		return
	}
	deletedCount, err := s.app.Merge.Finalize(r.Context(), req.MergeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"deleted_source_count": deletedCount})
}
