package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/midas/internal/store"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

type summarizeBilibiliRequest struct {
	VideoURL string `json:"video_url"`
}

func (s *Service) handleBilibiliSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeBilibiliRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.VideoURL == "" {
		writeError(w, r, apierr.New(apierr.InvalidInput, "video_url is required"))
		return
	}

	artifact, err := s.app.BilibiliPipeline.Summarize(r.Context(), req.VideoURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, artifact)
}

type saveNoteRequest struct {
	models.SummaryArtifact
}

func (s *Service) handleSaveNote(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveNoteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.Source = source
		note, err := s.app.Store.Save(r.Context(), req.SummaryArtifact)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, note)
	}
}

func (s *Service) handleListNotes(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := noteFilterFromQuery(r)
		notes, total, err := s.app.Store.List(r.Context(), source, filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, map[string]any{"total": total, "items": notes})
	}
}

func (s *Service) handleDeleteNote(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noteID := chi.URLParam(r, "id")
		deleted, err := s.app.Store.Delete(r.Context(), source, noteID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		deletedCount := 0
		if deleted {
			deletedCount = 1
		}
		writeOK(w, r, map[string]any{"deleted_count": deletedCount})
	}
}

func (s *Service) handleClearNotes(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm_destructive") != "true" {
			writeError(w, r, apierr.New(apierr.InvalidInput, "clear requires confirm_destructive=true"))
			return
		}
		count, err := s.app.Store.Clear(r.Context(), source)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, map[string]any{"deleted_count": count})
	}
}

func noteFilterFromQuery(r *http.Request) store.NoteFilter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return store.NoteFilter{
		TitleContains: q.Get("title_contains"),
		Limit:         limit,
		Offset:        offset,
	}
}
