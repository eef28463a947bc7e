package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/midas/internal/xiaohongshu"
	"github.com/thebtf/midas/pkg/apierr"
	"github.com/thebtf/midas/pkg/models"
)

type summarizeURLRequest struct {
	NoteURL string `json:"note_url"`
}

func (s *Service) handleXHSSummarizeURL(w http.ResponseWriter, r *http.Request) {
	var req summarizeURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.NoteURL == "" {
		writeError(w, r, apierr.New(apierr.InvalidInput, "note_url is required"))
		return
	}
	artifact, err := s.app.XHSPipeline.SummarizeURL(r.Context(), req.NoteURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, artifact)
}

type submitSyncRequest struct {
	Limit int `json:"limit"`
}

func (s *Service) handleXHSSubmitSync(w http.ResponseWriter, r *http.Request) {
	var req submitSyncRequest
	_ = decodeJSON(r, &req)

	cfg := s.app.Config.Get()
	limit := req.Limit
	if limit <= 0 {
		limit = cfg.Xiaohongshu.DefaultLimit
	}
	if cfg.Xiaohongshu.MaxLimit > 0 && limit > cfg.Xiaohongshu.MaxLimit {
		limit = cfg.Xiaohongshu.MaxLimit
	}

	syncCfg := xiaohongshu.SyncConfig{
		CollectionID:           cfg.Xiaohongshu.CollectionID,
		RequestedLimit:         limit,
		RandomDelayMin:         time.Duration(cfg.Xiaohongshu.RandomDelayMinSeconds) * time.Second,
		RandomDelayMax:         time.Duration(cfg.Xiaohongshu.RandomDelayMaxSeconds) * time.Second,
		CircuitBreakerFailures: cfg.Xiaohongshu.CircuitBreakerFailures,
	}
	driver := s.app.XHSPipeline.NewCollectionSyncDriver(syncCfg)

	jobID, err := s.app.Jobs.Submit(r.Context(), models.JobKindXHSCollectionSync, limit, driver)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"job_id": jobID, "status": "pending", "requested_limit": limit})
}

func (s *Service) handleXHSGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job := s.app.Jobs.Get(jobID)
	if job == nil {
		writeError(w, r, apierr.Newf(apierr.InvalidInput, "job %q not found", jobID))
		return
	}
	writeOK(w, r, job)
}

func (s *Service) handleXHSCooldown(w http.ResponseWriter, r *http.Request) {
	status := s.app.Jobs.Cooldown()
	writeOK(w, r, map[string]any{
		"allowed":               status.Allowed,
		"remaining_seconds":     status.RemainingSeconds,
		"next_allowed_at_epoch": status.NextAllowedAt,
	})
}

type authUpdateRequest struct {
	Cookie       string            `json:"cookie"`
	UserAgent    string            `json:"user_agent"`
	Origin       string            `json:"origin"`
	Referer      string            `json:"referer"`
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (s *Service) handleXHSAuthUpdate(w http.ResponseWriter, r *http.Request) {
	var req authUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.app.Auth.Update(req.Cookie, req.UserAgent, req.Origin, req.Referer, req.ExtraHeaders); err != nil {
		writeError(w, r, err)
		return
	}
	cookiePairs := 0
	for _, part := range strings.Split(req.Cookie, ";") {
		if strings.Contains(part, "=") {
			cookiePairs++
		}
	}
	writeOK(w, r, map[string]any{"cookie_pairs": cookiePairs})
}

func (s *Service) handleXHSCaptureRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.Auth.Refresh()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, result)
}

func (s *Service) handleXHSPruneSynced(w http.ResponseWriter, r *http.Request) {
	candidateCount, deletedCount, err := s.app.Store.PruneUnsaved(r.Context(), models.SourceXiaohongshu)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"candidate_count": candidateCount, "deleted_count": deletedCount})
}
