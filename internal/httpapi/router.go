// Package httpapi adapts the external HTTP framing to the component
// contracts in internal/appctx (C12): route registration, middleware
// chaining, and graceful start/stop, generalized from the teacher's
// worker.Service into Midas's endpoint surface.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/thebtf/midas/internal/appctx"
	"github.com/thebtf/midas/internal/httpapi/docs"
	"github.com/thebtf/midas/internal/httpapi/sse"
	"github.com/thebtf/midas/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultHTTPTimeout bounds every request routed through the ready-gated
// route group; it excludes the SSE stream, which must stay open
// indefinitely.
const DefaultHTTPTimeout = 60 * time.Second

// Service is Midas's HTTP surface: one router bound to one appctx.Context.
type Service struct {
	app         *appctx.Context
	router      *chi.Mux
	broadcaster *sse.Broadcaster
	rateLimiter *PerClientRateLimiter
	metrics     *requestMetrics
	server      *http.Server
	version     string
	startTime   time.Time
	ready       atomic.Bool
}

// NewService builds the router and wires every handler to app. Routes
// respond immediately; readiness is reported separately via /api/ready
// so a reverse proxy or health check can distinguish "process is up"
// from "dependencies are usable."
func NewService(app *appctx.Context, version string) *Service {
	s := &Service{
		app:         app,
		router:      chi.NewRouter(),
		broadcaster: sse.NewBroadcaster(),
		rateLimiter: NewPerClientRateLimiter(20.0, 40),
		metrics:     newRequestMetrics(),
		version:     version,
		startTime:   time.Now(),
	}
	s.ready.Store(true)
	app.Jobs.SetBroadcaster(s.broadcaster)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(metricsMiddleware(s.metrics))
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(10 * 1024 * 1024))
	s.router.Use(RequireJSONContentType)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.rateLimiter != nil {
		s.router.Use(PerClientRateLimitMiddleware(s.rateLimiter))
	}
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/events", s.broadcaster.HandleSSE)
	s.router.Get("/docs/swagger.json", s.handleSwaggerJSON)
	s.router.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/swagger.json")))

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))

		r.Post("/api/bilibili/summarize", s.handleBilibiliSummarize)
		r.Post("/api/notes/bilibili/save", s.handleSaveNote(models.SourceBilibili))
		r.Get("/api/notes/bilibili", s.handleListNotes(models.SourceBilibili))
		r.Delete("/api/notes/bilibili/{id}", s.handleDeleteNote(models.SourceBilibili))
		r.Delete("/api/notes/bilibili", s.handleClearNotes(models.SourceBilibili))

		r.Post("/api/xiaohongshu/summarize-url", s.handleXHSSummarizeURL)
		r.Post("/api/xiaohongshu/sync/jobs", s.handleXHSSubmitSync)
		r.Get("/api/xiaohongshu/sync/jobs/{id}", s.handleXHSGetJob)
		r.Get("/api/xiaohongshu/sync/cooldown", s.handleXHSCooldown)
		r.Post("/api/xiaohongshu/auth/update", s.handleXHSAuthUpdate)
		r.Post("/api/xiaohongshu/capture/refresh", s.handleXHSCaptureRefresh)
		r.Post("/api/notes/xiaohongshu/synced/prune", s.handleXHSPruneSynced)

		r.Get("/api/config/editable", s.handleConfigEditableGet)
		r.Put("/api/config/editable", s.handleConfigEditablePatch)
		r.Post("/api/config/editable/reset", s.handleConfigReset)

		r.Post("/api/notes/merge/suggest", s.handleMergeSuggest)
		r.Post("/api/notes/merge/preview", s.handleMergePreview)
		r.Post("/api/notes/merge/commit", s.handleMergeCommit)
		r.Post("/api/notes/merge/rollback", s.handleMergeRollback)
		r.Post("/api/notes/merge/finalize", s.handleMergeFinalize)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"uptime_sec": int(time.Since(s.startTime).Seconds()),
	})
}

// handleReady reports whether dependent components (store, job manager)
// are usable. Midas has no async-initialization phase the way the
// teacher's embedding/vector stack does, so readiness tracks only
// whether Shutdown has begun.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeOK(w, r, map[string]any{"ready": true})
}

func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleSwaggerJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(docs.SwaggerJSON)
}

// Start launches the HTTP server in the background and returns immediately.
func (s *Service) Start() error {
	port := s.app.Config.Get().Runtime.HTTPPort
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // 0: SSE connections stay open indefinitely
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().Int("port", port).Msg("midas http server started")
	return nil
}

// Shutdown stops accepting new requests, drains in-flight work through
// app, and closes the underlying listener.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.app.Shutdown()
	return err
}
