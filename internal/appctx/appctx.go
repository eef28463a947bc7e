// Package appctx is Midas's composition root. It owns every stateful
// collaborator as a field on one struct, replacing the teacher's
// package-level singletons (config, auth capture, last-sync timestamp)
// with values constructed once in cmd/server and threaded explicitly
// into internal/httpapi, per spec §9's redesign note.
package appctx

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/midas/internal/asr"
	"github.com/thebtf/midas/internal/bilibili"
	"github.com/thebtf/midas/internal/config"
	"github.com/thebtf/midas/internal/jobs"
	"github.com/thebtf/midas/internal/llm"
	"github.com/thebtf/midas/internal/media"
	"github.com/thebtf/midas/internal/merge"
	"github.com/thebtf/midas/internal/store"
	"github.com/thebtf/midas/internal/xiaohongshu"
)

// Context bundles every component the HTTP layer dispatches to. A single
// Context is built at startup and survives config reloads. Most
// components copy their settings at construction and keep them until
// restart; the xiaohongshu sync handler reads the live config on each
// request, and a config-file reload refreshes the job manager's cooldown.
type Context struct {
	Version string

	Config *config.Handle
	Store  *store.Store

	Auth             *xiaohongshu.AuthStore
	XHSFetcher       *xiaohongshu.Fetcher
	XHSPipeline      *xiaohongshu.Pipeline
	BilibiliPipeline *bilibili.Pipeline
	Summarizer       *llm.Summarizer
	ASREngine        *asr.Engine
	MediaFetcher     *media.Fetcher
	Merge            *merge.Engine
	Jobs             *jobs.Manager

	StopConfigWatch func()
	RetentionStop   func()
}

// New wires every component from a freshly loaded config, grounded on
// the order the teacher's worker.NewService constructs its own
// dependency graph (config first, then stores, then pipelines, then the
// job manager and router-facing components last).
func New(ctx context.Context, version, configPath string) (*Context, error) {
	cfgHandle, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := cfgHandle.Get()

	st, err := store.NewStore(ctx, store.Config{
		DBPath:    cfg.Storage.DBPath,
		BackupDir: cfg.Storage.BackupDir,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	summarizer, err := llm.NewSummarizer(llm.Config{
		Enabled:        cfg.LLM.Enabled,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxPromptChars: cfg.LLM.MaxPromptChars,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build summarizer: %w", err)
	}

	asrEngine := asr.NewEngine(asr.Config{
		Mode:      cfg.ASR.Mode,
		ModelSize: cfg.ASR.ModelSize,
		Device:    cfg.ASR.Device,
		Language:  cfg.ASR.Language,
	})

	mediaFetcher := media.NewFetcher(cfg.Storage.ScratchDir, time.Duration(cfg.Xiaohongshu.RequestTimeoutSeconds)*time.Second)

	bilibiliPipeline := bilibili.NewPipeline(mediaFetcher, asrEngine, summarizer, cfg.Bilibili.MaxVideoMinutes)

	auth := xiaohongshu.NewAuthStore(cfg.Xiaohongshu.HARCapturePath, cfg.Xiaohongshu.CurlCapturePath)
	if cfg.Xiaohongshu.Auth.Cookie != "" {
		_ = auth.Update(cfg.Xiaohongshu.Auth.Cookie, cfg.Xiaohongshu.Auth.UserAgent, cfg.Xiaohongshu.Auth.Origin, cfg.Xiaohongshu.Auth.Referer, cfg.Xiaohongshu.Auth.ExtraHeaders)
	} else if _, err := auth.Refresh(); err != nil {
		// no seed cookie and no usable HAR/cURL capture yet; auth/update
		// must be called before any signed request will succeed.
		_ = err
	}

	xhsFetcher := xiaohongshu.NewFetcher(auth, xhsBaseURL(cfg), cfg.Xiaohongshu.HostAllowlist,
		time.Duration(cfg.Xiaohongshu.RequestTimeoutSeconds)*time.Second, xiaohongshu.NoopBrowserFallback{})

	xhsPipeline := xiaohongshu.NewPipeline(xhsFetcher, st, mediaFetcher, asrEngine, summarizer,
		xiaohongshu.DetailFetchMode(cfg.Xiaohongshu.WebReadonly.DetailFetchMode))

	jobManager := jobs.NewManager(jobs.DefaultCapacity)
	jobManager.SetCooldown(time.Duration(cfg.Xiaohongshu.MinLiveSyncIntervalSeconds) * time.Second)

	mergeEngine := merge.NewEngine(st, summarizer, 0.35)

	retention := store.NewRetentionScheduler(st, 24*time.Hour, 30*24*time.Hour)
	retention.Start(ctx)

	appCtx := &Context{
		Version:          version,
		Config:           cfgHandle,
		Store:            st,
		Auth:             auth,
		XHSFetcher:       xhsFetcher,
		XHSPipeline:      xhsPipeline,
		BilibiliPipeline: bilibiliPipeline,
		Summarizer:       summarizer,
		ASREngine:        asrEngine,
		MediaFetcher:     mediaFetcher,
		Merge:            mergeEngine,
		Jobs:             jobManager,
		RetentionStop:    retention.Stop,
	}

	stop, watchErr := cfgHandle.StartWatch(func(err error) {
		if err == nil {
			jobManager.SetCooldown(time.Duration(cfgHandle.Get().Xiaohongshu.MinLiveSyncIntervalSeconds) * time.Second)
		}
	})
	if watchErr == nil {
		appCtx.StopConfigWatch = stop
	} else {
		appCtx.StopConfigWatch = func() {}
	}

	return appCtx, nil
}

func xhsBaseURL(cfg *config.Config) string {
	if len(cfg.Xiaohongshu.HostAllowlist) == 0 {
		return "https://edith.xiaohongshu.com"
	}
	return "https://" + cfg.Xiaohongshu.HostAllowlist[0]
}

// Shutdown drains the job manager and releases every resource acquired
// by New, in reverse construction order.
func (c *Context) Shutdown() {
	if c.StopConfigWatch != nil {
		c.StopConfigWatch()
	}
	if c.RetentionStop != nil {
		c.RetentionStop()
	}
	c.Jobs.ShutdownAll()
	c.Store.Close()
}
