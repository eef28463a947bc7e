// Package config provides Midas's hot-swappable runtime settings: a YAML
// tree loaded from disk, resolved to absolute paths anchored at the config
// file's own directory, exposed through an atomically-swapped pointer so
// readers never observe a half-applied patch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Default on-disk settings, mirrored into a freshly created config file
// when none exists at startup.
const (
	DefaultDBFileName     = "midas.db"
	DefaultBackupDirName  = "backups"
	DefaultScratchDirName = "scratch"
	DefaultHTTPPort       = 8088
)

// LLMConfig configures the C6 summarizer's upstream endpoint and budget.
type LLMConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key" sensitive:"true"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPromptChars int    `yaml:"max_prompt_chars"`
}

// ASRConfig configures the C5 transcription engine.
type ASRConfig struct {
	Mode      string `yaml:"mode"`
	ModelSize string `yaml:"model_size"`
	Device    string `yaml:"device"`
	Language  string `yaml:"language"`
}

// BilibiliConfig configures the C7 pipeline's guards.
type BilibiliConfig struct {
	MaxVideoMinutes int `yaml:"max_video_minutes"`
}

// XHSWebReadonlyConfig configures note-detail fetch policy for the web_readonly mode.
type XHSWebReadonlyConfig struct {
	DetailFetchMode   string `yaml:"detail_fetch_mode"`
	MaxImagesPerNote  int    `yaml:"max_images_per_note"`
}

// XiaohongshuConfig configures C8/C9.
type XiaohongshuConfig struct {
	Mode                        string               `yaml:"mode"`
	CollectionID                string               `yaml:"collection_id"`
	DefaultLimit                int                  `yaml:"default_limit"`
	MaxLimit                    int                  `yaml:"max_limit"`
	RandomDelayMinSeconds       int                  `yaml:"random_delay_min_seconds"`
	RandomDelayMaxSeconds       int                  `yaml:"random_delay_max_seconds"`
	MinLiveSyncIntervalSeconds  int                  `yaml:"min_live_sync_interval_seconds"`
	RequestTimeoutSeconds       int                  `yaml:"request_timeout_seconds"`
	CircuitBreakerFailures      int                  `yaml:"circuit_breaker_failures"`
	WebReadonly                 XHSWebReadonlyConfig `yaml:"web_readonly"`
	HARCapturePath              string               `yaml:"har_capture_path"`
	CurlCapturePath             string               `yaml:"curl_capture_path"`
	HostAllowlist               []string             `yaml:"host_allowlist"`
	Auth                        XHSAuthConfig        `yaml:"auth"`
}

// XHSAuthConfig is the on-disk seed for the in-memory AuthCapture. Cookie
// and ExtraHeaders are sensitive and excluded from editable_snapshot; the
// other fields are editable.
type XHSAuthConfig struct {
	Cookie       string            `yaml:"cookie" sensitive:"true"`
	UserAgent    string            `yaml:"user_agent"`
	Origin       string            `yaml:"origin"`
	Referer      string            `yaml:"referer"`
	ExtraHeaders map[string]string `yaml:"extra_headers" sensitive:"true"`
}

// RuntimeConfig configures ambient behavior not owned by any one component.
type RuntimeConfig struct {
	LogLevel string `yaml:"log_level"`
	HTTPPort int    `yaml:"http_port"`
}

// StorageConfig configures on-disk paths; every field is resolved to an
// absolute path anchored at the config file's directory on load.
type StorageConfig struct {
	DBPath    string `yaml:"db_path"`
	BackupDir string `yaml:"backup_dir"`
	ScratchDir string `yaml:"scratch_dir"`
}

// Config is the full settings tree. A Handle swaps whole trees
// atomically, so a reader of Handle.Get never sees a half-applied patch;
// components that copied values out of a tree at construction keep those
// values after a reload.
type Config struct {
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Storage     StorageConfig     `yaml:"storage"`
	LLM         LLMConfig         `yaml:"llm"`
	ASR         ASRConfig         `yaml:"asr"`
	Bilibili    BilibiliConfig    `yaml:"bilibili"`
	Xiaohongshu XiaohongshuConfig `yaml:"xiaohongshu"`
}

// Default returns the configuration used to seed a fresh install.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{LogLevel: "info", HTTPPort: DefaultHTTPPort},
		Storage: StorageConfig{
			DBPath:     DefaultDBFileName,
			BackupDir:  DefaultBackupDirName,
			ScratchDir: DefaultScratchDirName,
		},
		LLM: LLMConfig{
			Enabled:        true,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
			MaxPromptChars: 24000,
		},
		ASR: ASRConfig{Mode: "whisper-cli", ModelSize: "base", Device: "cpu", Language: "auto"},
		Bilibili: BilibiliConfig{MaxVideoMinutes: 240},
		Xiaohongshu: XiaohongshuConfig{
			Mode:                       "web_readonly",
			DefaultLimit:               20,
			MaxLimit:                   200,
			RandomDelayMinSeconds:      2,
			RandomDelayMaxSeconds:      8,
			MinLiveSyncIntervalSeconds: 1800,
			RequestTimeoutSeconds:      20,
			CircuitBreakerFailures:     3,
			WebReadonly: XHSWebReadonlyConfig{
				DetailFetchMode:  "auto",
				MaxImagesPerNote: 9,
			},
			HostAllowlist: []string{"edith.xiaohongshu.com", "www.xiaohongshu.com"},
		},
	}
}

// Handle is the hot-swappable root object every component reads through.
// It generalizes the teacher's package-level configOnce/configMu singleton
// into a value any number of independent Handles can own in tests, with
// the live tree behind a lock-free atomic pointer swap.
type Handle struct {
	path    string
	current atomic.Pointer[Config]
	watcher *watcher
}

// Load reads path, resolves on-disk fields to absolute paths anchored at
// path's own directory (never the process cwd, per the "no ambient cwd"
// redesign), and returns a Handle holding the result. If path does not
// exist, Default() is written there first.
func Load(path string) (*Handle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := loadOrSeed(absPath)
	if err != nil {
		return nil, err
	}
	resolvePaths(cfg, filepath.Dir(absPath))

	h := &Handle{path: absPath}
	h.current.Store(cfg)
	return h, nil
}

func loadOrSeed(absPath string) (*Config, error) {
	raw, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		cfg := Default()
		if writeErr := writeYAML(absPath, cfg); writeErr != nil {
			return nil, fmt.Errorf("seed default config: %w", writeErr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}
	return cfg, nil
}

func writeYAML(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func resolvePaths(cfg *Config, anchor string) {
	cfg.Storage.DBPath = absolutize(anchor, cfg.Storage.DBPath)
	cfg.Storage.BackupDir = absolutize(anchor, cfg.Storage.BackupDir)
	cfg.Storage.ScratchDir = absolutize(anchor, cfg.Storage.ScratchDir)
	if cfg.Xiaohongshu.HARCapturePath != "" {
		cfg.Xiaohongshu.HARCapturePath = absolutize(anchor, cfg.Xiaohongshu.HARCapturePath)
	}
	if cfg.Xiaohongshu.CurlCapturePath != "" {
		cfg.Xiaohongshu.CurlCapturePath = absolutize(anchor, cfg.Xiaohongshu.CurlCapturePath)
	}
}

func absolutize(anchor, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(anchor, p)
}

// Get returns the currently active configuration tree. The returned
// pointer is immutable; callers must never mutate it in place.
func (h *Handle) Get() *Config {
	return h.current.Load()
}

// Reload re-reads the config file from disk and swaps it in atomically.
// Called from the fsnotify watch started by StartWatch; ApplyPatch and
// ResetToDefaults swap in their own trees without calling it.
func (h *Handle) Reload() error {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("reload config %s: %w", h.path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse reloaded config %s: %w", h.path, err)
	}
	resolvePaths(cfg, filepath.Dir(h.path))
	h.current.Store(cfg)
	return nil
}

// ResetToDefaults writes and swaps in Default(), preserving on-disk path
// anchoring at the handle's own config file directory.
func (h *Handle) ResetToDefaults() error {
	cfg := Default()
	resolvePaths(cfg, filepath.Dir(h.path))
	if err := writeYAML(h.path, cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

// Path returns the absolute path of the backing config file.
func (h *Handle) Path() string { return h.path }

// StartWatch begins an fsnotify watch on the config file, calling Reload
// on every write event. Callers must call the returned stop function on
// shutdown. Watch errors are non-fatal; they are returned to the caller
// to log and otherwise ignored (config reload remains available via the
// explicit apply endpoint even if the watch fails to start).
func (h *Handle) StartWatch(onReload func(err error)) (stop func(), err error) {
	w, err := newWatcher(h.path, func() {
		onReload(h.Reload())
	})
	if err != nil {
		return func() {}, err
	}
	h.watcher = w
	return w.Close, nil
}
