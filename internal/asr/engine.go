// Package asr implements the ASR Engine (C5): producing a transcript
// from an audio file via a Whisper-family CLI, invoked the same
// exec.CommandContext way as internal/media's downloader and the
// teacher's sdk.Processor.callClaudeCLI.
package asr

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"github.com/thebtf/midas/pkg/apierr"
)

// Config selects the Whisper-family model/runtime to invoke.
type Config struct {
	Mode      string // binary name family, e.g. "whisper-cli", "faster-whisper"
	ModelSize string
	Device    string
	Language  string
}

// Transcript is the output of one transcribe call.
type Transcript struct {
	Text             string
	LanguageDetected string
	CharCount        int
}

// Engine lazily resolves and caches the configured CLI's path on first
// use, mirroring sdk.Processor's lazy claudePath residency.
type Engine struct {
	cfg Config

	mu         sync.Mutex
	binaryPath string
}

// NewEngine builds an Engine for cfg; the binary is not looked up until
// the first Transcribe call.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) resolveBinary() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.binaryPath != "" {
		return e.binaryPath, nil
	}
	name := e.cfg.Mode
	if name == "" {
		name = "whisper-cli"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", apierr.Newf(apierr.DependencyMissing, "%s not found on PATH", name)
	}
	e.binaryPath = path
	return path, nil
}

// Transcribe runs the configured model against audioPath. The caller
// supplies the outer deadline via ctx; the model itself may block up to
// that deadline.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	binary, err := e.resolveBinary()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--model", modelOrDefault(e.cfg.ModelSize),
		"--output-format", "txt",
		audioPath,
	}
	if e.cfg.Device != "" {
		args = append(args, "--device", e.cfg.Device)
	}
	language := e.cfg.Language
	if language == "" {
		language = "auto"
	}
	if language != "auto" {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, binary, args...) // #nosec G204 -- binary resolved via PATH lookup, path is a local scratch file
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apierr.New(apierr.UpstreamError, "transcription timed out")
		}
		return nil, apierr.Newf(apierr.UpstreamError, "asr inference failed: %v: %s", err, stderr.String())
	}

	text := strings.TrimSpace(stdout.String())
	detected := language
	if detected == "auto" {
		detected = "unknown"
	}

	return &Transcript{
		Text:             text,
		LanguageDetected: detected,
		CharCount:        len([]rune(text)),
	}, nil
}

func modelOrDefault(size string) string {
	if size == "" {
		return "base"
	}
	return size
}
