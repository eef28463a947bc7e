// Package media implements the Audio Fetcher (C4): downloading a
// video's audio track to a scratch path via an external tool, the same
// exec.CommandContext invocation idiom as the teacher's
// internal/worker/sdk/processor.go callClaudeCLI.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/thebtf/midas/pkg/apierr"
)

// Fetcher downloads audio from a video URL using an external downloader
// binary (yt-dlp by default).
type Fetcher struct {
	binaryPath string
	scratchDir string
	timeout    time.Duration
}

// NewFetcher resolves the downloader binary once, lazily, the way
// sdk.Processor resolves its claude CLI path and keeps it resident.
func NewFetcher(scratchDir string, timeout time.Duration) *Fetcher {
	return &Fetcher{scratchDir: scratchDir, timeout: timeout}
}

func (f *Fetcher) resolveBinary() (string, error) {
	if f.binaryPath != "" {
		return f.binaryPath, nil
	}
	path, err := exec.LookPath("yt-dlp")
	if err != nil {
		return "", apierr.Wrap(apierr.DependencyMissing, err, "yt-dlp not found on PATH")
	}
	f.binaryPath = path
	return path, nil
}

// Result is the outcome of a successful audio fetch.
type Result struct {
	AudioPath       string
	DurationSeconds float64
	Cleanup         func()
}

var bvRe = regexp.MustCompile(`(?i)BV[0-9A-Za-z]{10}`)

// NormalizeBilibiliURL extracts and validates a BV id from either a raw
// id or a full URL, returning the canonical watch URL.
func NormalizeBilibiliURL(input string) (bvID, url string, err error) {
	match := bvRe.FindString(input)
	if match == "" {
		return "", "", apierr.New(apierr.InvalidInput, "no BV id found in input")
	}
	return match, fmt.Sprintf("https://www.bilibili.com/video/%s", match), nil
}

// FetchAudio downloads videoURL's audio track into a fresh scratch
// directory (under the configured scratch dir, or os.TempDir() when none
// is set) and reports the observed duration. The caller must invoke
// Result.Cleanup once done with the file; Cleanup removes the scratch
// directory and is safe to call more than once. On success nothing else
// removes that directory.
func (f *Fetcher) FetchAudio(ctx context.Context, videoURL string) (*Result, error) {
	binary, err := f.resolveBinary()
	if err != nil {
		return nil, err
	}

	base := f.scratchDir
	if base == "" {
		base = os.TempDir()
	}
	scratch, err := os.MkdirTemp(base, "midas-scratch-*")
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "create scratch dir")
	}
	cleanup := func() { os.RemoveAll(scratch) }

	outTemplate := filepath.Join(scratch, "audio.%(ext)s")

	runCtx := ctx
	var cancel context.CancelFunc
	if f.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, // #nosec G204 -- binary resolved via PATH lookup, url validated by caller
		"-x", "--audio-format", "mp3",
		"--print", "duration", "--no-simulate",
		"-o", outTemplate,
		videoURL)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cleanup()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, apierr.New(apierr.UpstreamError, "audio fetch timed out")
		}
		return nil, apierr.Newf(apierr.UpstreamError, "yt-dlp failed: %v: %s", err, stderr.String())
	}

	audioPath, findErr := findAudioFile(scratch)
	if findErr != nil {
		cleanup()
		return nil, apierr.Wrap(apierr.UpstreamError, findErr, "locate downloaded audio")
	}

	duration := parseDuration(stdout.String())

	return &Result{AudioPath: audioPath, DurationSeconds: duration, Cleanup: cleanup}, nil
}

func findAudioFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no output file produced in %s", dir)
}

func parseDuration(stdout string) float64 {
	var seconds float64
	_, _ = fmt.Sscanf(stdout, "%f", &seconds)
	return seconds
}
