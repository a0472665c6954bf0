package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bobarin/reels/internal/logging"
	"github.com/rs/zerolog"
)

// Output rendering constants
const (
	videoFPS      = 30
	videoCRF      = "23"
	videoPreset   = "fast"
	audioBitrate  = "128k"
	audioRate     = 44100
	musicVolume   = 0.3
	stderrLogTail = 2000
)

// FormatResolution maps an aspect-ratio format to output pixel dimensions.
// Unknown formats render as 9:16.
func FormatResolution(format string) (width, height int) {
	switch format {
	case "16:9":
		return 1920, 1080
	case "1:1":
		return 1080, 1080
	default:
		return 1080, 1920
	}
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir    string
	ffmpegBin  string
	ffprobeBin string
	log        zerolog.Logger
}

func NewFFmpegService(tempDir string) (*FFmpegService, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpegService{
		tempDir:    tempDir,
		ffmpegBin:  "ffmpeg",
		ffprobeBin: "ffprobe",
		log:        logging.WithComponent("ffmpeg"),
	}, nil
}

// WithWorkDir creates a private working directory for one job, runs fn in it
// and removes the directory recursively on every exit path, panics included.
func (s *FFmpegService) WithWorkDir(ctx context.Context, jobID string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(s.tempDir, "job-"+jobID+"-")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("failed to remove work dir")
		}
	}()

	return fn(dir)
}

// runFFmpeg executes ffmpeg and returns its stderr, where filters such as
// silencedetect and ebur128 write their diagnostics.
func (s *FFmpegService) runFFmpeg(ctx context.Context, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegBin, append([]string{"-hide_banner", "-nostdin"}, args...)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), stderrLogTail))
	}
	return stderr.String(), nil
}

func (s *FFmpegService) runFFprobe(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffprobeBin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String(), stderrLogTail))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HasAudioStream reports whether the file carries at least one audio stream.
func (s *FFmpegService) HasAudioStream(ctx context.Context, path string) bool {
	out, err := s.runFFprobe(ctx,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	return err == nil && out != ""
}

// CreateTempFile returns a path inside dir for an intermediate file
func CreateTempFile(dir, filename string) string {
	return filepath.Join(dir, filename)
}

// tail keeps the last n bytes of s for log output
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
