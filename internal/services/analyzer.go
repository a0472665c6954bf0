package services

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bobarin/reels/internal/models"
)

const (
	// FallbackFPS is used when a clip's frame rate cannot be read.
	FallbackFPS = 30.0

	silenceNoiseDb = -30
	silenceMinSec  = 0.5
	bucketEpsilon  = 1e-9
	loudRMSDb      = -15.0
	quietRMSDb     = -25.0
)

// Analyzer extracts signal features from local clip files.
type Analyzer struct {
	ff *FFmpegService
}

func NewAnalyzer(ff *FFmpegService) *Analyzer {
	return &Analyzer{ff: ff}
}

// ProbeDuration returns the container duration in seconds. There is no
// fallback: a clip without a readable duration cannot be edited.
func (a *Analyzer) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := a.ff.runFFprobe(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	d, err := strconv.ParseFloat(out, 64)
	if err != nil || math.IsNaN(d) || d <= 0 {
		return 0, fmt.Errorf("failed to parse duration %q", out)
	}
	return d, nil
}

// ProbeFramerate returns the native frame rate of the first video stream,
// or FallbackFPS when it cannot be determined.
func (a *Analyzer) ProbeFramerate(ctx context.Context, path string) float64 {
	out, err := a.ff.runFFprobe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return FallbackFPS
	}
	return ParseFramerate(out)
}

// DetectSilence runs silencedetect and returns the silent intervals.
func (a *Analyzer) DetectSilence(ctx context.Context, path string) ([]models.SilenceInterval, error) {
	stderr, err := a.ff.runFFmpeg(ctx,
		"-i", path,
		"-af", fmt.Sprintf("silencedetect=noise=%ddB:d=%g", silenceNoiseDb, silenceMinSec),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, fmt.Errorf("detect silence: %w", err)
	}
	return ParseSilence(stderr), nil
}

// RMSProfile runs ebur128 and averages momentary loudness per window.
func (a *Analyzer) RMSProfile(ctx context.Context, path string, windowSec float64) ([]models.LoudnessWindow, error) {
	if windowSec <= 0 {
		return nil, fmt.Errorf("window must be positive, got %g", windowSec)
	}

	stderr, err := a.ff.runFFmpeg(ctx,
		"-i", path,
		"-af", "ebur128=peak=none",
		"-f", "null", "-",
	)
	if err != nil {
		return nil, fmt.Errorf("rms profile: %w", err)
	}
	return ParseLoudness(stderr, windowSec), nil
}

// SelectTransition maps boundary loudness to a transition. Each band
// includes its lower bound: -25 is slideleft and -15 is a hard cut.
func SelectTransition(rmsDb float64) models.TransitionSpec {
	switch {
	case rmsDb < quietRMSDb:
		return models.TransitionSpec{Style: models.TransitionDissolve, DurationSec: 0.8}
	case rmsDb < loudRMSDb:
		return models.TransitionSpec{Style: models.TransitionSlideLeft, DurationSec: 0.4}
	default:
		return models.TransitionSpec{Style: models.TransitionFade, DurationSec: 0.01}
	}
}

// ParseFramerate parses "num/den" or a plain number.
func ParseFramerate(s string) float64 {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}

	var fps float64
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return FallbackFPS
		}
		fps = n / d
	} else {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return FallbackFPS
		}
		fps = f
	}

	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return FallbackFPS
	}
	return fps
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?\d+(?:\.\d+)?)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?\d+(?:\.\d+)?)`)
	ebur128LineRe  = regexp.MustCompile(`\bt:\s*(\d+(?:\.\d+)?)\b.*\bM:\s*(-?\d+(?:\.\d+)?)`)
)

// ParseSilence pairs silence_start/silence_end markers in emission order.
// A start without a matching end is dropped.
func ParseSilence(stderr string) []models.SilenceInterval {
	intervals := []models.SilenceInterval{}

	var pending *float64
	sc := bufio.NewScanner(strings.NewReader(stderr))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			v = math.Max(v, 0)
			pending = &v
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil {
			if pending == nil {
				continue
			}
			end, err := strconv.ParseFloat(m[1], 64)
			if err == nil && end > *pending {
				intervals = append(intervals, models.SilenceInterval{StartSec: *pending, EndSec: end})
			}
			pending = nil
		}
	}

	return intervals
}

// ParseLoudness buckets ebur128 momentary loudness samples into windows of
// windowSec aligned to zero and averages each bucket.
func ParseLoudness(stderr string, windowSec float64) []models.LoudnessWindow {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := map[int64]*bucket{}

	sc := bufio.NewScanner(strings.NewReader(stderr))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		m := ebur128LineRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		t, err1 := strconv.ParseFloat(m[1], 64)
		db, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}

		idx := int64(math.Floor(t/windowSec + bucketEpsilon))
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{}
			buckets[idx] = b
		}
		b.sum += db
		b.count++
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	windows := make([]models.LoudnessWindow, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		windows = append(windows, models.LoudnessWindow{
			TimeSec: roundMicros(float64(k) * windowSec),
			RMSDb:   b.sum / float64(b.count),
		})
	}
	return windows
}

func roundMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
