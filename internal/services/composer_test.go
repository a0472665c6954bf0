package services

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/bobarin/reels/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResolution(t *testing.T) {
	tests := []struct {
		format string
		w, h   int
	}{
		{"9:16", 1080, 1920},
		{"16:9", 1920, 1080},
		{"1:1", 1080, 1080},
		{"4:3", 1080, 1920},
		{"", 1080, 1920},
	}
	for _, tt := range tests {
		w, h := FormatResolution(tt.format)
		assert.Equal(t, tt.w, w, tt.format)
		assert.Equal(t, tt.h, h, tt.format)
	}
}

func TestNormalizeSegmentArgs(t *testing.T) {
	entry := models.TimelineEntry{
		Segment:    models.NarrativeSegment{ClipIndex: 0, StartSec: 1.5, EndSec: 4},
		SourcePath: "/work/clip_0.mp4",
	}

	args := strings.Join(normalizeSegmentArgs(entry, "/work/segment_0.mp4", 1080, 1920, true), " ")
	assert.Contains(t, args, "-ss 1.500")
	assert.Contains(t, args, "-t 2.500")
	assert.Contains(t, args, "-i /work/clip_0.mp4")
	assert.Contains(t, args, "scale=1080:1920:force_original_aspect_ratio=decrease")
	assert.Contains(t, args, "pad=1080:1920:(ow-iw)/2:(oh-ih)/2:black")
	assert.Contains(t, args, "-c:v libx264")
	assert.Contains(t, args, "-crf 23")
	assert.Contains(t, args, "-ar 44100")
	assert.NotContains(t, args, "anullsrc")
	assert.Contains(t, args, "/work/segment_0.mp4")
	assert.Contains(t, args, "-y")

	silent := strings.Join(normalizeSegmentArgs(entry, "/work/segment_0.mp4", 1080, 1920, false), " ")
	assert.Contains(t, silent, "-f lavfi")
	assert.Contains(t, silent, "anullsrc=channel_layout=stereo:sample_rate=44100")
}

func TestJoinSegmentsArgs(t *testing.T) {
	entries := []models.TimelineEntry{
		{Transition: &models.TransitionSpec{Style: models.TransitionDissolve, DurationSec: 0.8}},
		{Transition: &models.TransitionSpec{Style: models.TransitionSlideLeft, DurationSec: 0.4}},
		{},
	}
	args := strings.Join(joinSegmentsArgs([]string{"a.mp4", "b.mp4", "c.mp4"}, []float64{4, 3, 5}, entries, "concat.mp4"), " ")

	assert.Contains(t, args, "xfade=")
	assert.Contains(t, args, "transition=dissolve")
	assert.Contains(t, args, "offset=3.200")
	assert.Contains(t, args, "transition=slideleft")
	// 3.2 + 3 - 0.4
	assert.Contains(t, args, "offset=5.800")
	assert.Contains(t, args, "acrossfade=d=0.800")
	assert.Contains(t, args, "acrossfade=d=0.400")
	assert.Equal(t, 3, strings.Count(args, "-i "))
}

func TestJoinSegmentsClampsLongTransitions(t *testing.T) {
	entries := []models.TimelineEntry{
		{Transition: &models.TransitionSpec{Style: models.TransitionDissolve, DurationSec: 0.8}},
		{},
	}
	args := strings.Join(joinSegmentsArgs([]string{"a.mp4", "b.mp4"}, []float64{1, 1}, entries, "concat.mp4"), " ")
	assert.Contains(t, args, "duration=0.500")
	assert.Contains(t, args, "offset=0.500")
}

func TestMixMusicArgs(t *testing.T) {
	args := strings.Join(mixMusicArgs("trimmed.mp4", "music.mp3", "output.mp4"), " ")

	assert.Contains(t, args, "-stream_loop -1 -i music.mp3")
	assert.Contains(t, args, "volume=0.3")
	assert.Contains(t, args, "amix=")
	assert.Contains(t, args, "duration=first")
	assert.Contains(t, args, "-c:v copy")
}

func TestComposerRendersGeneratedClips(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	ff, err := NewFFmpegService(dir)
	require.NoError(t, err)
	ctx := context.Background()

	withAudio := CreateTempFile(dir, "a.mp4")
	_, err = ff.runFFmpeg(ctx,
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=3",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=3",
		"-shortest", "-y", withAudio,
	)
	if err != nil {
		t.Skipf("could not generate fixture: %v", err)
	}
	noAudio := CreateTempFile(dir, "b.mp4")
	_, err = ff.runFFmpeg(ctx, "-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=3", "-y", noAudio)
	require.NoError(t, err)

	analyzer := NewAnalyzer(ff)
	composer := NewComposer(ff, analyzer)

	tl := models.Timeline{
		Entries: []models.TimelineEntry{
			{
				Segment:    models.NarrativeSegment{ClipIndex: 0, StartSec: 0, EndSec: 2},
				SourcePath: withAudio,
				Transition: &models.TransitionSpec{Style: models.TransitionDissolve, DurationSec: 0.8},
			},
			{
				Segment:    models.NarrativeSegment{ClipIndex: 1, StartSec: 0.5, EndSec: 2.5},
				SourcePath: noAudio,
			},
		},
		Format:      "1:1",
		DurationSec: 3,
	}

	out, err := composer.Render(ctx, tl, dir)
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	d, err := analyzer.ProbeDuration(ctx, out)
	require.NoError(t, err)
	assert.LessOrEqual(t, d, 3.3)
}
