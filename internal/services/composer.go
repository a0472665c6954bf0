package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bobarin/reels/internal/models"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Transitions never take more than this share of the shorter neighbour.
const maxTransitionShare = 0.5

// Composer renders a timeline into one mp4 with ffmpeg.
type Composer struct {
	ff       *FFmpegService
	analyzer *Analyzer
	log      zerolog.Logger
}

func NewComposer(ff *FFmpegService, analyzer *Analyzer) *Composer {
	return &Composer{ff: ff, analyzer: analyzer, log: ff.log}
}

// Render normalizes each segment, joins them with the per-boundary
// transitions, trims to the target duration and lays the music bed under
// the result. It returns the path of the output file inside dir.
func (c *Composer) Render(ctx context.Context, tl models.Timeline, dir string) (string, error) {
	if len(tl.Entries) == 0 {
		return "", fmt.Errorf("timeline has no entries")
	}
	width, height := FormatResolution(tl.Format)

	segPaths := make([]string, len(tl.Entries))
	segDurations := make([]float64, len(tl.Entries))
	for i, entry := range tl.Entries {
		out := CreateTempFile(dir, fmt.Sprintf("segment_%d.mp4", i))
		hasAudio := c.ff.HasAudioStream(ctx, entry.SourcePath)

		args := normalizeSegmentArgs(entry, out, width, height, hasAudio)
		if _, err := c.ff.runFFmpeg(ctx, args...); err != nil {
			return "", fmt.Errorf("normalize segment %d: %w", i, err)
		}

		// The encoded length can differ from end-start by a frame or two.
		d, err := c.analyzer.ProbeDuration(ctx, out)
		if err != nil {
			return "", fmt.Errorf("probe segment %d: %w", i, err)
		}
		segPaths[i] = out
		segDurations[i] = d
	}

	joined := CreateTempFile(dir, "concat.mp4")
	if len(segPaths) == 1 {
		if err := copyFile(segPaths[0], joined); err != nil {
			return "", fmt.Errorf("copy single segment: %w", err)
		}
	} else {
		args := joinSegmentsArgs(segPaths, segDurations, tl.Entries, joined)
		if _, err := c.ff.runFFmpeg(ctx, args...); err != nil {
			return "", fmt.Errorf("join segments: %w", err)
		}
	}

	trimmed := CreateTempFile(dir, "trimmed.mp4")
	trim := ffmpeg.Input(joined).
		Output(trimmed, ffmpeg.KwArgs{"t": formatSec(tl.DurationSec), "c": "copy"}).
		OverWriteOutput()
	if _, err := c.ff.runFFmpeg(ctx, trim.GetArgs()...); err != nil {
		return "", fmt.Errorf("trim output: %w", err)
	}

	output := CreateTempFile(dir, "output.mp4")
	if tl.MusicPath == "" {
		if err := os.Rename(trimmed, output); err != nil {
			return "", fmt.Errorf("finalize output: %w", err)
		}
		return output, nil
	}

	if _, err := os.Stat(tl.MusicPath); err != nil {
		c.log.Warn().Err(err).Str("music", tl.MusicPath).Msg("music track missing, rendering without it")
		if err := os.Rename(trimmed, output); err != nil {
			return "", fmt.Errorf("finalize output: %w", err)
		}
		return output, nil
	}

	if _, err := c.ff.runFFmpeg(ctx, mixMusicArgs(trimmed, tl.MusicPath, output)...); err != nil {
		return "", fmt.Errorf("mix music: %w", err)
	}
	return output, nil
}

// normalizeSegmentArgs cuts one segment and conforms it to the output
// geometry and codecs. Clips without audio get a silent stereo track so
// every segment can be joined the same way.
func normalizeSegmentArgs(entry models.TimelineEntry, out string, width, height int, hasAudio bool) []string {
	seg := entry.Segment
	duration := formatSec(seg.Duration())

	in := ffmpeg.Input(entry.SourcePath, ffmpeg.KwArgs{"ss": formatSec(seg.StartSec), "t": duration})
	video := in.Video().
		Filter("scale", ffmpeg.Args{strconv.Itoa(width), strconv.Itoa(height)}, ffmpeg.KwArgs{"force_original_aspect_ratio": "decrease"}).
		Filter("pad", ffmpeg.Args{strconv.Itoa(width), strconv.Itoa(height), "(ow-iw)/2", "(oh-ih)/2", "black"})

	audio := in.Audio()
	if !hasAudio {
		audio = ffmpeg.Input(fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", audioRate),
			ffmpeg.KwArgs{"f": "lavfi", "t": duration}).Audio()
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, out, encodeKwArgs()).
		OverWriteOutput().
		GetArgs()
}

// joinSegmentsArgs chains xfade for video and acrossfade for audio. Each
// offset is the running output length minus the incoming transition.
func joinSegmentsArgs(paths []string, durations []float64, entries []models.TimelineEntry, out string) []string {
	inputs := make([]*ffmpeg.Stream, len(paths))
	for i, p := range paths {
		inputs[i] = ffmpeg.Input(p)
	}

	video := inputs[0].Video()
	audio := inputs[0].Audio()
	cumulative := durations[0]
	for i := 1; i < len(inputs); i++ {
		spec := models.TransitionSpec{Style: models.TransitionFade, DurationSec: 0.01}
		if t := entries[i-1].Transition; t != nil {
			spec = *t
		}
		d := math.Min(spec.DurationSec, maxTransitionShare*math.Min(durations[i-1], durations[i]))
		offset := math.Max(0, cumulative-d)

		video = ffmpeg.Filter([]*ffmpeg.Stream{video, inputs[i].Video()}, "xfade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"transition": string(spec.Style),
			"duration":   formatSec(d),
			"offset":     formatSec(offset),
		})
		audio = ffmpeg.Filter([]*ffmpeg.Stream{audio, inputs[i].Audio()}, "acrossfade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"d": formatSec(d),
		})
		cumulative = offset + durations[i]
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, out, encodeKwArgs()).
		OverWriteOutput().
		GetArgs()
}

// mixMusicArgs loops the track under the existing audio and ends with the video.
func mixMusicArgs(videoPath, musicPath, out string) []string {
	base := ffmpeg.Input(videoPath)
	music := ffmpeg.Input(musicPath, ffmpeg.KwArgs{"stream_loop": "-1"})

	voice := base.Audio().Filter("volume", ffmpeg.Args{"1.0"})
	bed := music.Audio().Filter("volume", ffmpeg.Args{strconv.FormatFloat(musicVolume, 'f', -1, 64)})
	mixed := ffmpeg.Filter([]*ffmpeg.Stream{voice, bed}, "amix", ffmpeg.Args{}, ffmpeg.KwArgs{
		"inputs":             "2",
		"duration":           "first",
		"dropout_transition": "3",
	})

	return ffmpeg.Output([]*ffmpeg.Stream{base.Video(), mixed}, out, ffmpeg.KwArgs{
		"c:v": "copy",
		"c:a": "aac",
		"b:a": audioBitrate,
	}).OverWriteOutput().GetArgs()
}

func encodeKwArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c:v":     "libx264",
		"preset":  videoPreset,
		"crf":     videoCRF,
		"pix_fmt": "yuv420p",
		"r":       strconv.Itoa(videoFPS),
		"c:a":     "aac",
		"b:a":     audioBitrate,
		"ac":      "2",
		"ar":      strconv.Itoa(audioRate),
	}
}

func formatSec(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
