package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/reels/internal/metrics"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/queue"
	"github.com/bobarin/reels/internal/services"
	"github.com/bobarin/reels/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultContentType = "reel"

// renderJob is the state of one render attempt, threaded through every
// stage. It is owned by a single goroutine except during transcription,
// where each clip writes only its own slot.
type renderJob struct {
	job   *queue.Job
	in    models.RenderJobInput
	log   zerolog.Logger
	stage models.RenderStage
	dir   string

	clips       []models.ClipDescriptor
	transcripts []models.ClipTranscript
	silences    [][]models.SilenceInterval
	loudness    [][]models.LoudnessWindow
	plan        models.NarrativePlan

	music          *models.MusicResult
	musicPath      string
	outputPath     string
	generatedKey   string
	sourcesCleared bool
	copy           *models.CopyResult
}

type stageError struct {
	stage models.RenderStage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

type stageFunc func(ctx context.Context, rj *renderJob) error

// runRender executes the stage sequence inside a job work directory. The
// directory is removed however the sequence ends.
func (w *Worker) runRender(ctx context.Context, job *queue.Job, log zerolog.Logger) error {
	rj := &renderJob{job: job, in: job.Input, log: log, stage: models.StageInit}

	stages := []struct {
		stage models.RenderStage
		run   stageFunc
	}{
		{models.StageInit, w.stageInit},
		{models.StageTranscribing, w.stageTranscribe},
		{models.StageAnalyzingNarrative, w.stageAnalyze},
		{models.StageRendering, w.stageRender},
		{models.StageUploading, w.stageUpload},
		{models.StageCleaningSources, w.stageCleanSources},
		{models.StageComposingCopy, w.stageComposeCopy},
		{models.StagePersisting, w.stagePersist},
	}

	err := w.WorkDirs.WithWorkDir(ctx, job.ID.String(), func(dir string) error {
		rj.dir = dir
		for _, s := range stages {
			rj.stage = s.stage
			rj.log = log.With().Str("stage", string(s.stage)).Logger()

			started := time.Now()
			err := s.run(ctx, rj)
			metrics.RenderStageDuration.WithLabelValues(string(s.stage)).Observe(time.Since(started).Seconds())
			if err != nil {
				return &stageError{stage: s.stage, err: err}
			}
		}
		rj.stage = models.StageDone
		return nil
	})
	if err != nil {
		if _, ok := err.(*stageError); !ok {
			err = &stageError{stage: models.StageInit, err: err}
		}
	}
	return err
}

// degrade records a soft failure that was replaced by a default.
func degrade(rj *renderJob, err error, msg string) {
	metrics.RenderDegradationsTotal.WithLabelValues(string(rj.stage)).Inc()
	rj.log.Warn().Err(err).Msg(msg)
}

// stageInit stages every source clip into the work directory in input order.
func (w *Worker) stageInit(ctx context.Context, rj *renderJob) error {
	rj.clips = make([]models.ClipDescriptor, len(rj.in.ClipURLs))
	for i, key := range rj.in.ClipURLs {
		ext := filepath.Ext(key)
		if ext == "" || len(ext) > 5 {
			ext = ".mp4"
		}
		local := filepath.Join(rj.dir, fmt.Sprintf("clip_%d%s", i, ext))
		if err := w.Storage.DownloadFile(ctx, key, local); err != nil {
			return fmt.Errorf("download clip %d: %w", i, err)
		}
		rj.clips[i] = models.ClipDescriptor{Index: i, LocalPath: local}
	}
	rj.log.Info().Int("clips", len(rj.clips)).Msg("clips staged")
	return nil
}

// stageTranscribe transcribes every clip concurrently. A clip that fails
// gets an empty transcript; the stage itself never fails.
func (w *Worker) stageTranscribe(ctx context.Context, rj *renderJob) error {
	results := make([]models.ClipTranscript, len(rj.in.ClipURLs))

	var g errgroup.Group
	g.SetLimit(w.opts.TranscriptionConcurrency)
	for i, key := range rj.in.ClipURLs {
		g.Go(func() error {
			results[i] = w.transcribeClip(ctx, rj, i, key)
			return nil
		})
	}
	_ = g.Wait()

	rj.transcripts = results
	return nil
}

func (w *Worker) transcribeClip(ctx context.Context, rj *renderJob, index int, key string) models.ClipTranscript {
	empty := models.ClipTranscript{
		ClipIndex: index,
		Segments:  []models.TranscriptSegment{},
		Language:  services.LanguageUnknown,
	}

	url, err := w.clipURL(ctx, key)
	if err != nil {
		degrade(rj, err, fmt.Sprintf("clip %d: could not sign url, continuing without transcript", index))
		return empty
	}

	t, err := w.Transcriber.Transcribe(ctx, rj.in.UserID, url)
	if err != nil {
		degrade(rj, err, fmt.Sprintf("clip %d: transcription failed, continuing without transcript", index))
		return empty
	}
	t.ClipIndex = index
	if t.Segments == nil {
		t.Segments = []models.TranscriptSegment{}
	}
	return t
}

// clipURL makes a storage key reachable by the transcription provider.
func (w *Worker) clipURL(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, "https://") || strings.HasPrefix(key, "http://") {
		return key, nil
	}
	return w.Storage.PresignGet(ctx, key)
}

// stageAnalyze probes every clip and asks for the narrative plan. Only the
// duration probe and the plan itself are fatal.
func (w *Worker) stageAnalyze(ctx context.Context, rj *renderJob) error {
	rj.silences = make([][]models.SilenceInterval, len(rj.clips))
	rj.loudness = make([][]models.LoudnessWindow, len(rj.clips))

	for i := range rj.clips {
		clip := &rj.clips[i]

		d, err := w.Analyzer.ProbeDuration(ctx, clip.LocalPath)
		if err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		clip.DurationSec = d
		clip.FPS = w.Analyzer.ProbeFramerate(ctx, clip.LocalPath)

		silences, err := w.Analyzer.DetectSilence(ctx, clip.LocalPath)
		if err != nil {
			degrade(rj, err, fmt.Sprintf("clip %d: silence detection failed", i))
			silences = []models.SilenceInterval{}
		}
		rj.silences[i] = silences

		profile, err := w.Analyzer.RMSProfile(ctx, clip.LocalPath, w.opts.LoudnessWindowSec)
		if err != nil {
			degrade(rj, err, fmt.Sprintf("clip %d: loudness analysis failed", i))
			profile = []models.LoudnessWindow{}
		}
		rj.loudness[i] = profile
	}

	plan, err := w.Narrative.ComposeNarrative(ctx, rj.in.UserID, services.NarrativeInput{
		Clips:       rj.clips,
		Transcripts: rj.transcripts,
		Silences:    rj.silences,
		Loudness:    rj.loudness,
		Style:       rj.in.Style,
		DurationSec: rj.in.DurationSec,
	})
	if err != nil {
		return err
	}
	rj.plan = plan

	rj.log.Info().
		Int("segments", len(plan.OrderedSegments)).
		Str("mood", plan.SuggestedMood).
		Msg("narrative plan ready")
	return nil
}

// stageRender fetches optional music and composes the reel.
func (w *Worker) stageRender(ctx context.Context, rj *renderJob) error {
	mood := rj.in.MusicPrompt
	if mood == "" {
		mood = rj.plan.SuggestedMood
	}

	music, err := w.Music.GenerateMusic(ctx, rj.in.UserID, mood, rj.in.DurationSec)
	if err != nil {
		degrade(rj, err, "music generation failed, continuing without music")
	} else {
		path, err := w.Music.DownloadTrack(ctx, music.MusicURL, rj.dir)
		if err != nil {
			degrade(rj, err, "music download failed, continuing without music")
		} else {
			rj.music = &music
			rj.musicPath = path
		}
	}

	tl, err := services.BuildTimeline(rj.plan, rj.clips, rj.loudness, rj.in.Format, rj.in.DurationSec, rj.musicPath)
	if err != nil {
		return err
	}

	out, err := w.Renderer.Render(ctx, tl, rj.dir)
	if err != nil {
		return err
	}
	rj.outputPath = out
	rj.log.Info().Bool("music", rj.musicPath != "").Msg("composition complete")
	return nil
}

func (w *Worker) stageUpload(ctx context.Context, rj *renderJob) error {
	key := storage.RenderKey(rj.in.UserID, rj.in.ContentItemID)
	if err := w.Storage.UploadFile(ctx, key, rj.outputPath, "video/mp4"); err != nil {
		return err
	}
	rj.generatedKey = key
	rj.log.Info().Str("key", key).Msg("rendered reel uploaded")
	return nil
}

func (w *Worker) stageCleanSources(ctx context.Context, rj *renderJob) error {
	rj.sourcesCleared = w.deleteSources(ctx, rj.log, rj.in.ClipURLs)
	return nil
}

// deleteSources deletes every key and reports whether all of them went.
// A partial failure counts as nothing deleted for bookkeeping.
func (w *Worker) deleteSources(ctx context.Context, log zerolog.Logger, keys []string) bool {
	failed := 0
	for _, key := range keys {
		if err := w.Storage.Delete(ctx, key); err != nil {
			failed++
			log.Error().Err(err).Str("key", key).Msg("failed to delete source clip")
		}
	}
	if failed > 0 {
		metrics.SourceCleanupTotal.WithLabelValues("retained").Inc()
		log.Warn().Int("failed", failed).Int("total", len(keys)).Msg("source clips retained for the cleanup sweep")
		return false
	}
	metrics.SourceCleanupTotal.WithLabelValues("cleared").Inc()
	return true
}

func (w *Worker) stageComposeCopy(ctx context.Context, rj *renderJob) error {
	contentType := rj.in.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	var excerpts []string
	for _, seg := range rj.plan.OrderedSegments {
		if s := strings.TrimSpace(seg.TranscriptExcerpt); s != "" {
			excerpts = append(excerpts, s)
		}
	}
	copyCtx := &models.CopyContext{
		Narrative:         rj.plan.OverallNarrative,
		TranscriptExcerpt: strings.Join(excerpts, " "),
		Mood:              rj.plan.SuggestedMood,
	}

	result, err := w.Copywriter.GenerateCopy(ctx, rj.in.UserID, contentType, rj.in.Style, copyCtx)
	if err != nil {
		degrade(rj, err, "copy generation failed, continuing without copy")
		return nil
	}
	rj.copy = &result
	return nil
}

func (w *Worker) stagePersist(ctx context.Context, rj *renderJob) error {
	result := models.RenderResult{
		Status:            models.ContentStatusDraft,
		GeneratedMediaURL: rj.generatedKey,
		Hashtags:          models.StringList{},
		ClearMediaURLs:    rj.sourcesCleared,
	}
	if rj.music != nil {
		result.MusicURL = &rj.music.MusicURL
	}
	if rj.copy != nil {
		result.Caption = &rj.copy.Caption
		result.Hashtags = models.StringList(rj.copy.Hashtags)
		result.HookText = &rj.copy.HookText
		result.CTAText = &rj.copy.CTAText
	}

	// Persist even when the job context is being cancelled: the reel exists.
	return w.Content.SaveRenderResult(context.WithoutCancel(ctx), rj.in.ContentItemID, result)
}
