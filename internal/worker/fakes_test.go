package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/services"
	"github.com/google/uuid"
)

type fakeStorage struct {
	mu         sync.Mutex
	uploads    map[string]string
	deleted    []string
	failDelete map[string]bool
	uploadErr  error
	presigned  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploads: map[string]string{}, failDelete: map[string]bool{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, key, localPath, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = localPath
	return nil
}

func (s *fakeStorage) DownloadFile(_ context.Context, key, localPath string) error {
	return os.WriteFile(localPath, []byte("clip:"+key), 0644)
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[key] {
		return fmt.Errorf("delete %s: access denied", key)
	}
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) PresignGet(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigned = append(s.presigned, key)
	return "https://signed.example/" + key, nil
}

type fakeContent struct {
	mu        sync.Mutex
	statuses  []models.ContentStatus
	results   []models.RenderResult
	cleared   []uuid.UUID
	stale     []models.ContentItem
	saveErr   error
	staleFrom time.Time
}

func (c *fakeContent) UpdateContentStatus(_ context.Context, _ uuid.UUID, status models.ContentStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	return nil
}

func (c *fakeContent) SaveRenderResult(_ context.Context, _ uuid.UUID, result models.RenderResult) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	return nil
}

func (c *fakeContent) ClearMediaURLs(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, id)
	return nil
}

func (c *fakeContent) ListStaleRushItems(_ context.Context, olderThan time.Time) ([]models.ContentItem, error) {
	c.staleFrom = olderThan
	return c.stale, nil
}

type restore struct {
	UserID uuid.UUID
	Amount int
	Reason string
}

type fakeBilling struct {
	restores []restore
}

func (b *fakeBilling) RestoreCredits(_ context.Context, userID uuid.UUID, amount int, reason string) error {
	b.restores = append(b.restores, restore{userID, amount, reason})
	return nil
}

type fakeTranscriber struct {
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ uuid.UUID, clipURL string) (models.ClipTranscript, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.ClipTranscript{}, ctx.Err()
		}
	}
	if f.fail[clipURL] {
		return models.ClipTranscript{}, errors.New("whisper timed out")
	}
	return models.ClipTranscript{
		Segments: []models.TranscriptSegment{{Text: "said in " + clipURL, StartSec: 0, EndSec: 1}},
		Language: "en",
	}, nil
}

type fakeAnalyzer struct {
	durationErr error
	silenceErr  error
}

func (a *fakeAnalyzer) ProbeDuration(context.Context, string) (float64, error) {
	if a.durationErr != nil {
		return 0, a.durationErr
	}
	return 10, nil
}

func (a *fakeAnalyzer) ProbeFramerate(context.Context, string) float64 { return 30 }

func (a *fakeAnalyzer) DetectSilence(context.Context, string) ([]models.SilenceInterval, error) {
	if a.silenceErr != nil {
		return nil, a.silenceErr
	}
	return []models.SilenceInterval{{StartSec: 4, EndSec: 5}}, nil
}

func (a *fakeAnalyzer) RMSProfile(context.Context, string, float64) ([]models.LoudnessWindow, error) {
	return []models.LoudnessWindow{{TimeSec: 0, RMSDb: -30}, {TimeSec: 3, RMSDb: -10}}, nil
}

type fakeNarrative struct {
	err   error
	input services.NarrativeInput
	calls int
}

func (n *fakeNarrative) ComposeNarrative(_ context.Context, _ uuid.UUID, in services.NarrativeInput) (models.NarrativePlan, error) {
	n.calls++
	n.input = in
	if n.err != nil {
		return models.NarrativePlan{}, n.err
	}
	return models.NarrativePlan{
		OrderedSegments: []models.NarrativeSegment{
			{ClipIndex: 1, StartSec: 0, EndSec: 4, NarrativeRole: models.RoleHook, TranscriptExcerpt: "look at this"},
			{ClipIndex: 0, StartSec: 2, EndSec: 8, NarrativeRole: models.RoleConclusion, TranscriptExcerpt: "and that is it"},
		},
		OverallNarrative: "A day at the beach",
		SuggestedMood:    "sunny",
	}, nil
}

type fakeMusic struct {
	err       error
	mood      string
	downloads int
}

func (m *fakeMusic) GenerateMusic(_ context.Context, _ uuid.UUID, mood string, _ float64) (models.MusicResult, error) {
	m.mood = mood
	if m.err != nil {
		return models.MusicResult{}, m.err
	}
	return models.MusicResult{MusicURL: "https://fal.media/track.mp3", Cost: 0.01}, nil
}

func (m *fakeMusic) DownloadTrack(_ context.Context, _ string, dir string) (string, error) {
	m.downloads++
	p := filepath.Join(dir, "music.mp3")
	return p, os.WriteFile(p, []byte("music"), 0644)
}

type fakeCopy struct {
	err error
	ctx *models.CopyContext
}

func (c *fakeCopy) GenerateCopy(_ context.Context, _ uuid.UUID, _, _ string, copyCtx *models.CopyContext) (models.CopyResult, error) {
	c.ctx = copyCtx
	if c.err != nil {
		return models.CopyResult{}, c.err
	}
	return models.CopyResult{Caption: "Sun's out", Hashtags: []string{"beach", "summer"}, HookText: "Wait for it", CTAText: "Follow"}, nil
}

type fakeRenderer struct {
	err      error
	onRender func()
	timeline models.Timeline
	calls    int
}

func (r *fakeRenderer) Render(_ context.Context, tl models.Timeline, dir string) (string, error) {
	r.calls++
	r.timeline = tl
	if r.onRender != nil {
		r.onRender()
	}
	if r.err != nil {
		return "", r.err
	}
	out := filepath.Join(dir, "output.mp4")
	return out, os.WriteFile(out, []byte("reel"), 0644)
}
