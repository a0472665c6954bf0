package worker

import (
	"context"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/queue"
	"github.com/bobarin/reels/internal/services"
	"github.com/google/uuid"
)

// JobQueue is the slice of *queue.Queue the worker consumes.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, job *queue.Job) error
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	Requeue(ctx context.Context, job *queue.Job, delay time.Duration) error
	GetQueueLength(ctx context.Context, queueName string) (int64, error)
	AcquireRenderLock(ctx context.Context, contentItemID uuid.UUID, owner string) (bool, error)
	ReleaseRenderLock(ctx context.Context, contentItemID uuid.UUID, owner string) error
}

// BlobStore is durable storage for source clips and rendered reels.
type BlobStore interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	DownloadFile(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// ContentStore persists content item state.
type ContentStore interface {
	UpdateContentStatus(ctx context.Context, id uuid.UUID, status models.ContentStatus) error
	SaveRenderResult(ctx context.Context, id uuid.UUID, result models.RenderResult) error
	ClearMediaURLs(ctx context.Context, id uuid.UUID) error
	ListStaleRushItems(ctx context.Context, olderThan time.Time) ([]models.ContentItem, error)
}

type Billing interface {
	RestoreCredits(ctx context.Context, userID uuid.UUID, amount int, reason string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, userID uuid.UUID, clipURL string) (models.ClipTranscript, error)
}

type SignalAnalyzer interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeFramerate(ctx context.Context, path string) float64
	DetectSilence(ctx context.Context, path string) ([]models.SilenceInterval, error)
	RMSProfile(ctx context.Context, path string, windowSec float64) ([]models.LoudnessWindow, error)
}

type NarrativeComposer interface {
	ComposeNarrative(ctx context.Context, userID uuid.UUID, in services.NarrativeInput) (models.NarrativePlan, error)
}

type MusicGenerator interface {
	GenerateMusic(ctx context.Context, userID uuid.UUID, mood string, durationSec float64) (models.MusicResult, error)
	DownloadTrack(ctx context.Context, musicURL, dir string) (string, error)
}

type Copywriter interface {
	GenerateCopy(ctx context.Context, userID uuid.UUID, contentType, style string, copyCtx *models.CopyContext) (models.CopyResult, error)
}

type TimelineRenderer interface {
	Render(ctx context.Context, tl models.Timeline, dir string) (string, error)
}

// WorkDirs hands out a private directory that is removed when fn returns.
type WorkDirs interface {
	WithWorkDir(ctx context.Context, jobID string, fn func(dir string) error) error
}

// Deps are the collaborators of a Worker. All fields are required.
type Deps struct {
	Queue       JobQueue
	Storage     BlobStore
	Content     ContentStore
	Billing     Billing
	Transcriber Transcriber
	Analyzer    SignalAnalyzer
	Narrative   NarrativeComposer
	Music       MusicGenerator
	Copywriter  Copywriter
	Renderer    TimelineRenderer
	WorkDirs    WorkDirs
}
