package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type ContentStatus string

const (
	ContentStatusDraft      ContentStatus = "draft"
	ContentStatusGenerating ContentStatus = "generating"
	ContentStatusScheduled  ContentStatus = "scheduled"
	ContentStatusPublished  ContentStatus = "published"
	ContentStatusFailed     ContentStatus = "failed"
	ContentStatusRetrying   ContentStatus = "retrying"
)

// RenderStage is a state of the render orchestrator.
type RenderStage string

const (
	StageInit               RenderStage = "init"
	StageTranscribing       RenderStage = "transcribing"
	StageAnalyzingNarrative RenderStage = "analyzing_narrative"
	StageRendering          RenderStage = "rendering"
	StageUploading          RenderStage = "uploading"
	StageCleaningSources    RenderStage = "cleaning_sources"
	StageComposingCopy      RenderStage = "composing_copy"
	StagePersisting         RenderStage = "persisting"
	StageDone               RenderStage = "done"
	StageFailed             RenderStage = "failed"
)

// CanFail reports whether a hard error in this stage moves the job to failed.
// Once an artifact exists (cleaning_sources onward) the job can no longer regress.
func (s RenderStage) CanFail() bool {
	switch s {
	case StageCleaningSources, StageComposingCopy, StagePersisting, StageDone, StageFailed:
		return false
	}
	return true
}

type NarrativeRole string

const (
	RoleHook        NarrativeRole = "hook"
	RoleDevelopment NarrativeRole = "development"
	RoleClimax      NarrativeRole = "climax"
	RoleConclusion  NarrativeRole = "conclusion"
)

type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

type TransitionStyle string

const (
	TransitionDissolve  TransitionStyle = "dissolve"
	TransitionSlideLeft TransitionStyle = "slideleft"
	TransitionFade      TransitionStyle = "fade"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// StringList is a JSONB array of strings (media_urls, hashtags).
// A nil list is stored as [] so the column never holds JSON null.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source %T", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Render job input, one per content item per render attempt.

type RenderJobInput struct {
	UserID        uuid.UUID `json:"user_id"`
	ContentItemID uuid.UUID `json:"content_item_id"`
	ClipURLs      []string  `json:"clip_urls"`
	Style         string    `json:"style"`
	Format        string    `json:"format"`
	DurationSec   float64   `json:"duration_sec"`
	MusicPrompt   string    `json:"music_prompt,omitempty"`
	ContentType   string    `json:"content_type,omitempty"` // defaults to "reel"
}

// Validate checks the fields the orchestrator relies on.
func (in *RenderJobInput) Validate() error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if in.ContentItemID == uuid.Nil {
		return fmt.Errorf("content_item_id is required")
	}
	if len(in.ClipURLs) == 0 {
		return fmt.Errorf("at least one clip url is required")
	}
	if in.DurationSec <= 0 {
		return fmt.Errorf("duration_sec must be positive")
	}
	return nil
}

type ClipDescriptor struct {
	Index       int     `json:"index"`
	LocalPath   string  `json:"-"`
	DurationSec float64 `json:"durationSec"`
	FPS         float64 `json:"fps,omitempty"`
}

type TranscriptWord struct {
	Word       string  `json:"word"`
	StartSec   float64 `json:"startSec"`
	EndSec     float64 `json:"endSec"`
	Confidence float64 `json:"confidence"`
}

type TranscriptSegment struct {
	Text     string           `json:"text"`
	StartSec float64          `json:"startSec"`
	EndSec   float64          `json:"endSec"`
	Words    []TranscriptWord `json:"words"`
}

// ClipTranscript is the transcription of one clip. A failed transcription
// yields an empty Segments list, never a missing entry.
type ClipTranscript struct {
	ClipIndex int                 `json:"clipIndex"`
	Segments  []TranscriptSegment `json:"segments"`
	Language  string              `json:"language"`
}

type SilenceInterval struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
}

type LoudnessWindow struct {
	TimeSec float64 `json:"timeSec"`
	RMSDb   float64 `json:"rmsDb"`
}

type NarrativeSegment struct {
	ClipIndex         int           `json:"clipIndex"`
	StartSec          float64       `json:"startSec"`
	EndSec            float64       `json:"endSec"`
	NarrativeRole     NarrativeRole `json:"narrativeRole"`
	EnergyLevel       EnergyLevel   `json:"energyLevel"`
	TranscriptExcerpt string        `json:"transcriptExcerpt"`
}

func (s NarrativeSegment) Duration() float64 {
	return s.EndSec - s.StartSec
}

type NarrativePlan struct {
	OrderedSegments  []NarrativeSegment `json:"orderedSegments"`
	OverallNarrative string             `json:"overallNarrative"`
	SuggestedMood    string             `json:"suggestedMood"`
}

type TransitionSpec struct {
	Style       TransitionStyle `json:"style"`
	DurationSec float64         `json:"durationSec"`
}

type CopyResult struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	HookText string   `json:"hookText"`
	CTAText  string   `json:"ctaText"`
}

// CopyContext is optional narrative context for copy generation.
type CopyContext struct {
	Narrative         string
	TranscriptExcerpt string
	Mood              string
}

type MusicResult struct {
	MusicURL string  `json:"musicUrl"`
	Cost     float64 `json:"cost"`
}

// TimelineEntry is one segment placed on the output timeline. Transition
// is the transition into the next entry and is nil for the last one.
type TimelineEntry struct {
	Segment    NarrativeSegment
	SourcePath string
	Transition *TransitionSpec
}

type Timeline struct {
	Entries     []TimelineEntry
	Format      string
	DurationSec float64
	MusicPath   string // empty = no soundtrack
}

// Models

type ContentItem struct {
	ID                uuid.UUID     `json:"id"`
	UserID            uuid.UUID     `json:"user_id"`
	Type              string        `json:"type"`
	Title             *string       `json:"title,omitempty"`
	Status            ContentStatus `json:"status"`
	Style             *string       `json:"style,omitempty"`
	Format            *string       `json:"format,omitempty"`
	Duration          *int          `json:"duration,omitempty"`
	MediaURLs         StringList    `json:"media_urls"`
	GeneratedMediaURL *string       `json:"generated_media_url,omitempty"`
	Caption           *string       `json:"caption,omitempty"`
	Hashtags          StringList    `json:"hashtags"`
	HookText          *string       `json:"hook_text,omitempty"`
	CTAText           *string       `json:"cta_text,omitempty"`
	MusicURL          *string       `json:"music_url,omitempty"`
	MusicPrompt       *string       `json:"music_prompt,omitempty"`
	ScheduledAt       *time.Time    `json:"scheduled_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// RenderResult is the final update written to a content item after a
// successful render. Nil pointers are persisted as NULL.
type RenderResult struct {
	Status            ContentStatus
	GeneratedMediaURL string
	MusicURL          *string
	Caption           *string
	Hashtags          StringList
	HookText          *string
	CTAText           *string
	ClearMediaURLs    bool
}

// API request/response types

type CreateRenderRequest struct {
	ContentItemID uuid.UUID `json:"content_item_id"`
	UserID        uuid.UUID `json:"user_id"`
	ClipURLs      []string  `json:"clip_urls,omitempty"` // defaults to the item's media_urls
	Style         string    `json:"style,omitempty"`
	Format        string    `json:"format,omitempty"`
	DurationSec   float64   `json:"duration_sec,omitempty"`
	MusicPrompt   string    `json:"music_prompt,omitempty"`
}

type RenderAcceptedResponse struct {
	ContentItemID uuid.UUID     `json:"content_item_id"`
	Status        ContentStatus `json:"status"`
	QueuedAt      time.Time     `json:"queued_at"`
}
