package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Narrative composer
// Sends every clip, its transcript and its signal features to Gemini in a
// single request and gets back an ordered edit plan.
// ---------------------------------------------------------------------------

const (
	defaultNarrativeModel = "gemini-2.5-pro"

	maxInlineClipBytes = 20 * 1024 * 1024
	filePollInterval   = 2 * time.Second
	fileMaxPollWait    = 120 * time.Second

	// Gemini 2.5 Pro pricing per million tokens
	geminiInputCostPerM  = 1.25
	geminiOutputCostPerM = 10.0
	geminiFallbackCost   = 0.05

	narrativeTemperature = 0.2
)

// contentGenerator is the subset of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// fileStore is the subset of genai.Files used for clips too large to inline.
type fileStore interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// NarrativeInput is the cross-clip context for one plan request. The
// per-clip slices are indexed by clip position.
type NarrativeInput struct {
	Clips       []models.ClipDescriptor
	Transcripts []models.ClipTranscript
	Silences    [][]models.SilenceInterval
	Loudness    [][]models.LoudnessWindow
	Style       string
	DurationSec float64
}

type NarrativeService struct {
	gen            contentGenerator
	files          fileStore
	model          string
	costs          CostRecorder
	maxInlineBytes int64
	pollInterval   time.Duration
	maxPollWait    time.Duration
	log            zerolog.Logger
}

// NewNarrativeService creates a Gemini backed composer. An empty model
// defaults to gemini-2.5-pro.
func NewNarrativeService(ctx context.Context, apiKey, model string, costs CostRecorder) (*NarrativeService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newNarrativeService(client.Models, client.Files, model, costs), nil
}

func newNarrativeService(gen contentGenerator, files fileStore, model string, costs CostRecorder) *NarrativeService {
	if model == "" {
		model = defaultNarrativeModel
	}
	return &NarrativeService{
		gen:            gen,
		files:          files,
		model:          model,
		costs:          costs,
		maxInlineBytes: maxInlineClipBytes,
		pollInterval:   filePollInterval,
		maxPollWait:    fileMaxPollWait,
		log:            logging.WithComponent("narrative"),
	}
}

// ComposeNarrative asks the model for an ordered segment plan. A response
// that is not the expected JSON fails with ErrInvalidResponse; a plan
// without usable segments fails with ErrEmptyResult.
func (s *NarrativeService) ComposeNarrative(ctx context.Context, userID uuid.UUID, in NarrativeInput) (models.NarrativePlan, error) {
	var uploaded []string
	defer func() {
		// Best effort: the provider expires files on its own eventually.
		for _, name := range uploaded {
			if _, err := s.files.Delete(context.WithoutCancel(ctx), name, nil); err != nil {
				s.log.Warn().Err(err).Str("file", name).Msg("failed to delete uploaded clip")
			}
		}
	}()

	// The inline limit covers the whole request, not each clip.
	inlineBudget := s.maxInlineBytes
	parts := make([]*genai.Part, 0, 2*len(in.Clips)+1)
	for _, clip := range in.Clips {
		part, name, err := s.clipPart(ctx, clip, &inlineBudget)
		if name != "" {
			uploaded = append(uploaded, name)
		}
		if err != nil {
			return models.NarrativePlan{}, err
		}
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[Clip %d]", clip.Index)), part)
	}
	parts = append(parts, genai.NewPartFromText(buildNarrativePrompt(in)))

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](narrativeTemperature),
	}

	s.log.Info().
		Str("model", s.model).
		Int("clips", len(in.Clips)).
		Float64("target_sec", in.DurationSec).
		Msg("requesting narrative plan")

	resp, err := s.gen.GenerateContent(ctx, s.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return models.NarrativePlan{}, fmt.Errorf("narrative request failed: %w", err)
	}

	recordCost(ctx, s.costs, userID, "gemini", "video-analysis", geminiCost(resp.UsageMetadata))

	raw := resp.Text()
	plan, err := parseNarrativePlan(raw, in.Clips)
	if err != nil {
		s.log.Error().Err(err).Str("raw", truncate(raw, 2000)).Msg("narrative plan rejected")
		return models.NarrativePlan{}, err
	}
	return plan, nil
}

// clipPart inlines a clip while it fits in the remaining inline budget and
// uploads it through the Files API otherwise, waiting for it to become
// active. The returned name is set only for uploaded files.
func (s *NarrativeService) clipPart(ctx context.Context, clip models.ClipDescriptor, inlineBudget *int64) (*genai.Part, string, error) {
	info, err := os.Stat(clip.LocalPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat clip %d: %w", clip.Index, err)
	}

	if info.Size() <= *inlineBudget {
		data, err := os.ReadFile(clip.LocalPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read clip %d: %w", clip.Index, err)
		}
		*inlineBudget -= int64(len(data))
		return genai.NewPartFromBytes(data, "video/mp4"), "", nil
	}

	file, err := s.files.UploadFromPath(ctx, clip.LocalPath, &genai.UploadFileConfig{
		MIMEType:    "video/mp4",
		DisplayName: fmt.Sprintf("clip-%d", clip.Index),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to upload clip %d: %w", clip.Index, err)
	}

	deadline := time.Now().Add(s.maxPollWait)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, file.Name, fmt.Errorf("file processing timed out for clip %d", clip.Index)
		}
		select {
		case <-ctx.Done():
			return nil, file.Name, fmt.Errorf("file processing cancelled: %w", ctx.Err())
		case <-time.After(s.pollInterval):
		}

		name := file.Name
		file, err = s.files.Get(ctx, name, nil)
		if err != nil {
			return nil, name, fmt.Errorf("failed to poll file for clip %d: %w", clip.Index, err)
		}
	}

	if file.State == genai.FileStateFailed {
		return nil, file.Name, fmt.Errorf("file processing failed for clip %d", clip.Index)
	}

	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	return genai.NewPartFromURI(file.URI, mimeType), file.Name, nil
}

func geminiCost(usage *genai.GenerateContentResponseUsageMetadata) float64 {
	if usage == nil {
		return geminiFallbackCost
	}
	return float64(usage.PromptTokenCount)/1e6*geminiInputCostPerM +
		float64(usage.CandidatesTokenCount)/1e6*geminiOutputCostPerM
}

func buildNarrativePrompt(in NarrativeInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a professional video editor creating a %s social media montage.\n\n", in.Style)

	b.WriteString("## Available Clips\n")
	for _, c := range in.Clips {
		fmt.Fprintf(&b, "Clip %d: %.1fs\n", c.Index, c.DurationSec)
	}

	b.WriteString("\n## Transcriptions (word-level timestamps)\n")
	for i, t := range in.Transcripts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Clip %d:\n", t.ClipIndex)
		if len(t.Segments) == 0 {
			b.WriteString("  (no speech detected)\n")
			continue
		}
		for _, seg := range t.Segments {
			fmt.Fprintf(&b, "  [%.1fs-%.1fs] %s\n", seg.StartSec, seg.EndSec, seg.Text)
		}
	}

	b.WriteString("\n## Silence Regions (good cut points)\n")
	for i, c := range in.Clips {
		var regions []string
		if i < len(in.Silences) {
			for _, r := range in.Silences[i] {
				regions = append(regions, fmt.Sprintf("%.1f-%.1fs", r.StartSec, r.EndSec))
			}
		}
		if len(regions) == 0 {
			fmt.Fprintf(&b, "Clip %d: no silence detected\n", c.Index)
		} else {
			fmt.Fprintf(&b, "Clip %d: %s\n", c.Index, strings.Join(regions, ", "))
		}
	}

	b.WriteString("\n## Audio Energy (RMS levels)\n")
	for i, c := range in.Clips {
		avg := "N/A"
		if i < len(in.Loudness) && len(in.Loudness[i]) > 0 {
			sum := 0.0
			for _, w := range in.Loudness[i] {
				sum += w.RMSDb
			}
			avg = fmt.Sprintf("%.1f", sum/float64(len(in.Loudness[i])))
		}
		fmt.Fprintf(&b, "Clip %d: avg RMS = %s dB\n", c.Index, avg)
	}

	target := fmt.Sprintf("%gs", in.DurationSec)
	fmt.Fprintf(&b, `
## Instructions
Create a compelling %s montage targeting %s total duration.

Rules:
- Select the most engaging segments from the clips
- Order segments to create a coherent narrative arc (hook → development → climax → conclusion)
- Prefer cutting at silence boundaries or between words (never mid-word)
- The startSec/endSec must be within the clip's actual duration
- Each segment should be at least 2 seconds long
- energyLevel should reflect the audio RMS: low (<-25dB), medium (-25 to -15dB), high (>-15dB)
- Segments can come from the same clip multiple times if needed
- Total segment durations should sum close to %s (±10%%)

Respond with ONLY valid JSON matching this schema:
{
  "orderedSegments": [
    {
      "clipIndex": number,
      "startSec": number,
      "endSec": number,
      "narrativeRole": "hook" | "development" | "climax" | "conclusion",
      "energyLevel": "low" | "medium" | "high",
      "transcriptExcerpt": "brief text from this segment"
    }
  ],
  "overallNarrative": "one-sentence description of the montage story",
  "suggestedMood": "one or two words describing the mood for background music"
}`, in.Style, target, target)

	return b.String()
}

// parseNarrativePlan validates model output against the clip set. Segments
// that point at a missing clip or have no positive length are dropped, and
// end times past the clip's duration are clamped.
func parseNarrativePlan(raw string, clips []models.ClipDescriptor) (models.NarrativePlan, error) {
	var plan models.NarrativePlan
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &plan); err != nil {
		return models.NarrativePlan{}, fmt.Errorf("%w: narrative plan is not valid JSON: %v", ErrInvalidResponse, err)
	}
	if len(plan.OrderedSegments) == 0 {
		return models.NarrativePlan{}, fmt.Errorf("%w: narrative plan has no segments", ErrEmptyResult)
	}

	durations := make(map[int]float64, len(clips))
	for _, c := range clips {
		durations[c.Index] = c.DurationSec
	}

	kept := plan.OrderedSegments[:0]
	for _, seg := range plan.OrderedSegments {
		dur, ok := durations[seg.ClipIndex]
		if !ok {
			continue
		}
		if seg.StartSec < 0 {
			seg.StartSec = 0
		}
		if dur > 0 && seg.EndSec > dur {
			seg.EndSec = dur
		}
		if seg.EndSec <= seg.StartSec {
			continue
		}
		seg.NarrativeRole = normalizeRole(seg.NarrativeRole)
		seg.EnergyLevel = normalizeEnergy(seg.EnergyLevel)
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return models.NarrativePlan{}, fmt.Errorf("%w: no narrative segment fits the available clips", ErrEmptyResult)
	}
	plan.OrderedSegments = kept
	return plan, nil
}

func normalizeRole(r models.NarrativeRole) models.NarrativeRole {
	switch models.NarrativeRole(strings.ToLower(string(r))) {
	case models.RoleHook:
		return models.RoleHook
	case models.RoleClimax:
		return models.RoleClimax
	case models.RoleConclusion:
		return models.RoleConclusion
	default:
		return models.RoleDevelopment
	}
}

func normalizeEnergy(e models.EnergyLevel) models.EnergyLevel {
	switch models.EnergyLevel(strings.ToLower(string(e))) {
	case models.EnergyLow:
		return models.EnergyLow
	case models.EnergyHigh:
		return models.EnergyHigh
	default:
		return models.EnergyMedium
	}
}
