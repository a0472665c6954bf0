package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

const (
	// LanguageUnknown is reported when the provider does not detect a language.
	LanguageUnknown = "unknown"

	transcriptionCostUSD = 0.01
)

// TranscriptionService turns a clip URL into time-aligned speech segments.
type TranscriptionService struct {
	fal   *FalClient
	model string
	costs CostRecorder
}

func NewTranscriptionService(fal *FalClient, model string, costs CostRecorder) *TranscriptionService {
	return &TranscriptionService{fal: fal, model: model, costs: costs}
}

// Provider payloads come in two shapes: whisper "chunks" with a
// [start, end] timestamp pair, and whisperx style "segments" with start/end
// fields. Both may carry word level detail.

type falWord struct {
	Word        string     `json:"word"`
	Text        string     `json:"text"`
	Start       *float64   `json:"start"`
	End         *float64   `json:"end"`
	Timestamp   []*float64 `json:"timestamp"`
	Score       *float64   `json:"score"`
	Probability *float64   `json:"probability"`
}

type falChunk struct {
	Text      string     `json:"text"`
	Timestamp []*float64 `json:"timestamp"`
	Start     *float64   `json:"start"`
	End       *float64   `json:"end"`
	Words     []falWord  `json:"words"`
}

type falTranscription struct {
	Text              string     `json:"text"`
	Chunks            []falChunk `json:"chunks"`
	Segments          []falChunk `json:"segments"`
	Language          string     `json:"language"`
	InferredLanguages []string   `json:"inferred_languages"`
}

// Transcribe sends one clip to the speech-to-text model.
func (s *TranscriptionService) Transcribe(ctx context.Context, userID uuid.UUID, clipURL string) (models.ClipTranscript, error) {
	input := map[string]any{
		"audio_url":   clipURL,
		"task":        "transcribe",
		"chunk_level": "segment",
	}

	var out falTranscription
	if err := s.fal.Run(ctx, s.model, input, &out); err != nil {
		return models.ClipTranscript{}, fmt.Errorf("transcription: %w", err)
	}

	recordCost(ctx, s.costs, userID, "fal", "whisper", transcriptionCostUSD)

	return normalizeTranscription(out), nil
}

func normalizeTranscription(out falTranscription) models.ClipTranscript {
	chunks := out.Chunks
	if len(chunks) == 0 {
		chunks = out.Segments
	}

	segments := make([]models.TranscriptSegment, 0, len(chunks))
	for _, c := range chunks {
		start, end := span(c.Timestamp, c.Start, c.End)
		seg := models.TranscriptSegment{
			Text:     strings.TrimSpace(c.Text),
			StartSec: start,
			EndSec:   end,
			Words:    make([]models.TranscriptWord, 0, len(c.Words)),
		}
		for _, w := range c.Words {
			ws, we := span(w.Timestamp, w.Start, w.End)
			text := w.Word
			if text == "" {
				text = w.Text
			}
			seg.Words = append(seg.Words, models.TranscriptWord{
				Word:       strings.TrimSpace(text),
				StartSec:   ws,
				EndSec:     we,
				Confidence: firstOf(w.Score, w.Probability),
			})
		}
		segments = append(segments, seg)
	}

	language := out.Language
	if language == "" && len(out.InferredLanguages) > 0 {
		language = out.InferredLanguages[0]
	}
	if language == "" {
		language = LanguageUnknown
	}

	return models.ClipTranscript{Segments: segments, Language: language}
}

// span resolves start/end from either a timestamp pair or explicit fields.
// A missing end collapses to the start.
func span(ts []*float64, start, end *float64) (float64, float64) {
	if len(ts) > 0 {
		start = ts[0]
		end = nil
		if len(ts) > 1 {
			end = ts[1]
		}
	}
	s := 0.0
	if start != nil {
		s = *start
	}
	e := s
	if end != nil && *end >= s {
		e = *end
	}
	return s, e
}

func firstOf(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
