package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribeChunksWithWords(t *testing.T) {
	var gotInput map[string]any
	fal := newTestFal(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotInput)
		w.Write([]byte(`{
			"chunks": [
				{"text": "Hello everyone", "timestamp": [0.0, 2.5],
				 "words": [
					{"word": "Hello", "start": 0.0, "end": 0.8, "score": 0.95},
					{"word": "everyone", "start": 0.9, "end": 2.5, "score": 0.92}
				 ]},
				{"text": " Welcome to the show", "timestamp": [3.0, 5.5], "words": []}
			],
			"language": "en"
		}`))
	})
	costs := &fakeCosts{}
	svc := NewTranscriptionService(fal, "fal-ai/whisper", costs)

	got, err := svc.Transcribe(context.Background(), uuid.New(), "https://r2.example.com/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://r2.example.com/clip.mp4", gotInput["audio_url"])
	assert.Equal(t, "en", got.Language)

	want := []models.TranscriptSegment{
		{
			Text: "Hello everyone", StartSec: 0, EndSec: 2.5,
			Words: []models.TranscriptWord{
				{Word: "Hello", StartSec: 0, EndSec: 0.8, Confidence: 0.95},
				{Word: "everyone", StartSec: 0.9, EndSec: 2.5, Confidence: 0.92},
			},
		},
		{Text: "Welcome to the show", StartSec: 3, EndSec: 5.5, Words: []models.TranscriptWord{}},
	}
	if diff := cmp.Diff(want, got.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, costs.entries, 1)
	assert.Equal(t, costEntry{"fal", "whisper", 0.01}, costs.entries[0])
}

func TestTranscribeSegmentsShapeAndNullEnd(t *testing.T) {
	fal := newTestFal(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"segments": [
				{"text": "tail", "start": 4.0, "end": null,
				 "words": [{"text": "tail", "timestamp": [4.0, null], "probability": 0.5}]}
			],
			"inferred_languages": ["fr"]
		}`))
	})
	svc := NewTranscriptionService(fal, "fal-ai/whisper", nil)

	got, err := svc.Transcribe(context.Background(), uuid.New(), "https://x/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "fr", got.Language)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, 4.0, got.Segments[0].StartSec)
	assert.Equal(t, 4.0, got.Segments[0].EndSec)
	require.Len(t, got.Segments[0].Words, 1)
	assert.Equal(t, models.TranscriptWord{Word: "tail", StartSec: 4, EndSec: 4, Confidence: 0.5}, got.Segments[0].Words[0])
}

func TestTranscribeMissingFields(t *testing.T) {
	fal := newTestFal(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	svc := NewTranscriptionService(fal, "fal-ai/whisper", nil)

	got, err := svc.Transcribe(context.Background(), uuid.New(), "https://x/clip.mp4")
	require.NoError(t, err)
	assert.Empty(t, got.Segments)
	assert.NotNil(t, got.Segments)
	assert.Equal(t, LanguageUnknown, got.Language)
}

func TestTranscribeProviderError(t *testing.T) {
	fal := newTestFal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	costs := &fakeCosts{}
	svc := NewTranscriptionService(fal, "fal-ai/whisper", costs)

	_, err := svc.Transcribe(context.Background(), uuid.New(), "https://x/clip.mp4")
	require.Error(t, err)
	assert.Empty(t, costs.entries)
}
