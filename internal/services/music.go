package services

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
)

const (
	// DefaultMusicMood is used when neither the request nor the plan names a mood.
	DefaultMusicMood = "upbeat energetic"

	musicCostUSD = 0.01
)

// MusicService generates a background track with a fal music model.
type MusicService struct {
	fal   *FalClient
	model string
	costs CostRecorder
}

func NewMusicService(fal *FalClient, model string, costs CostRecorder) *MusicService {
	return &MusicService{fal: fal, model: model, costs: costs}
}

type falMusicOutput struct {
	AudioURL  string `json:"audio_url"`
	AudioFile *struct {
		URL string `json:"url"`
	} `json:"audio_file"`
}

// GenerateMusic returns the URL of a generated track for mood.
func (s *MusicService) GenerateMusic(ctx context.Context, userID uuid.UUID, mood string, durationSec float64) (models.MusicResult, error) {
	if mood == "" {
		mood = DefaultMusicMood
	}
	input := map[string]any{
		"prompt":   mood + " background music for social media content",
		"duration": durationSec,
	}

	var out falMusicOutput
	if err := s.fal.Run(ctx, s.model, input, &out); err != nil {
		return models.MusicResult{}, fmt.Errorf("music generation: %w", err)
	}

	recordCost(ctx, s.costs, userID, "fal", "cassetteai", musicCostUSD)

	musicURL := out.AudioURL
	if musicURL == "" && out.AudioFile != nil {
		musicURL = out.AudioFile.URL
	}
	if musicURL == "" {
		return models.MusicResult{}, fmt.Errorf("%w: music model returned no audio url", ErrEmptyResult)
	}

	return models.MusicResult{MusicURL: musicURL, Cost: musicCostUSD}, nil
}

// DownloadTrack saves the generated track into dir and returns its path.
func (s *MusicService) DownloadTrack(ctx context.Context, musicURL, dir string) (string, error) {
	ext := ".mp3"
	if u, err := url.Parse(musicURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	dest := filepath.Join(dir, "music"+ext)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create music file: %w", err)
	}

	n, err := s.fal.Fetch(ctx, musicURL, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("music track is empty")
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("music download: %w", err)
	}
	return dest, nil
}
