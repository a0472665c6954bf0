package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultCopyModel = "gpt-5-mini"

	maxCaptionLen        = 2200
	maxHookLen           = 50
	maxCTALen            = 80
	maxTranscriptExcerpt = 500

	// USD per 1K tokens
	copyInputCostPer1K  = 0.003
	copyOutputCostPer1K = 0.015
)

var hashtagRe = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// chatCompleter is the subset of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CopywriterService writes caption, hashtags, hook and CTA for a render.
type CopywriterService struct {
	client chatCompleter
	model  string
	costs  CostRecorder
	log    zerolog.Logger
}

func NewCopywriterService(apiKey, model string, costs CostRecorder) *CopywriterService {
	return newCopywriterService(openai.NewClient(apiKey), model, costs)
}

func newCopywriterService(client chatCompleter, model string, costs CostRecorder) *CopywriterService {
	if model == "" {
		model = defaultCopyModel
	}
	return &CopywriterService{
		client: client,
		model:  model,
		costs:  costs,
		log:    logging.WithComponent("copywriter"),
	}
}

// GenerateCopy requests social copy in JSON mode. Output that does not parse
// into the expected fields fails with ErrInvalidResponse.
func (s *CopywriterService) GenerateCopy(ctx context.Context, userID uuid.UUID, contentType, style string, copyCtx *models.CopyContext) (models.CopyResult, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildCopyPrompt(contentType, style, copyCtx),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return models.CopyResult{}, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.CopyResult{}, fmt.Errorf("%w: no choices from openai", ErrInvalidResponse)
	}

	cost := (float64(resp.Usage.PromptTokens)*copyInputCostPer1K + float64(resp.Usage.CompletionTokens)*copyOutputCostPer1K) / 1000
	recordCost(ctx, s.costs, userID, "openai", "chat", cost)

	raw := resp.Choices[0].Message.Content
	result, err := parseCopy(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("raw", truncate(raw, 2000)).Msg("copy response rejected")
		return models.CopyResult{}, err
	}
	return result, nil
}

func buildCopyPrompt(contentType, style string, copyCtx *models.CopyContext) string {
	var contextParts []string
	if copyCtx != nil {
		if copyCtx.Narrative != "" {
			contextParts = append(contextParts, "Narrative: "+copyCtx.Narrative)
		}
		if copyCtx.TranscriptExcerpt != "" {
			contextParts = append(contextParts, "Transcript excerpt: "+truncateRunes(copyCtx.TranscriptExcerpt, maxTranscriptExcerpt))
		}
		if copyCtx.Mood != "" {
			contextParts = append(contextParts, "Mood: "+copyCtx.Mood)
		}
	}

	contextBlock := ""
	if len(contextParts) > 0 {
		contextBlock = "\n\nContext:\n" + strings.Join(contextParts, "\n")
	}

	return fmt.Sprintf(`Generate social media copy for a %s in "%s" style.%s

Return ONLY valid JSON with these exact fields:
- caption: engaging caption for Instagram (max 2200 characters)
- hashtags: array of 3-5 relevant hashtag words (without # prefix)
- hookText: attention-grabbing text for the first frame (max 50 characters)
- ctaText: clear call-to-action text (max 80 characters)

Respond with ONLY valid JSON, no markdown.`, contentType, style, contextBlock)
}

type rawCopy struct {
	Caption  *string `json:"caption"`
	Hashtags []any   `json:"hashtags"`
	HookText *string `json:"hookText"`
	CTAText  *string `json:"ctaText"`
}

// parseCopy validates and sanitizes the model output.
func parseCopy(raw string) (models.CopyResult, error) {
	var rc rawCopy
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &rc); err != nil {
		return models.CopyResult{}, fmt.Errorf("%w: copy is not valid JSON: %v", ErrInvalidResponse, err)
	}
	if rc.Caption == nil || rc.HookText == nil || rc.CTAText == nil || rc.Hashtags == nil {
		return models.CopyResult{}, fmt.Errorf("%w: copy is missing required fields", ErrInvalidResponse)
	}

	return models.CopyResult{
		Caption:  truncateRunes(*rc.Caption, maxCaptionLen),
		Hashtags: sanitizeHashtags(rc.Hashtags),
		HookText: truncateRunes(*rc.HookText, maxHookLen),
		CTAText:  truncateRunes(*rc.CTAText, maxCTALen),
	}, nil
}

// sanitizeHashtags drops non-strings, strips leading '#' and keeps only
// entries made of letters, digits and '_', in their original order.
func sanitizeHashtags(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		tag, ok := v.(string)
		if !ok {
			continue
		}
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		if tag == "" || !hashtagRe.MatchString(tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}
