package provider

import (
	"context"
	"iter"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// DefaultGeminiModel is used when Config.Model is empty.
const DefaultGeminiModel = "gemini-2.5-pro-exp-03-25"

// generateStreamFunc matches genai's Models.GenerateContentStream.
type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// GeminiProvider streams completions from the Gemini API.
type GeminiProvider struct {
	model    string
	generate generateStreamFunc
}

// NewGemini builds a Gemini adapter authenticated with cfg.APIKey.
func NewGemini(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, wrap(err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{model: model, generate: client.Models.GenerateContentStream}, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string { return Gemini }

// safetySettings blocks medium and above for the four standard categories.
func safetySettings() []*genai.SafetySetting {
	cats := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(cats))
	for _, c := range cats {
		out = append(out, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return out
}

// geminiContents maps history plus the new message to Gemini contents.
// The assistant role is called "model" upstream.
func geminiContents(history []Turn, message string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.Content}}})
	}
	return append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: message}}})
}

// chunkText concatenates the visible text parts of the first candidate.
// It returns "" for chunks without candidates or text.
func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, history []Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cfg := &genai.GenerateContentConfig{SafetySettings: safetySettings()}
		for resp, err := range p.generate(ctx, p.model, geminiContents(history, message), cfg) {
			if err != nil {
				yield("", wrap(err))
				return
			}
			text := chunkText(resp)
			if text == "" {
				if resp != nil && resp.PromptFeedback != nil {
					log.Debug().
						Str("provider", Gemini).
						Str("block_reason", string(resp.PromptFeedback.BlockReason)).
						Msg("chunk without text skipped")
				}
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
