package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiDefaultModel is used when no model is configured.
const GeminiDefaultModel = "gemini-2.0-flash"

// GeminiCompleter sends refinement prompts to Google Gemini.
type GeminiCompleter struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Complete opens a client per call, as refinement runs at most once per scan.
func (g *GeminiCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	if g.APIKey == "" {
		return "", errors.New("gemini: api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	name := strings.TrimSpace(g.Model)
	if name == "" {
		name = GeminiDefaultModel
	}
	m := cl.GenerativeModel(name)
	if m == nil {
		return "", fmt.Errorf("gemini: model %q is nil", name)
	}

	maxTokens := int32(g.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temp := float32(g.Temperature)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", err
	}
	txt := firstText(resp)
	if txt == "" {
		return "", ErrEmptyResponse
	}
	return txt, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
