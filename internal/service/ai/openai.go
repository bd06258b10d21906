package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	log "github.com/sirupsen/logrus"
)

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	system string
}

// NewOpenAIGenerator returns a generator for baseURL. An empty apiKey means
// unauthenticated access, which some self-hosted endpoints allow.
func NewOpenAIGenerator(baseURL, apiKey, model, system string, extra ...option.RequestOption) *OpenAIGenerator {
	options := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey == "" {
		log.Info("OPENAI_API_KEY is not set, will try unauthenticated access")
	} else {
		options = append(options, option.WithAPIKey(apiKey))
	}
	options = append(options, extra...)

	client := openai.NewClient(options...)
	return &OpenAIGenerator{client: &client, model: model, system: system}
}

// Generate returns the first choice's content.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.system),
			openai.UserMessage(prompt),
		},
		Model: g.model,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("client didn't return any content choices")
	}
	return resp.Choices[0].Message.Content, nil
}
