// Package ai holds the recommendation service backends: an eino chain over
// an Ark chat model, and any OpenAI-compatible endpoint.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/config"
)

// ChainGenerator runs a system+user prompt through an eino chain.
type ChainGenerator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
}

// NewArkGenerator builds the chat model from cfg and wraps it in a chain.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig, system string) (*ChainGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainGenerator(ctx, chatModel, system)
}

// NewChainGenerator compiles the prompt template and chatModel into a chain.
func NewChainGenerator(ctx context.Context, chatModel model.ChatModel, system string) (*ChainGenerator, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile recommendation chain: %w", err)
	}
	return &ChainGenerator{chain: runnable, system: system}, nil
}

// Generate returns the model's answer to prompt.
func (g *ChainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.chain.Invoke(ctx, map[string]any{
		"system": g.system,
		"query":  prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run recommendation chain: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("recommendation chain returned no message")
	}

	log.WithField("length", len(resp.Content)).Debug("recommendation generated")
	return strings.TrimSpace(resp.Content), nil
}
