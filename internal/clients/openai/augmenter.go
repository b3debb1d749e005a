// Package openai provides the message augmentation capability. Callers treat
// augmentation as best effort: any error here means "use the original text".
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

const augmentSystemPrompt = "You rewrite short marketing messages so each recipient receives a naturally " +
	"varied phrasing. Keep the meaning, tone and language of the original message. Keep any names, links " +
	"and numbers intact. Reply with the rewritten message only."

// Augmenter rewrites rendered campaign messages through a chat model.
type Augmenter struct {
	client openai.Client
	logger *observability.Logger
	model  openai.ChatModel
}

// NewAugmenter creates an augmenter. The API key must be non-empty.
func NewAugmenter(apiKey string, logger *observability.Logger) (*Augmenter, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	return &Augmenter{
		client: openai.NewClient(openaiOption.WithAPIKey(apiKey)),
		logger: logger,
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

// Augment returns a rewritten variant of text. An empty completion is an
// error so the caller falls back to the original.
func (a *Augmenter) Augment(ctx context.Context, text string) (string, error) {
	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(augmentSystemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		a.logger.Error(ctx, "Failed to augment message", err)
		return "", fmt.Errorf("failed to augment message: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("augmentation returned no choices")
	}
	out := strings.TrimSpace(completion.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("augmentation returned empty content")
	}
	return out, nil
}
