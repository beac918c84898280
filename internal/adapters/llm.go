package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/iamwavecut/forumwarden/internal/adapters/llm"
)

// LLM defines the interface for language model operations
type LLM interface {
	// ChatCompletion performs a chat completion request
	ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error)
}

const assessPrompt = `You help forum moderators review flagged content.
Read the content below and answer in one or two short sentences: what it is,
and whether it looks like spam, abuse or a false positive. Answer in the
language of the content. Do not repeat the content.`

var ErrEmptyCompletion = errors.New("no response choices available")

// Assess asks the model for a short moderator-facing opinion on content.
func Assess(ctx context.Context, l LLM, content string) (string, error) {
	resp, err := l.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: assessPrompt},
		{Role: llm.RoleUser, Content: content},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrEmptyCompletion
	}
	return answer, nil
}
