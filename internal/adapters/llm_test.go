package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/iamwavecut/forumwarden/internal/adapters/llm"
)

type scriptedLLM struct {
	got  []llm.ChatCompletionMessage
	resp llm.ChatCompletionResponse
	err  error
}

func (s *scriptedLLM) ChatCompletion(_ context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	s.got = messages
	return s.resp, s.err
}

func TestAssessSendsContentAsUserMessage(t *testing.T) {
	t.Parallel()

	model := &scriptedLLM{resp: llm.ChatCompletionResponse{Choices: []llm.ChatCompletionChoice{
		{Message: llm.ChatCompletionMessage{Content: "  Looks like link spam.  "}},
	}}}

	got, err := Assess(context.Background(), model, "buy cheap followers")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if got != "Looks like link spam." {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(model.got) != 2 || model.got[0].Role != llm.RoleSystem || model.got[1].Content != "buy cheap followers" {
		t.Fatalf("unexpected prompt: %#v", model.got)
	}
}

func TestAssessEmptyAnswer(t *testing.T) {
	t.Parallel()

	_, err := Assess(context.Background(), &scriptedLLM{}, "x")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
