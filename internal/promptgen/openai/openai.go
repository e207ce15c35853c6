// Package openai implements promptgen.Enricher against the OpenAI chat
// completions API, the same promptgen.Enricher contract the anthropic
// backend satisfies, backed by the real openai-go/v3 client.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/bosunhq/bosun/internal/promptgen"
)

// Enricher calls an OpenAI chat model to refine a task prompt.
type Enricher struct {
	client openai.Client
	model  openai.ChatModel
}

// New constructs an Enricher. An empty model falls back to gpt-4o.
func New(apiKey, model string) *Enricher {
	m := openai.ChatModel(model)
	if model == "" {
		m = openai.ChatModelGPT4o
	}
	return &Enricher{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

func (e *Enricher) Enrich(ctx context.Context, req promptgen.Request) (string, error) {
	instruction := buildInstruction(req)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(instruction),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: enrich prompt: %w", err)
	}
	if len(resp.Choices) == 0 {
		return req.BasePrompt, nil
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return req.BasePrompt, nil
	}
	return content, nil
}

func buildInstruction(req promptgen.Request) string {
	var b strings.Builder
	b.WriteString("Refine the following coding task into a precise, actionable prompt for an autonomous coding agent.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", req.TaskTitle)
	if req.TaskDescription != "" {
		b.WriteString(req.TaskDescription)
		b.WriteString("\n\n")
	}
	if req.RepairGuidance != "" {
		b.WriteString("A previous attempt failed. Guidance for this retry:\n")
		b.WriteString(req.RepairGuidance)
		b.WriteString("\n\n")
	}
	b.WriteString("Base prompt:\n")
	b.WriteString(req.BasePrompt)
	return b.String()
}

var _ promptgen.Enricher = (*Enricher)(nil)
