// Package anthropic implements promptgen.Enricher against the Anthropic
// Messages API via the anthropic-sdk-go client.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bosunhq/bosun/internal/promptgen"
)

// Enricher calls Claude to refine a task prompt before the agent runs.
type Enricher struct {
	client anthropic.Client
	model  anthropic.Model
}

// New constructs an Enricher. An empty model falls back to the latest
// Sonnet model.
func New(apiKey, model string) *Enricher {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_7SonnetLatest
	}
	return &Enricher{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

func (e *Enricher) Enrich(ctx context.Context, req promptgen.Request) (string, error) {
	instruction := buildInstruction(req)

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(instruction)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: enrich prompt: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return req.BasePrompt, nil
	}
	return out.String(), nil
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
