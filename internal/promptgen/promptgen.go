// Package promptgen refines a task's base prompt from the task's title,
// description and any repair guidance, via an LLM call.
// The Enricher interface exposes the single enrichment operation the
// scheduler needs; concrete backends live in anthropic/ and openai/.
package promptgen

import "context"

// Request carries the material an Enricher turns into a refined prompt.
type Request struct {
	TaskTitle       string
	TaskDescription string
	BasePrompt      string
	RepairGuidance  string // non-empty when this is a retry after a classified failure
}

// Enricher produces a refined agent prompt from task context. scheduler.New
// replaces a nil Enricher with Noop, so with no provider configured the
// prompt is BasePrompt plus any repair guidance.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (string, error)
}

// Noop is the zero-configuration Enricher: it returns the base prompt
// unchanged, optionally appended with repair guidance.
type Noop struct{}

func (Noop) Enrich(_ context.Context, req Request) (string, error) {
	if req.RepairGuidance == "" {
		return req.BasePrompt, nil
	}
	return req.BasePrompt + "\n\n" + req.RepairGuidance, nil
}

var _ Enricher = Noop{}
