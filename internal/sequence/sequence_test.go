package sequence

import "testing"

func toolCalls(names ...string) []Message {
	out := make([]Message, len(names))
	for i, n := range names {
		out[i] = Message{Type: MessageToolCall, ToolName: n, Content: "running " + n}
	}
	return out
}

func TestAnalyzeDetectsToolLoop(t *testing.T) {
	msgs := toolCalls("grep", "grep", "cat", "grep", "cat")
	res := Analyze(msgs)
	if !containsPattern(res.Patterns, PatternToolLoop) {
		t.Errorf("expected tool_loop in %v", res.Patterns)
	}
}

func TestAnalyzeDetectsAnalysisParalysis(t *testing.T) {
	msgs := toolCalls("read", "grep", "cat", "find", "list", "read", "grep", "cat", "find", "list")
	res := Analyze(msgs)
	if !containsPattern(res.Patterns, PatternAnalysisParalysis) {
		t.Errorf("expected analysis_paralysis in %v", res.Patterns)
	}
}

func TestAnalyzeDetectsPlanStuck(t *testing.T) {
	msgs := []Message{
		{Type: MessageAgentMessage, Content: "Here's the plan: refactor the module step by step."},
	}
	res := Analyze(msgs)
	if res.Primary != PatternPlanStuck {
		t.Errorf("Primary = %v, want %v", res.Primary, PatternPlanStuck)
	}
}

func TestAnalyzeDetectsFalseCompletion(t *testing.T) {
	msgs := []Message{
		{Type: MessageAgentMessage, Content: "Task complete, pushed to origin."},
	}
	res := Analyze(msgs)
	if !containsPattern(res.Patterns, PatternFalseCompletion) {
		t.Errorf("expected false_completion when no git activity occurred, got %v", res.Patterns)
	}
}

func TestAnalyzeDetectsCommitsNoPush(t *testing.T) {
	msgs := []Message{
		{Type: MessageToolCall, ToolName: "bash", Content: "git commit -am 'fix'"},
		{Type: MessageAgentMessage, Content: "Task complete."},
	}
	res := Analyze(msgs)
	if !containsPattern(res.Patterns, PatternCommitsNoPush) {
		t.Errorf("expected commits_no_push, got %v", res.Patterns)
	}
}

func TestAnalyzeDetectsErrorLoop(t *testing.T) {
	msgs := []Message{
		{Type: MessageError, Content: "panic: nil pointer dereference"},
		{Type: MessageError, Content: "panic: nil pointer dereference"},
		{Type: MessageError, Content: "panic: nil pointer dereference"},
	}
	res := Analyze(msgs)
	if !containsPattern(res.Patterns, PatternErrorLoop) {
		t.Errorf("expected error_loop, got %v", res.Patterns)
	}
}

func TestAnalyzeDetectsRateLimited(t *testing.T) {
	msgs := []Message{
		{Type: MessageError, Content: "429 too many requests"},
		{Type: MessageError, Content: "rate limit exceeded, try later"},
	}
	res := Analyze(msgs)
	if res.Primary != PatternRateLimited {
		t.Errorf("Primary = %v, want %v (rate_limited is top priority)", res.Primary, PatternRateLimited)
	}
}

func TestAnalyzeNoPatternsOnCleanSession(t *testing.T) {
	msgs := []Message{
		{Type: MessageToolCall, ToolName: "edit", Content: "edit main.go"},
		{Type: MessageAgentMessage, Content: "Implemented the change."},
	}
	res := Analyze(msgs)
	if res.Primary != "" {
		t.Errorf("Primary = %v, want empty", res.Primary)
	}
	if len(res.Patterns) != 0 {
		t.Errorf("Patterns = %v, want empty", res.Patterns)
	}
}

func TestInterventionPromptCoversEveryDetectedPattern(t *testing.T) {
	for _, p := range priority {
		if InterventionPrompt(p) == "" {
			t.Errorf("InterventionPrompt(%v) returned empty string", p)
		}
	}
}

func TestInterventionPromptUnknownPatternIsEmpty(t *testing.T) {
	if got := InterventionPrompt(Pattern("nonexistent")); got != "" {
		t.Errorf("InterventionPrompt(unknown) = %q, want empty", got)
	}
}

func containsPattern(patterns []Pattern, target Pattern) bool {
	for _, p := range patterns {
		if p == target {
			return true
		}
	}
	return false
}
