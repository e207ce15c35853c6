package openai

import (
	"strings"
	"testing"

	"github.com/bosunhq/bosun/internal/promptgen"
)

func TestBuildInstructionIncludesTaskAndBasePrompt(t *testing.T) {
	got := buildInstruction(promptgen.Request{
		TaskTitle:       "fix the login bug",
		TaskDescription: "users can't sign in with SSO",
		BasePrompt:      "investigate and fix",
	})

	for _, want := range []string{"fix the login bug", "users can't sign in with SSO", "investigate and fix"} {
		if !strings.Contains(got, want) {
			t.Errorf("buildInstruction() missing %q in:\n%s", want, got)
		}
	}
}

func TestBuildInstructionIncludesRepairGuidanceOnRetry(t *testing.T) {
	got := buildInstruction(promptgen.Request{
		TaskTitle:      "fix the build",
		BasePrompt:     "retry",
		RepairGuidance: "previous attempt left a syntax error in main.go",
	})

	if !strings.Contains(got, "A previous attempt failed") {
		t.Error("expected repair guidance preamble to be included")
	}
	if !strings.Contains(got, "previous attempt left a syntax error in main.go") {
		t.Error("expected the guidance text itself to be included")
	}
}
