package scheduler

import (
	"testing"
	"time"

	"github.com/bosunhq/bosun/internal/agentrunner"
	"github.com/bosunhq/bosun/internal/kanban"
)

func TestSortCandidatesOrdersByPriorityThenRecencyThenID(t *testing.T) {
	now := time.Now()
	tasks := []kanban.Task{
		{ID: "b", Priority: 1, UpdatedAt: now},
		{ID: "a", Priority: 5, UpdatedAt: now.Add(-time.Hour)},
		{ID: "c", Priority: 5, UpdatedAt: now},
		{ID: "d", Priority: 5, UpdatedAt: now},
	}
	sortCandidates(tasks)

	want := []string{"c", "d", "a", "b"}
	for i, id := range want {
		if string(tasks[i].ID) != id {
			t.Errorf("tasks[%d].ID = %q, want %q (order: %v)", i, tasks[i].ID, id, tasks)
		}
	}
}

func TestBranchNamePrefersExplicitTaskBranch(t *testing.T) {
	task := kanban.Task{ID: "42", BranchName: "custom/branch"}
	if got := branchName(task); got != "custom/branch" {
		t.Errorf("branchName() = %q, want %q", got, "custom/branch")
	}
}

func TestBranchNameDerivesFromTaskID(t *testing.T) {
	task := kanban.Task{ID: "TASK-42"}
	if got := branchName(task); got != "bosun/task-42" {
		t.Errorf("branchName() = %q, want %q", got, "bosun/task-42")
	}
}

func TestResolveExecutorPrefersTaskTagsOverDefaults(t *testing.T) {
	task := kanban.Task{Tags: []string{"sdk:opencode", "model:custom-model", "unrelated"}}
	sdk, model := resolveExecutor(task, "codex", "default-model")
	if sdk != "opencode" || model != "custom-model" {
		t.Errorf("resolveExecutor() = (%q, %q), want (opencode, custom-model)", sdk, model)
	}
}

func TestResolveExecutorFallsBackToDefaults(t *testing.T) {
	task := kanban.Task{}
	sdk, model := resolveExecutor(task, "claude-code", "sonnet")
	if sdk != "claude-code" || model != "sonnet" {
		t.Errorf("resolveExecutor() = (%q, %q), want (claude-code, sonnet)", sdk, model)
	}
}

func TestResolveExecutorDefaultsSDKToCodexWhenUnset(t *testing.T) {
	task := kanban.Task{}
	sdk, _ := resolveExecutor(task, "", "sonnet")
	if sdk != "codex" {
		t.Errorf("resolveExecutor() sdk = %q, want codex", sdk)
	}
}

func TestBuildPromptIncludesDescriptionWhenPresent(t *testing.T) {
	task := kanban.Task{Title: "fix the bug", Description: "details here"}
	got := buildPrompt(task)
	want := "Task: fix the bug\n\ndetails here"
	if got != want {
		t.Errorf("buildPrompt() = %q, want %q", got, want)
	}
}

func TestBuildPromptOmitsEmptyDescription(t *testing.T) {
	task := kanban.Task{Title: "fix the bug"}
	got := buildPrompt(task)
	if got != "Task: fix the bug" {
		t.Errorf("buildPrompt() = %q, want %q", got, "Task: fix the bug")
	}
}

func TestPRBodyIncludesAttemptBranch(t *testing.T) {
	task := kanban.Task{Description: "fixes the thing"}
	got := prBody(task, agentrunner.Outcome{Branch: "bosun/task-1"})
	if !contains(got, "bosun/task-1") || !contains(got, "fixes the thing") {
		t.Errorf("prBody() = %q, want it to include the description and branch", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
