package agentrunner

import (
	"testing"

	"github.com/bosunhq/bosun/internal/sequence"
)

func TestBuildArgvPerSDK(t *testing.T) {
	tests := []struct {
		sdk   string
		model string
		want  []string
	}{
		{"codex", "o3", []string{"codex", "exec", "--model", "o3", "do the thing"}},
		{"opencode", "sonnet", []string{"opencode", "run", "--model", "sonnet", "do the thing"}},
		{"claude-code", "sonnet", []string{"claude", "--print", "--model", "sonnet", "do the thing"}},
		{"unknown-sdk", "sonnet", []string{"claude", "--print", "--model", "sonnet", "do the thing"}},
	}

	for _, tt := range tests {
		t.Run(tt.sdk, func(t *testing.T) {
			got := BuildArgv(tt.sdk, tt.model, "do the thing")
			if len(got) != len(tt.want) {
				t.Fatalf("BuildArgv() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("BuildArgv()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFingerprintTakesFirstNonEmptyLine(t *testing.T) {
	raw := "\n\npanic: nil pointer dereference\nat main.go:42"
	got := fingerprint(raw)
	if got != "panic: nil pointer dereference" {
		t.Errorf("fingerprint() = %q, want %q", got, "panic: nil pointer dereference")
	}
}

func TestFingerprintEmptyInput(t *testing.T) {
	if got := fingerprint(""); got != "empty" {
		t.Errorf("fingerprint(\"\") = %q, want %q", got, "empty")
	}
}

func TestTruncateRespectsLimit(t *testing.T) {
	if got := truncate("hello", 3); got != "hel" {
		t.Errorf("truncate() = %q, want %q", got, "hel")
	}
	if got := truncate("hi", 10); got != "hi" {
		t.Errorf("truncate() = %q, want %q", got, "hi")
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("a\nb\nc")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitLines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitLines()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassifyLineDistinguishesToolCallsAndErrors(t *testing.T) {
	toolMsg := classifyLine("tool_call: grep")
	if toolMsg.Type != sequence.MessageToolCall || toolMsg.ToolName != "grep" {
		t.Errorf("classifyLine(tool_call) = %+v, want tool_call/grep", toolMsg)
	}

	errMsg := classifyLine("Error: connection refused")
	if errMsg.Type != sequence.MessageError {
		t.Errorf("classifyLine(error) = %+v, want type error", errMsg)
	}

	plainMsg := classifyLine("implemented the requested change")
	if plainMsg.Type != sequence.MessageAgentMessage {
		t.Errorf("classifyLine(plain) = %+v, want type agent_message", plainMsg)
	}
}
