package workstream

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/eventbus"
)

func newTestAnalyzer(t *testing.T, cfg Config) (*Analyzer, string) {
	t.Helper()
	dir := t.TempDir()
	workStreamLog := filepath.Join(dir, "workstream.log")
	alertsLog := filepath.Join(dir, "alerts.log")
	bus := eventbus.New(90*time.Second, 30*time.Second)
	return New(cfg, workStreamLog, alertsLog, bus), alertsLog
}

func logLine(attemptID domain.AttemptID, taskID domain.TaskID, evt EventType, ts time.Time, data any) []byte {
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(LogLine{
		AttemptID: attemptID,
		TaskID:    taskID,
		EventType: evt,
		Timestamp: ts,
		Data:      raw,
	})
	return b
}

func TestHandleLineToolCallsAreRecordedInSession(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{ToolLoopThreshold: 3, ErrorLoopThreshold: 5})
	base := time.Now()

	for i := 0; i < 3; i++ {
		line := logLine("att-1", "task-1", EventToolCall, base.Add(time.Duration(i)*time.Second), toolCallData{ToolName: "grep"})
		a.handleLine(line)
	}

	sessions := a.Sessions()
	if len(sessions) != 1 || len(sessions[0].ToolCalls) != 3 {
		t.Fatalf("Sessions() = %+v, want one session with 3 tool calls", sessions)
	}
}

func TestHandleLineErrorLoopTracksFingerprint(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{ToolLoopThreshold: 5, ErrorLoopThreshold: 2})
	base := time.Now()

	a.handleLine(logLine("att-1", "task-1", EventError, base, errorData{ErrorFingerprint: "panic-x"}))
	a.handleLine(logLine("att-1", "task-1", EventError, base.Add(time.Second), errorData{ErrorFingerprint: "panic-x"}))

	sessions := a.Sessions()
	if len(sessions) != 1 || len(sessions[0].Errors) != 2 {
		t.Fatalf("Sessions() = %+v, want one session with 2 errors", sessions)
	}
}

func TestHandleLineSessionStartTracksRestarts(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{ToolLoopThreshold: 5, ErrorLoopThreshold: 5})
	base := time.Now()

	for i := 0; i < 3; i++ {
		a.handleLine(logLine("att-1", "task-1", EventSessionStart, base.Add(time.Duration(i)*time.Minute), sessionStartData{PromptType: "retry"}))
	}

	sessions := a.Sessions()
	if len(sessions) != 1 || sessions[0].RestartCount != 3 {
		t.Fatalf("Sessions() = %+v, want RestartCount=3", sessions)
	}
}

func TestHandleLineSessionEndMarksEnded(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{ToolLoopThreshold: 5, ErrorLoopThreshold: 5, CostAnomalyThresholdUSD: 100})
	base := time.Now()

	a.handleLine(logLine("att-1", "task-1", EventSessionStart, base, sessionStartData{PromptType: "initial"}))
	a.handleLine(logLine("att-1", "task-1", EventSessionEnd, base.Add(time.Minute), sessionEndData{CompletionStatus: "succeeded"}))

	sessions := a.Sessions()
	if len(sessions) != 1 || !sessions[0].Ended {
		t.Fatalf("Sessions() = %+v, want Ended=true", sessions)
	}
}

func TestHandleLineIgnoresReplayedLinesOlderThanCutoff(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{ReplayStartup: true, InitialReplayMaxSessionAge: time.Hour})
	old := time.Now().Add(-2 * time.Hour)

	a.handleLine(logLine("att-1", "task-1", EventSessionStart, old, sessionStartData{PromptType: "initial"}))

	if len(a.Sessions()) != 0 {
		t.Errorf("Sessions() = %+v, want none (line predates the replay cutoff)", a.Sessions())
	}
}

func TestSweepStuckEmitsForIdleSessions(t *testing.T) {
	a, alertsLog := newTestAnalyzer(t, Config{StuckThreshold: time.Minute})
	a.handleLine(logLine("att-1", "task-1", EventSessionStart, time.Now().Add(-time.Hour), sessionStartData{PromptType: "initial"}))

	a.sweepStuck()

	lines, err := readAllLines(alertsLog)
	if err != nil {
		t.Fatalf("readAllLines() error = %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("alerts log has %d lines, want 1", len(lines))
	}
	var al Alert
	if err := json.Unmarshal(lines[0], &al); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if al.Type != AlertStuckAgent {
		t.Errorf("Alert.Type = %v, want %v", al.Type, AlertStuckAgent)
	}
}

func TestSweepStuckSkipsEndedSessions(t *testing.T) {
	a, alertsLog := newTestAnalyzer(t, Config{StuckThreshold: time.Minute, ErrorLoopThreshold: 5, ToolLoopThreshold: 5})
	base := time.Now().Add(-time.Hour)
	a.handleLine(logLine("att-1", "task-1", EventSessionStart, base, sessionStartData{PromptType: "initial"}))
	a.handleLine(logLine("att-1", "task-1", EventSessionEnd, base.Add(time.Second), sessionEndData{CompletionStatus: "succeeded"}))

	a.sweepStuck()

	lines, err := readAllLines(alertsLog)
	if err != nil {
		t.Fatalf("readAllLines() error = %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("alerts log has %d lines, want 0 (session already ended)", len(lines))
	}
}

func TestSweepIdleSessionsEvictsOldSessions(t *testing.T) {
	a, _ := newTestAnalyzer(t, Config{})
	a.handleLine(logLine("att-1", "task-1", EventSessionStart, time.Now().Add(-2*time.Hour), sessionStartData{PromptType: "initial"}))

	a.sweepIdleSessions()

	if len(a.Sessions()) != 0 {
		t.Errorf("Sessions() = %+v, want none (idle beyond the eviction window)", a.Sessions())
	}
}

func readAllLines(path string) ([][]byte, error) {
	tl := &tailer{path: path}
	return tl.poll()
}
