// Package workstream tails the append-only work-stream log produced by every
// concurrent agent runner, reconstructs per-session rolling state, and emits
// deduplicated alerts. There is no repository and no persistence — the
// analyzer owns this state directly for the lifetime of a session.
package workstream

import (
	"encoding/json"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
)

// EventType is the closed set of work-stream log event kinds.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventToolCall     EventType = "tool_call"
	EventError        EventType = "error"
	EventSessionEnd   EventType = "session_end"
	EventHeartbeat    EventType = "heartbeat"
)

// LogLine is one JSON object as it appears on the work-stream log, one per
// line.
type LogLine struct {
	AttemptID domain.AttemptID `json:"attempt_id"`
	EventType EventType        `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	TaskID    domain.TaskID    `json:"task_id,omitempty"`
	Executor  string           `json:"executor,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

type errorData struct {
	ErrorFingerprint string `json:"error_fingerprint"`
	ErrorMessage     string `json:"error_message"`
}

type toolCallData struct {
	ToolName string `json:"tool_name"`
}

type sessionStartData struct {
	PromptType     string `json:"prompt_type"`
	FollowupReason string `json:"followup_reason,omitempty"`
}

type sessionEndData struct {
	CompletionStatus string  `json:"completion_status"`
	DurationMs       int64   `json:"duration_ms"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// errorEvent is a single recorded error occurrence within a session.
type errorEvent struct {
	Fingerprint string
	Message     string
	Timestamp   time.Time
}

// toolCallEvent is a single recorded tool invocation within a session.
type toolCallEvent struct {
	Tool      string
	Timestamp time.Time
}

// AgentSession is the analyzer's rolling per-attempt state.
type AgentSession struct {
	AttemptID    domain.AttemptID
	TaskID       domain.TaskID
	Executor     string
	StartedAt    time.Time
	LastActivity time.Time
	Errors       []errorEvent
	ToolCalls    []toolCallEvent
	RestartCount int
	Ended        bool
}

// Severity mirrors the alert-log severity taxonomy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType is the closed set of detector names.
type AlertType string

const (
	AlertErrorLoop           AlertType = "error_loop"
	AlertToolLoop            AlertType = "tool_loop"
	AlertExcessiveRestarts   AlertType = "excessive_restarts"
	AlertCostAnomaly         AlertType = "cost_anomaly"
	AlertFailedSessionErrors AlertType = "failed_session_high_errors"
	AlertStuckAgent          AlertType = "stuck_agent"
)

// Alert is one line written to the alerts log and the event bus.
type Alert struct {
	Type           AlertType     `json:"type"`
	Timestamp      time.Time     `json:"timestamp"`
	AttemptID      domain.AttemptID `json:"attempt_id,omitempty"`
	TaskID         domain.TaskID `json:"task_id,omitempty"`
	Executor       string        `json:"executor,omitempty"`
	Severity       Severity      `json:"severity"`
	Recommendation string        `json:"recommendation"`
	CooldownKey    string        `json:"_cooldown_key"`

	Occurrences      int      `json:"occurrences,omitempty"`
	ToolName         string   `json:"tool_name,omitempty"`
	WindowMs         int64    `json:"window_ms,omitempty"`
	IdleTimeMs       int64    `json:"idle_time_ms,omitempty"`
	ThresholdMs      int64    `json:"threshold_ms,omitempty"`
	CostUSD          float64  `json:"cost_usd,omitempty"`
	ErrorCount       int      `json:"error_count,omitempty"`
	ErrorFingerprints []string `json:"error_fingerprints,omitempty"`
}

// cooldownKey builds the (type, scope) key used by both the dedup map and the
// alert's serialized _cooldown_key. Task-scoped alert types key on taskId;
// all others key on attemptId.
func cooldownKey(t AlertType, taskID domain.TaskID, attemptID domain.AttemptID) string {
	if t == AlertFailedSessionErrors || t == AlertStuckAgent {
		return string(t) + "|" + taskID.String()
	}
	return string(t) + "|" + attemptID.String()
}

func cooldownFor(t AlertType) time.Duration {
	if t == AlertFailedSessionErrors {
		return time.Hour
	}
	return 5 * time.Minute
}
