package classifier

import (
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
)

// Action is the recovery decision the scheduler acts on.
type Action string

const (
	ActionRetryWithPrompt Action = "retry_with_prompt"
	ActionCooldown        Action = "cooldown"
	ActionNewSession       Action = "new_session"
	ActionBlock            Action = "block"
	ActionPauseExecutor    Action = "pause_executor"
	ActionManual           Action = "manual"
)

// Decision is the result of RecordError: what the scheduler should do next.
type Decision struct {
	Action     Action
	Prompt     string
	CooldownMs int64
	Reason     string
	ErrorCount int
}

type taskRecord struct {
	classification Pattern
	consecutive    int
	attemptsByKind map[Pattern]int
	history        []historyEntry
}

type historyEntry struct {
	Pattern    Pattern
	Timestamp  time.Time
	Action     Action
	Confidence float64
	Details    string
}

const maxHistoryEntries = 50

// Policy is the per-process recovery-policy state machine. It owns
// ErrorRecord per task and a rolling global rate-limit hit list; the
// scheduler only ever reads decisions back, never mutates this state.
type Policy struct {
	mu                   sync.Mutex
	records              map[domain.TaskID]*taskRecord
	maxConsecutiveErrors int
	rateLimitCooldown    time.Duration
	rateLimitHits        []time.Time
}

// NewPolicy constructs a Policy. maxConsecutiveErrors defaults to 5,
// rateLimitCooldown to 60s.
func NewPolicy(maxConsecutiveErrors int, rateLimitCooldown time.Duration) *Policy {
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = 5
	}
	if rateLimitCooldown <= 0 {
		rateLimitCooldown = 60 * time.Second
	}
	return &Policy{
		records:              make(map[domain.TaskID]*taskRecord),
		maxConsecutiveErrors: maxConsecutiveErrors,
		rateLimitCooldown:    rateLimitCooldown,
	}
}

// RecordError classifies raw output, updates the per-task record, and
// returns the recovery decision.
func (p *Policy) RecordError(taskID domain.TaskID, raw string) (Classification, Decision) {
	c := Classify(raw)
	return c, p.decide(taskID, c)
}

func (p *Policy) decide(taskID domain.TaskID, c Classification) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[taskID]
	if !ok {
		rec = &taskRecord{attemptsByKind: make(map[Pattern]int)}
		p.records[taskID] = rec
	}
	rec.consecutive++
	rec.attemptsByKind[c.Pattern]++
	rec.classification = c.Pattern
	rec.appendHistory(historyEntry{Pattern: c.Pattern, Timestamp: time.Now(), Confidence: c.Confidence, Details: c.Details})

	if rec.consecutive >= p.maxConsecutiveErrors {
		d := Decision{Action: ActionBlock, Reason: "max consecutive errors reached", ErrorCount: rec.consecutive}
		rec.history[len(rec.history)-1].Action = d.Action
		return d
	}

	attempt := rec.attemptsByKind[c.Pattern]
	var d Decision
	switch c.Pattern {
	case PatternAuthError, PatternModelError, PatternContentPolicy, PatternOOMKill:
		d = Decision{Action: ActionBlock, Reason: "non-retryable pattern: " + string(c.Pattern)}
	case PatternRequestError:
		if attempt <= 2 {
			d = Decision{Action: ActionRetryWithPrompt, Prompt: guidancePrompt(c.Pattern), Reason: "request error, retrying"}
		} else {
			d = Decision{Action: ActionBlock, Reason: "request error exhausted retries"}
		}
	case PatternRateLimit:
		p.rateLimitHits = append(p.rateLimitHits, time.Now())
		if p.shouldPauseExecutorLocked() {
			d = Decision{Action: ActionPauseExecutor, Reason: "rate-limit hits exceeded threshold in last 5m"}
		} else {
			d = Decision{Action: ActionCooldown, CooldownMs: p.rateLimitCooldown.Milliseconds(), Reason: "rate limited"}
		}
	case PatternTokenOverflow:
		d = Decision{Action: ActionNewSession, Reason: "token overflow, starting fresh context"}
	case PatternAPIError:
		if attempt <= 2 {
			d = Decision{Action: ActionCooldown, CooldownMs: p.rateLimitCooldown.Milliseconds(), Reason: "transient api error"}
		} else {
			d = Decision{Action: ActionBlock, Reason: "api error exhausted cooldowns"}
		}
	case PatternSessionExpired:
		d = Decision{Action: ActionNewSession, Reason: "session expired"}
	case PatternBuildFailure, PatternTestFailure, PatternPushFailure:
		if attempt <= 2 {
			d = Decision{Action: ActionRetryWithPrompt, Prompt: guidancePrompt(c.Pattern), Reason: "retrying " + string(c.Pattern)}
		} else {
			d = Decision{Action: ActionManual, Reason: string(c.Pattern) + " exhausted retries"}
		}
	case PatternLintFailure:
		if attempt <= 2 {
			d = Decision{Action: ActionRetryWithPrompt, Prompt: guidancePrompt(c.Pattern), Reason: "retrying lint failure"}
		} else {
			d = Decision{Action: ActionManual, Reason: "lint failure exhausted retries"}
		}
	case PatternGitConflict:
		if attempt <= 1 {
			d = Decision{Action: ActionRetryWithPrompt, Prompt: guidancePrompt(c.Pattern), Reason: "resolving conflict"}
		} else {
			d = Decision{Action: ActionManual, Reason: "git conflict unresolved"}
		}
	case PatternCodexSandbox:
		if attempt <= 1 {
			d = Decision{Action: ActionRetryWithPrompt, Prompt: guidancePrompt(c.Pattern), Reason: "retrying sandbox violation"}
		} else {
			d = Decision{Action: ActionBlock, Reason: "sandbox violation persists"}
		}
	case PatternPlanStuck:
		d = Decision{Action: ActionRetryWithPrompt, Prompt: "Stop planning. Implement the change now.", Reason: "plan stuck"}
	default:
		if attempt <= 2 {
			d = Decision{Action: ActionCooldown, CooldownMs: p.rateLimitCooldown.Milliseconds(), Reason: "unknown pattern, cooling down"}
		} else {
			d = Decision{Action: ActionManual, Reason: "unknown pattern exhausted cooldowns"}
		}
	}
	d.ErrorCount = rec.consecutive
	rec.history[len(rec.history)-1].Action = d.Action
	return d
}

func guidancePrompt(p Pattern) string {
	switch p {
	case PatternBuildFailure:
		return "The previous attempt failed to build. Fix the compilation errors and retry."
	case PatternTestFailure:
		return "The previous attempt failed its tests. Fix the failing tests and retry."
	case PatternPushFailure:
		return "The previous push failed. Rebase onto the latest base branch and retry."
	case PatternLintFailure:
		return "The previous attempt failed lint checks. Fix the lint violations and retry."
	case PatternGitConflict:
		return "A merge conflict occurred. Resolve the conflicting hunks and retry."
	case PatternCodexSandbox:
		return "The previous attempt violated the sandbox policy. Avoid the disallowed operation and retry."
	case PatternRequestError:
		return "The previous request was malformed. Review the request shape and retry."
	default:
		return "Retry with the guidance from the previous failure."
	}
}

func (r *taskRecord) appendHistory(e historyEntry) {
	r.history = append(r.history, e)
	if len(r.history) > maxHistoryEntries {
		r.history = r.history[len(r.history)-maxHistoryEntries:]
	}
}

// shouldPauseExecutorLocked prunes the rate-limit hit list to the last 5
// minutes and reports whether it exceeds the pause threshold (3 hits).
func (p *Policy) shouldPauseExecutorLocked() bool {
	cutoff := time.Now().Add(-5 * time.Minute)
	kept := p.rateLimitHits[:0]
	for _, t := range p.rateLimitHits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.rateLimitHits = kept
	return len(p.rateLimitHits) > 3
}

// ShouldPauseExecutor reports whether the global rate-limit hit list exceeds
// the pause threshold.
func (p *Policy) ShouldPauseExecutor() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldPauseExecutorLocked()
}

// Reset clears a task's error record on success and reports the recoveries
// credited (the number of history entries that were not a block/manual
// terminal outcome).
func (p *Policy) Reset(taskID domain.TaskID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[taskID]
	if !ok {
		return 0
	}
	credited := 0
	for _, h := range rec.history {
		if h.Action != ActionBlock && h.Action != ActionManual {
			credited++
		}
	}
	delete(p.records, taskID)
	return credited
}

// History returns a copy of the bounded per-task error history.
func (p *Policy) History(taskID domain.TaskID) []historyEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[taskID]
	if !ok {
		return nil
	}
	out := make([]historyEntry, len(rec.history))
	copy(out, rec.history)
	return out
}
