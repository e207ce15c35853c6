package workstream

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/eventbus"
	"github.com/bosunhq/bosun/internal/logx"
)

const (
	errorLoopWindow    = 10 * time.Minute
	toolLoopWindow     = time.Minute
	sessionIdleEvict   = time.Hour
	cooldownRetention  = 3 * time.Hour
	cooldownPruneEvery = 10 * time.Minute
	maxBatchLines      = 500
)

// Config tunes the analyzer's thresholds; every field maps to an entry in
// the core's environment variable table.
type Config struct {
	ErrorLoopThreshold           int
	ToolLoopThreshold            int
	StuckThreshold               time.Duration
	StuckSweepInterval           time.Duration
	ReplayStartup                bool
	InitialReplayMaxSessionAge   time.Duration
	AlertCooldownReplayMaxBytes  int64
	CostAnomalyThresholdUSD      float64
}

// Analyzer tails the work-stream log and emits deduplicated alerts. It
// exclusively owns AgentSession and AlertCooldown state; nothing else
// mutates them.
type Analyzer struct {
	cfg           Config
	workStreamLog string
	alertsLog     string
	bus           *eventbus.Bus

	mu       sync.Mutex
	sessions map[domain.AttemptID]*AgentSession
	cooldown *cooldownMap

	startupMoment time.Time
}

// New constructs an Analyzer bound to the given log paths.
func New(cfg Config, workStreamLog, alertsLog string, bus *eventbus.Bus) *Analyzer {
	return &Analyzer{
		cfg:           cfg,
		workStreamLog: workStreamLog,
		alertsLog:     alertsLog,
		bus:           bus,
		sessions:      make(map[domain.AttemptID]*AgentSession),
		cooldown:      newCooldownMap(),
		startupMoment: time.Now(),
	}
}

// Start prepares the tailer (seeking to EOF unless ReplayStartup) and
// hydrates cooldowns from the alerts log. Call once before RunLoop.
func (a *Analyzer) Start() (*tailer, error) {
	ensureFile(a.workStreamLog)
	ensureFile(a.alertsLog)

	if err := a.cooldown.hydrate(a.alertsLog, a.cfg.AlertCooldownReplayMaxBytes, time.Now()); err != nil {
		logx.WarnCF("workstream", "failed to hydrate cooldowns", map[string]any{"error": err.Error()})
	}

	t, err := newTailer(a.workStreamLog, a.cfg.ReplayStartup)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func ensureFile(path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		f.Close()
	}
}

// RunLoop tails the work-stream log and runs the periodic sweeps until stop
// is closed.
func (a *Analyzer) RunLoop(t *tailer, stop <-chan struct{}) {
	pollTicker := time.NewTicker(defaultPollInterval)
	stuckTicker := time.NewTicker(a.cfg.StuckSweepInterval)
	evictTicker := time.NewTicker(15 * time.Minute)
	pruneTicker := time.NewTicker(cooldownPruneEvery)
	defer pollTicker.Stop()
	defer stuckTicker.Stop()
	defer evictTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-pollTicker.C:
			lines, err := t.pollBatched(maxBatchLines)
			if err != nil {
				logx.WarnCF("workstream", "tail poll failed", map[string]any{"error": err.Error()})
				continue
			}
			for _, line := range lines {
				a.handleLine(line)
			}
		case <-stuckTicker.C:
			a.sweepStuck()
		case <-evictTicker.C:
			a.sweepIdleSessions()
		case <-pruneTicker.C:
			a.cooldown.prune(cooldownRetention, time.Now())
		}
	}
}

func (a *Analyzer) handleLine(raw []byte) {
	var ll LogLine
	if err := json.Unmarshal(raw, &ll); err != nil {
		logx.WarnCF("workstream", "malformed log line", map[string]any{"error": err.Error()})
		return
	}

	// With replayStartup, lines whose timestamp predates the replay cutoff
	// are dropped before they reach any session, and stuck detection never
	// fires from replayed events — only
	// the timer-driven sweep raises stuck_agent — so replay cannot produce
	// false positives.
	if a.cfg.ReplayStartup && ll.Timestamp.Before(a.startupMoment.Add(-a.cfg.InitialReplayMaxSessionAge)) {
		return
	}

	a.mu.Lock()
	sess, ok := a.sessions[ll.AttemptID]
	if !ok {
		sess = &AgentSession{
			AttemptID: ll.AttemptID,
			TaskID:    ll.TaskID,
			Executor:  ll.Executor,
			StartedAt: ll.Timestamp,
		}
		a.sessions[ll.AttemptID] = sess
	}
	sess.LastActivity = ll.Timestamp
	if ll.TaskID != "" {
		sess.TaskID = ll.TaskID
	}
	a.mu.Unlock()

	switch ll.EventType {
	case EventSessionStart:
		a.onSessionStart(sess, ll)
	case EventToolCall:
		a.onToolCall(sess, ll)
	case EventError:
		a.onError(sess, ll)
	case EventSessionEnd:
		a.onSessionEnd(sess, ll)
	case EventHeartbeat:
		if a.bus != nil {
			a.bus.Heartbeat(ll.TaskID)
		}
	}
}

func (a *Analyzer) onSessionStart(sess *AgentSession, ll LogLine) {
	var d sessionStartData
	_ = json.Unmarshal(ll.Data, &d)
	if d.PromptType == "followup" || d.PromptType == "retry" {
		a.mu.Lock()
		sess.RestartCount++
		count := sess.RestartCount
		a.mu.Unlock()
		if count >= 3 {
			a.emit(AlertExcessiveRestarts, sess, SeverityMedium,
				"agent restarting repeatedly; consider a fresh task instead of another retry", func(al *Alert) {
					al.Occurrences = count
				})
		}
	}
}

func (a *Analyzer) onToolCall(sess *AgentSession, ll LogLine) {
	var d toolCallData
	_ = json.Unmarshal(ll.Data, &d)

	a.mu.Lock()
	sess.ToolCalls = append(sess.ToolCalls, toolCallEvent{Tool: d.ToolName, Timestamp: ll.Timestamp})
	cutoff := ll.Timestamp.Add(-toolLoopWindow)
	count := 0
	for i := len(sess.ToolCalls) - 1; i >= 0; i-- {
		if sess.ToolCalls[i].Timestamp.Before(cutoff) {
			break
		}
		if sess.ToolCalls[i].Tool == d.ToolName {
			count++
		}
	}
	a.mu.Unlock()

	if count >= a.cfg.ToolLoopThreshold {
		a.emit(AlertToolLoop, sess, SeverityMedium,
			"same tool called repeatedly in a short window; the agent may be looping", func(al *Alert) {
				al.ToolName = d.ToolName
				al.Occurrences = count
				al.WindowMs = toolLoopWindow.Milliseconds()
			})
	}
}

func (a *Analyzer) onError(sess *AgentSession, ll LogLine) {
	var d errorData
	_ = json.Unmarshal(ll.Data, &d)

	a.mu.Lock()
	sess.Errors = append(sess.Errors, errorEvent{Fingerprint: d.ErrorFingerprint, Message: d.ErrorMessage, Timestamp: ll.Timestamp})
	cutoff := ll.Timestamp.Add(-errorLoopWindow)
	count := 0
	for i := len(sess.Errors) - 1; i >= 0; i-- {
		if sess.Errors[i].Timestamp.Before(cutoff) {
			break
		}
		if sess.Errors[i].Fingerprint == d.ErrorFingerprint {
			count++
		}
	}
	a.mu.Unlock()

	if count >= a.cfg.ErrorLoopThreshold {
		a.emit(AlertErrorLoop, sess, SeverityHigh,
			"same error recurring repeatedly; consider blocking or a new session", func(al *Alert) {
				al.Occurrences = count
				al.WindowMs = errorLoopWindow.Milliseconds()
				al.ErrorFingerprints = []string{d.ErrorFingerprint}
			})
	}
}

func (a *Analyzer) onSessionEnd(sess *AgentSession, ll LogLine) {
	var d sessionEndData
	_ = json.Unmarshal(ll.Data, &d)

	a.mu.Lock()
	sess.Ended = true
	errCount := len(sess.Errors)
	a.mu.Unlock()

	if d.CostUSD > a.cfg.CostAnomalyThresholdUSD {
		a.emit(AlertCostAnomaly, sess, SeverityMedium,
			"session cost exceeded the configured anomaly threshold", func(al *Alert) {
				al.CostUSD = d.CostUSD
			})
	}
	if d.CompletionStatus == "failed" && errCount >= a.cfg.ErrorLoopThreshold {
		a.emit(AlertFailedSessionErrors, sess, SeverityCritical,
			"session failed after accumulating many errors", func(al *Alert) {
				al.ErrorCount = errCount
			})
	}
}

// sweepStuck is the only source of stuck_agent alerts — never triggered from
// event handling, so log replay cannot produce false positives.
func (a *Analyzer) sweepStuck() {
	now := time.Now()
	a.mu.Lock()
	var candidates []*AgentSession
	for _, s := range a.sessions {
		if s.Ended {
			continue
		}
		if now.Sub(s.LastActivity) > a.cfg.StuckThreshold {
			candidates = append(candidates, s)
		}
	}
	a.mu.Unlock()

	for _, sess := range candidates {
		idle := now.Sub(sess.LastActivity)
		a.emit(AlertStuckAgent, sess, SeverityHigh,
			"agent has not produced activity past the stuck threshold", func(al *Alert) {
				al.IdleTimeMs = idle.Milliseconds()
				al.ThresholdMs = a.cfg.StuckThreshold.Milliseconds()
			})
	}
}

func (a *Analyzer) sweepIdleSessions() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.sessions {
		if now.Sub(s.LastActivity) > sessionIdleEvict {
			delete(a.sessions, id)
		}
	}
}

func (a *Analyzer) emit(t AlertType, sess *AgentSession, sev Severity, recommendation string, fill func(*Alert)) {
	key := cooldownKey(t, sess.TaskID, sess.AttemptID)
	now := time.Now()
	if !a.cooldown.allow(key, cooldownFor(t), now) {
		return
	}

	al := Alert{
		Type:           t,
		Timestamp:      now,
		AttemptID:      sess.AttemptID,
		TaskID:         sess.TaskID,
		Executor:       sess.Executor,
		Severity:       sev,
		Recommendation: recommendation,
		CooldownKey:    key,
	}
	if fill != nil {
		fill(&al)
	}

	if err := appendAlert(a.alertsLog, al); err != nil {
		logx.ErrorCF("workstream", "failed to append alert", map[string]any{"error": err.Error()})
	}
	if a.bus != nil {
		a.bus.Emit(domain.EventAlertRaised, sess.TaskID, map[string]any{
			"alert_type": string(t),
			"severity":   string(sev),
		})
	}
}

func appendAlert(path string, al Alert) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(al)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// Sessions returns a snapshot of all tracked sessions, for diagnostics.
func (a *Analyzer) Sessions() []AgentSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AgentSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, *s)
	}
	return out
}
