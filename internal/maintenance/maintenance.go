// Package maintenance runs the periodic ingestion sweep that pulls
// third-party-authored kanban items through the trust gate before they ever
// reach the scheduler. On every poll adhocore/gronx is asked whether the
// schedule is due at the current time.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/bosunhq/bosun/internal/kanban"
	"github.com/bosunhq/bosun/internal/logx"
	"github.com/bosunhq/bosun/internal/trustgate"
)

// Source is the minimal capability the sweep needs from wherever
// third-party items originate (e.g. a GitHub issues poller). It is
// intentionally narrower than kanban.Adapter: the sweep only ever reads
// unclaimed external submissions and decides whether to admit them.
type Source interface {
	ListUnvetted(ctx context.Context) ([]trustgate.Item, error)
	Admit(ctx context.Context, item trustgate.Item, status kanban.Status) error
	Reject(ctx context.Context, item trustgate.Item, reason string) error
}

// Sweep runs its cron schedule against a Source through a trustgate.Config.
type Sweep struct {
	schedule string
	source   Source
	gate     trustgate.Config
	lastTick time.Time
}

// New constructs a Sweep. lastTick is the initial value of the time of the
// last pass, which Run updates on every due tick; the due check itself
// looks only at the current time and does not read lastTick.
func New(schedule string, source Source, gate trustgate.Config, lastTick time.Time) *Sweep {
	return &Sweep{schedule: schedule, source: source, gate: gate, lastTick: lastTick}
}

// Run polls the schedule every minute (gronx's finest granularity) until
// stop is closed, running one ingestion pass per elapsed tick.
func (s *Sweep) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	gron := gronx.New()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			due, err := gron.IsDue(s.schedule, now)
			if err != nil {
				logx.ErrorCF("maintenance", "invalid ingestion sweep schedule", map[string]any{"schedule": s.schedule, "error": err.Error()})
				continue
			}
			if !due {
				continue
			}
			s.lastTick = now
			s.runOnce(ctx)
		}
	}
}

func (s *Sweep) runOnce(ctx context.Context) {
	if !s.gate.IngestionEnabled {
		return
	}

	items, err := s.source.ListUnvetted(ctx)
	if err != nil {
		logx.ErrorCF("maintenance", "listing unvetted items failed", map[string]any{"error": err.Error()})
		return
	}

	for _, item := range items {
		decision := s.gate.Evaluate(item)
		s.applyDecision(ctx, item, decision)
	}
}

func (s *Sweep) applyDecision(ctx context.Context, item trustgate.Item, decision trustgate.Decision) {
	switch decision.Action {
	case trustgate.ActionIngestTodo:
		if err := s.source.Admit(ctx, item, kanban.StatusTodo); err != nil {
			logx.ErrorCF("maintenance", "admitting item as todo failed", map[string]any{"error": err.Error()})
		}
	case trustgate.ActionIngestBacklog:
		if err := s.source.Admit(ctx, item, kanban.StatusBacklog); err != nil {
			logx.ErrorCF("maintenance", "admitting item as backlog failed", map[string]any{"error": err.Error()})
		}
	case trustgate.ActionQuarantine, trustgate.ActionReject:
		reason := decision.Reason
		if s.gate.PostRejectionComment {
			if err := s.source.Reject(ctx, item, reason); err != nil {
				logx.ErrorCF("maintenance", "rejecting item failed", map[string]any{"error": err.Error()})
			}
		}
		logx.WarnCF("maintenance", "item not ingested", map[string]any{"action": decision.Action, "reason": reason, "injection_risk": decision.InjectionRisk})
	}
}
