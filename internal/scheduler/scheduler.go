// Package scheduler drives each task end-to-end from todo to
// inreview/blocked/cooldown, bounding parallelism and guaranteeing resource
// cleanup via a kanban-adapter-backed claim lease and a lease-renewal
// watchdog.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/agentrunner"
	"github.com/bosunhq/bosun/internal/classifier"
	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/eventbus"
	"github.com/bosunhq/bosun/internal/kanban"
	"github.com/bosunhq/bosun/internal/logx"
	"github.com/bosunhq/bosun/internal/promptgen"
	"github.com/bosunhq/bosun/internal/sequence"
	"github.com/bosunhq/bosun/internal/worktree"
)

// Config carries the scheduler's tunables (environment variable
// table, scheduler subset).
type Config struct {
	MaxParallel         int
	BaseBranchLimit     int
	PollInterval        time.Duration
	TaskTimeout         time.Duration
	ClaimTTL            time.Duration
	ClaimRenewInterval  time.Duration
	DefaultTargetBranch string
	NoopCooldown        time.Duration
	DefaultSDK          string
	DefaultModel        string
	HeartbeatInterval   time.Duration
}

// Scheduler owns the pull loop and the per-task pipeline.
type Scheduler struct {
	cfg       Config
	holderID  domain.HolderID
	kanban    kanban.Adapter
	worktrees *worktree.Manager
	runner    *agentrunner.Runner
	policy    *classifier.Policy
	bus       *eventbus.Bus
	enricher  promptgen.Enricher

	slots    *slotManager
	cooldown *noopCooldown

	guidanceMu sync.Mutex
	guidance   map[domain.TaskID]string

	wg sync.WaitGroup
}

// New constructs a Scheduler. holderID identifies this process's claims so
// a restart doesn't believe it owns leases it never wrote. enricher may be
// promptgen.Noop{} when no LLM provider is configured.
func New(cfg Config, holderID domain.HolderID, kb kanban.Adapter, wt *worktree.Manager, runner *agentrunner.Runner, policy *classifier.Policy, bus *eventbus.Bus, enricher promptgen.Enricher) *Scheduler {
	if enricher == nil {
		enricher = promptgen.Noop{}
	}
	return &Scheduler{
		cfg:       cfg,
		holderID:  holderID,
		kanban:    kb,
		worktrees: wt,
		runner:    runner,
		policy:    policy,
		bus:       bus,
		enricher:  enricher,
		slots:     newSlotManager(cfg.MaxParallel, cfg.BaseBranchLimit),
		cooldown:  newNoopCooldown(),
		guidance:  make(map[domain.TaskID]string),
	}
}

func (s *Scheduler) takeGuidance(taskID domain.TaskID) string {
	s.guidanceMu.Lock()
	defer s.guidanceMu.Unlock()
	g := s.guidance[taskID]
	delete(s.guidance, taskID)
	return g
}

func (s *Scheduler) setGuidance(taskID domain.TaskID, prompt string) {
	s.guidanceMu.Lock()
	defer s.guidanceMu.Unlock()
	s.guidance[taskID] = prompt
}

// Run executes the pull loop until ctx is cancelled, then waits for every
// in-flight task pipeline to finish its cleanup chain.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.policy.ShouldPauseExecutor() {
		logx.WarnCF("scheduler", "executor paused, skipping admission", nil)
		s.bus.Emit(domain.EventExecutorPaused, "", nil)
		return
	}

	tasks, err := s.kanban.List(ctx, kanban.StatusTodo)
	if err != nil {
		logx.ErrorCF("scheduler", "listing todo tasks failed", map[string]any{"error": err.Error()})
		return
	}
	sortCandidates(tasks)

	for _, t := range tasks {
		if s.cooldown.active(t.ID) {
			continue
		}
		baseBranch := t.BaseBranch
		if baseBranch == "" {
			baseBranch = s.cfg.DefaultTargetBranch
		}
		if !s.slots.tryAcquire(baseBranch) {
			continue
		}

		task := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(ctx, task, baseBranch)
		}()
	}
}

// sortCandidates orders todo tasks by explicit priority desc, then
// updatedAt desc, then id lexicographically.
func sortCandidates(tasks []kanban.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if !tasks[i].UpdatedAt.Equal(tasks[j].UpdatedAt) {
			return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// runTask drives one task through the full 15-step pipeline,
// guaranteeing cleanup on every exit path including panics.
func (s *Scheduler) runTask(ctx context.Context, task kanban.Task, baseBranch string) {
	var (
		claimed   bool
		worktreeH worktree.Handle
		prOpened  bool
	)

	defer func() {
		if r := recover(); r != nil {
			logx.ErrorCF("scheduler", "task pipeline panicked", map[string]any{"task_id": task.ID, "panic": fmt.Sprint(r)})
			s.bus.Emit(domain.EventTaskFinalizationFailed, task.ID, map[string]any{"reason": fmt.Sprint(r)})
		}
		s.cleanup(task, baseBranch, claimed, worktreeH, prOpened)
	}()

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	// Step 3: claim.
	claimRes, err := s.kanban.Claim(taskCtx, task.ID, s.holderID, s.cfg.ClaimTTL)
	if err != nil {
		logx.ErrorCF("scheduler", "claim write failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		return
	}
	if !claimRes.OK {
		logx.InfoCF("scheduler", "already claimed", map[string]any{"task_id": task.ID, "holder": claimRes.ExistingHolder})
		return
	}
	claimed = true

	renewStop := make(chan struct{})
	defer close(renewStop)
	go s.renewLoop(task.ID, renewStop)

	// Step 4: status -> inprogress.
	if err := s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusInProgress, "scheduler"); err != nil {
		logx.ErrorCF("scheduler", "status transition to inprogress failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.bus.Emit(domain.EventTaskFailed, task.ID, map[string]any{"error": err.Error()})
		return
	}
	s.bus.Emit(domain.EventTaskStarted, task.ID, map[string]any{"holder": s.holderID})
	s.bus.Emit(domain.EventTaskClaimed, task.ID, map[string]any{"holder": s.holderID})

	branch := branchName(task)

	// Step 5: acquire worktree.
	h, err := s.worktrees.Acquire(taskCtx, branch, task.ID, baseBranch)
	if err != nil {
		logx.ErrorCF("scheduler", "worktree acquire failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.requeue(taskCtx, task)
		return
	}
	worktreeH = h

	// Step 6: resolve executor.
	sdk, model := resolveExecutor(task, s.cfg.DefaultSDK, s.cfg.DefaultModel)

	// Step 7: record pre-execution HEAD.
	preHead, err := s.worktrees.HeadOf(taskCtx, branch)
	if err != nil {
		logx.ErrorCF("scheduler", "reading pre-execution HEAD failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.requeue(taskCtx, task)
		return
	}

	// Step 8: build prompt, enriched by an LLM provider when one is
	// configured, carrying forward any repair guidance from a prior
	// classified failure on this task.
	prompt := buildPrompt(task)
	enriched, err := s.enricher.Enrich(taskCtx, promptgen.Request{
		TaskTitle:       task.Title,
		TaskDescription: task.Description,
		BasePrompt:      prompt,
		RepairGuidance:  s.takeGuidance(task.ID),
	})
	if err != nil {
		logx.WarnCF("scheduler", "prompt enrichment failed, using base prompt", map[string]any{"task_id": task.ID, "error": err.Error()})
	} else {
		prompt = enriched
	}

	// Step 9: run agent.
	attemptID := domain.NewAttemptID()
	outcome, err := s.runner.Run(taskCtx, agentrunner.Params{
		AttemptID:         attemptID,
		TaskID:            task.ID,
		SDK:               sdk,
		Model:             model,
		Prompt:            prompt,
		Cwd:               h.WorktreePath,
		Timeout:           s.cfg.TaskTimeout,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
	}, agentrunner.BuildArgv(sdk, model, prompt))
	if err != nil {
		logx.ErrorCF("scheduler", "agent run failed to start", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.handleAgentFailure(taskCtx, task, agentrunner.Outcome{RawError: err.Error()})
		return
	}
	if !outcome.Success {
		s.handleAgentFailure(taskCtx, task, outcome)
		return
	}
	s.policy.Reset(task.ID)

	// Step 10: check claim (steal detection).
	stillOwned, err := s.kanban.Renew(taskCtx, task.ID, s.holderID)
	if err != nil || !stillOwned {
		logx.WarnCF("scheduler", "claim stolen or renew failed, aborting before push", map[string]any{"task_id": task.ID})
		claimed = false // a stolen claim is no longer ours to release
		_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusTodo, "scheduler:claim_stolen")
		return
	}

	// Step 11: detect new commits.
	hasCommits, err := s.worktrees.HasNewCommits(taskCtx, branch, baseBranch, preHead)
	if err != nil {
		logx.ErrorCF("scheduler", "commit detection failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.requeue(taskCtx, task)
		return
	}
	if !hasCommits {
		s.cooldown.set(task.ID, s.cfg.NoopCooldown)
		_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusTodo, "scheduler:noop")
		s.bus.Emit(domain.EventTaskCooldown, task.ID, map[string]any{"reason": "no-op completion"})
		return
	}

	// Step 12: push branch.
	if err := s.worktrees.Push(taskCtx, branch, baseBranch); err != nil {
		switch err {
		case worktree.ErrEmptyDiff:
			s.cooldown.set(task.ID, s.cfg.NoopCooldown)
			_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusTodo, "scheduler:noop")
			s.bus.Emit(domain.EventTaskCooldown, task.ID, map[string]any{"reason": "empty diff"})
		case worktree.ErrProtectedBranch:
			logx.ErrorCF("scheduler", "refused to push to protected branch", map[string]any{"task_id": task.ID, "branch": branch})
			_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusBlocked, "scheduler:protected_branch")
			s.bus.Emit(domain.EventTaskBlocked, task.ID, map[string]any{"reason": "protected branch"})
		default:
			logx.ErrorCF("scheduler", "push failed", map[string]any{"task_id": task.ID, "error": err.Error()})
			_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusTodo, "scheduler:push_failed")
			s.bus.Emit(domain.EventTaskRepairRequested, task.ID, map[string]any{"reason": err.Error()})
		}
		return
	}

	// Step 13: create or update PR.
	prRes, err := s.kanban.CreateOrUpdatePR(taskCtx, branch, baseBranch, prTitle(task), prBody(task, outcome))
	if err != nil {
		logx.ErrorCF("scheduler", "PR creation failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		_ = s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusTodo, "scheduler:pr_failed")
		s.bus.Emit(domain.EventTaskRepairRequested, task.ID, map[string]any{"reason": err.Error()})
		return
	}
	prOpened = true

	// Step 14: status -> inreview.
	if err := s.kanban.SetStatus(taskCtx, task.ID, kanban.StatusInReview, "scheduler"); err != nil {
		logx.ErrorCF("scheduler", "status transition to inreview failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		s.bus.Emit(domain.EventTaskFinalizationFailed, task.ID, map[string]any{"error": err.Error()})
		return
	}
	s.bus.Emit(domain.EventTaskCompleted, task.ID, map[string]any{"pr_number": prRes.PRNumber, "pr_url": prRes.PRUrl})
	s.bus.Emit(domain.EventTaskAutoReview, task.ID, map[string]any{"pr_number": prRes.PRNumber, "pr_url": prRes.PRUrl})
}

func (s *Scheduler) handleAgentFailure(ctx context.Context, task kanban.Task, outcome agentrunner.Outcome) {
	_, decision := s.policy.RecordError(task.ID, outcome.RawError)
	s.bus.Emit(domain.EventTaskFailed, task.ID, map[string]any{"action": decision.Action, "reason": decision.Reason})

	switch decision.Action {
	case classifier.ActionBlock:
		_ = s.kanban.SetStatus(ctx, task.ID, kanban.StatusBlocked, "scheduler:classifier")
		s.bus.Emit(domain.EventTaskBlocked, task.ID, map[string]any{"reason": decision.Reason})
	case classifier.ActionPauseExecutor:
		_ = s.kanban.SetStatus(ctx, task.ID, kanban.StatusTodo, "scheduler:classifier")
		s.bus.Emit(domain.EventExecutorPaused, task.ID, map[string]any{"reason": decision.Reason})
	case classifier.ActionRetryWithPrompt:
		s.setGuidance(task.ID, decision.Prompt)
		_ = s.kanban.SetStatus(ctx, task.ID, kanban.StatusTodo, "scheduler:classifier")
	default:
		_ = s.kanban.SetStatus(ctx, task.ID, kanban.StatusTodo, "scheduler:classifier")
	}

	// A detected behavioral pattern overrides the classifier's generic
	// retry prompt with a targeted intervention on the next attempt —
	// the classifier reasons about error text, the sequence analyzer
	// about the whole transcript's shape.
	if outcome.SequencePattern != "" {
		s.setGuidance(task.ID, sequence.InterventionPrompt(outcome.SequencePattern))
	}
}

func (s *Scheduler) requeue(ctx context.Context, task kanban.Task) {
	_ = s.kanban.SetStatus(ctx, task.ID, kanban.StatusTodo, "scheduler:requeue")
}

// renewLoop keeps the claim's lease alive at cfg.ClaimRenewInterval until
// stop is closed.
func (s *Scheduler) renewLoop(taskID domain.TaskID, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.ClaimRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := s.kanban.Renew(context.Background(), taskID, s.holderID)
			if err != nil || !ok {
				logx.WarnCF("scheduler", "claim renew failed", map[string]any{"task_id": taskID})
			}
		}
	}
}

// cleanup runs on every exit path: release worktree, release claim (renewer
// already stopped by the deferred close in runTask), release slot, in the
// reverse order they were acquired.
func (s *Scheduler) cleanup(task kanban.Task, baseBranch string, claimed bool, h worktree.Handle, prOpened bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if h.Acquired {
		if err := s.worktrees.Release(ctx, h.Branch, prOpened); err != nil {
			logx.WarnCF("scheduler", "worktree release failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		}
	}
	if claimed {
		if err := s.kanban.Release(ctx, task.ID, s.holderID); err != nil {
			logx.WarnCF("scheduler", "claim release failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		}
	}
	s.slots.release(baseBranch)
}

func branchName(task kanban.Task) string {
	if task.BranchName != "" {
		return task.BranchName
	}
	return "bosun/" + strings.ToLower(string(task.ID))
}

// resolveExecutor picks an sdk + model from task tag hints
// ("sdk:<name>", "model:<name>") falling back to config defaults.
func resolveExecutor(task kanban.Task, defaultSDK, defaultModel string) (sdk, model string) {
	sdk, model = defaultSDK, defaultModel
	for _, tag := range task.Tags {
		switch {
		case strings.HasPrefix(tag, "sdk:"):
			sdk = strings.TrimPrefix(tag, "sdk:")
		case strings.HasPrefix(tag, "model:"):
			model = strings.TrimPrefix(tag, "model:")
		}
	}
	if sdk == "" {
		sdk = "codex"
	}
	return sdk, model
}

func buildPrompt(task kanban.Task) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(task.Description)
	}
	return b.String()
}

func prTitle(task kanban.Task) string {
	return task.Title
}

func prBody(task kanban.Task, outcome agentrunner.Outcome) string {
	var b strings.Builder
	b.WriteString(task.Description)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Attempt branch: `%s`\n", outcome.Branch)
	return b.String()
}
