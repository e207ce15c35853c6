// Package worktree manages isolated, ref-counted git checkouts. Every git
// invocation runs through exec.CommandContext with captured stdout/stderr
// and CI=true set in the subprocess environment.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/logx"
)

// Handle describes an acquired worktree.
type Handle struct {
	WorktreePath string
	Branch       string
	Acquired     bool
}

type registryEntry struct {
	taskID domain.TaskID
	branch string
	path   string
}

// Manager owns the on-disk worktree registry for one repository root. Only
// the scheduler calls into it.
type Manager struct {
	repoRoot string
	mu       sync.Mutex
	byBranch map[string]*registryEntry
}

// NewManager constructs a Manager rooted at repoRoot with an empty registry
// and runs `git worktree prune`, so stale worktree metadata left by a prior
// crash is dropped; worktrees already on disk are not added to the registry.
func NewManager(repoRoot string) (*Manager, error) {
	m := &Manager{repoRoot: repoRoot, byBranch: make(map[string]*registryEntry)}
	if err := m.pruneSweep(context.Background()); err != nil {
		logx.WarnCF("worktree", "startup prune sweep failed", map[string]any{"error": err.Error()})
	}
	return m, nil
}

// Acquire returns an existing worktree for (repoRoot, branch) if it already
// belongs to taskID, or creates a fresh one off baseBranch. Acquiring the
// same worktree twice from the same task is idempotent.
func (m *Manager) Acquire(ctx context.Context, branch string, taskID domain.TaskID, baseBranch string) (Handle, error) {
	m.mu.Lock()
	if existing, ok := m.byBranch[branch]; ok {
		if existing.taskID == taskID {
			path := existing.path
			m.mu.Unlock()
			return Handle{WorktreePath: path, Branch: branch, Acquired: true}, nil
		}
		m.mu.Unlock()
		return Handle{}, fmt.Errorf("worktree: branch %q already bound to task %q", branch, existing.taskID)
	}
	m.mu.Unlock()

	path := filepath.Join(m.repoRoot, ".bosun-worktrees", sanitizeBranch(branch))
	if baseBranch == "" {
		baseBranch = "origin/main"
	}

	if _, err := runGit(ctx, m.repoRoot, "fetch", "origin"); err != nil {
		logx.WarnCF("worktree", "fetch failed, continuing with local state", map[string]any{"error": err.Error()})
	}
	if _, err := runGit(ctx, m.repoRoot, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return Handle{}, fmt.Errorf("worktree add: %w", err)
	}

	m.mu.Lock()
	m.byBranch[branch] = &registryEntry{taskID: taskID, branch: branch, path: path}
	m.mu.Unlock()

	return Handle{WorktreePath: path, Branch: branch, Acquired: true}, nil
}

// Release prunes the worktree and, if prOpened is false, deletes the
// task-scoped local branch. Idempotent: releasing an already-released path
// is a no-op.
func (m *Manager) Release(ctx context.Context, branch string, prOpened bool) error {
	m.mu.Lock()
	entry, ok := m.byBranch[branch]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.byBranch, branch)
	m.mu.Unlock()

	if _, err := runGit(ctx, m.repoRoot, "worktree", "remove", "--force", entry.path); err != nil {
		logx.WarnCF("worktree", "worktree remove failed", map[string]any{"error": err.Error(), "path": entry.path})
	}
	if _, err := runGit(ctx, m.repoRoot, "worktree", "prune"); err != nil {
		logx.WarnCF("worktree", "worktree prune failed", map[string]any{"error": err.Error()})
	}
	if !prOpened {
		if _, err := runGit(ctx, m.repoRoot, "branch", "-D", branch); err != nil {
			logx.WarnCF("worktree", "branch delete failed", map[string]any{"error": err.Error(), "branch": branch})
		}
	}
	return nil
}

// HeadOf returns the current HEAD commit hash of the worktree bound to
// branch.
func (m *Manager) HeadOf(ctx context.Context, branch string) (string, error) {
	m.mu.Lock()
	entry, ok := m.byBranch[branch]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("worktree: no active worktree for branch %q", branch)
	}
	out, err := runGit(ctx, entry.path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// pruneSweep runs `git worktree prune` at startup, tolerating a prior crash;
// it does not touch the in-memory registry.
func (m *Manager) pruneSweep(ctx context.Context) error {
	_, err := runGit(ctx, m.repoRoot, "worktree", "prune")
	return err
}

func sanitizeBranch(branch string) string {
	out := make([]byte, 0, len(branch))
	for i := 0; i < len(branch); i++ {
		c := branch[i]
		if c == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// runGit shells out to git with a bounded timeout, capturing combined
// output for error classification, following codex.runCommand's shape.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CI=true")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if err != nil {
		return output, fmt.Errorf("git %v: %w: %s", args, err, truncateOutput(output, 4096))
	}
	return output, nil
}

func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
