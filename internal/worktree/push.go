package worktree

import (
	"context"
	"fmt"
	"strings"
)

var protectedBranches = map[string]bool{
	"main":       true,
	"master":     true,
	"develop":    true,
	"production": true,
}

// ErrEmptyDiff indicates a branch carries no commits beyond baseBranch —
// the scheduler treats this as a no-op completion.
var ErrEmptyDiff = fmt.Errorf("worktree: empty diff against base branch")

// ErrProtectedBranch guards against ever pushing directly to a shared
// integration branch.
var ErrProtectedBranch = fmt.Errorf("worktree: refusing to push to a protected branch")

// HasNewCommits reports whether the worktree's current HEAD differs from
// preHead and from baseBranch's tip — used to distinguish real work from a
// "no-op completion".
func (m *Manager) HasNewCommits(ctx context.Context, branch, baseBranch, preHead string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.byBranch[branch]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("worktree: no active worktree for branch %q", branch)
	}

	head, err := runGit(ctx, entry.path, "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}
	head = firstLine(head)
	if head == preHead {
		return false, nil
	}

	baseHead, err := runGit(ctx, entry.path, "rev-parse", baseBranch)
	if err != nil {
		return false, err
	}
	return head != firstLine(baseHead), nil
}

// Push rebases the branch onto the remote baseBranch and pushes it,
// refusing protected branches and empty diffs. On a non-fast-forward
// rejection it rebases once more and retries; a second conflict surfaces as
// an error for the scheduler to turn into a repair-handoff event.
func (m *Manager) Push(ctx context.Context, branch, baseBranch string) error {
	if protectedBranches[normalizeBranch(branch)] {
		return ErrProtectedBranch
	}
	m.mu.Lock()
	entry, ok := m.byBranch[branch]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("worktree: no active worktree for branch %q", branch)
	}

	if _, err := runGit(ctx, entry.path, "fetch", "origin", trimOrigin(baseBranch)); err != nil {
		return fmt.Errorf("worktree: fetch base branch: %w", err)
	}
	if _, err := runGit(ctx, entry.path, "rebase", "origin/"+trimOrigin(baseBranch)); err != nil {
		return fmt.Errorf("worktree: rebase: %w", err)
	}

	head, err := runGit(ctx, entry.path, "rev-parse", "HEAD")
	if err != nil {
		return err
	}
	baseHead, err := runGit(ctx, entry.path, "rev-parse", "origin/"+trimOrigin(baseBranch))
	if err != nil {
		return err
	}
	if firstLine(head) == firstLine(baseHead) {
		return ErrEmptyDiff
	}

	_, err = runGit(ctx, entry.path, "push", "origin", branch, "--force-with-lease")
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "non-fast-forward") && !strings.Contains(err.Error(), "rejected") {
		return fmt.Errorf("worktree: push: %w", err)
	}

	// One rebase + retry on a non-fast-forward rejection; further conflicts
	// are not auto-resolved.
	if _, rerr := runGit(ctx, entry.path, "fetch", "origin", trimOrigin(baseBranch)); rerr != nil {
		return fmt.Errorf("worktree: push retry fetch: %w", rerr)
	}
	if _, rerr := runGit(ctx, entry.path, "rebase", "origin/"+trimOrigin(baseBranch)); rerr != nil {
		return fmt.Errorf("worktree: push retry rebase conflict: %w", rerr)
	}
	if _, rerr := runGit(ctx, entry.path, "push", "origin", branch, "--force-with-lease"); rerr != nil {
		return fmt.Errorf("worktree: push retry failed: %w", rerr)
	}
	return nil
}

func normalizeBranch(branch string) string {
	return strings.TrimPrefix(strings.TrimPrefix(branch, "origin/"), "refs/heads/")
}

func trimOrigin(baseBranch string) string {
	return strings.TrimPrefix(baseBranch, "origin/")
}
