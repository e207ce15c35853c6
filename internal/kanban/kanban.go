// Package kanban declares the capability interface the scheduler requires of
// any task board backend. Concrete adapters live
// in local/, github/, and jira/; the scheduler is parametric over Adapter and
// never imports a specific backend.
package kanban

import (
	"context"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
)

// Status is the closed task-status taxonomy.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusInReview   Status = "inreview"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Task is the universal task card the scheduler operates on, independent of
// which backend it came from.
type Task struct {
	ID           domain.TaskID
	Title        string
	Description  string
	Status       Status
	Tags         []string
	BranchName   string
	BaseBranch   string
	CreatorLogin string
	PRNumber     int
	PRUrl        string
	Priority     int
	UpdatedAt    time.Time
}

// ClaimResult is returned by Adapter.Claim.
type ClaimResult struct {
	OK             bool
	ExistingHolder domain.HolderID
}

// PRResult is returned by Adapter.CreateOrUpdatePR.
type PRResult struct {
	PRNumber int
	PRUrl    string
}

// Adapter is the capability set the scheduler requires of a kanban backend.
type Adapter interface {
	List(ctx context.Context, status Status) ([]Task, error)
	Claim(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID, ttl time.Duration) (ClaimResult, error)
	Renew(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) (bool, error)
	Release(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) error
	SetStatus(ctx context.Context, taskID domain.TaskID, status Status, source string) error
	CreateOrUpdatePR(ctx context.Context, branch, baseBranch, title, body string) (PRResult, error)
}
