// Package local is the sqlite-backed kanban adapter used when no external
// board is configured.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/kanban"
	"github.com/bosunhq/bosun/internal/logx"
)

// ValidTransitions is the closed status state-machine every SetStatus call
// is checked against.
var ValidTransitions = map[kanban.Status][]kanban.Status{
	kanban.StatusBacklog:    {kanban.StatusTodo},
	kanban.StatusTodo:       {kanban.StatusInProgress, kanban.StatusBlocked},
	kanban.StatusInProgress: {kanban.StatusInReview, kanban.StatusTodo, kanban.StatusBlocked},
	kanban.StatusInReview:   {kanban.StatusDone, kanban.StatusBlocked},
	kanban.StatusBlocked:    {kanban.StatusTodo, kanban.StatusInProgress},
	kanban.StatusDone:       {},
	kanban.StatusCancelled:  {},
}

// defaultClaimTTL is used when Open is called without an explicit TTL (e.g.
// by existing call sites and tests predating OpenWithTTL).
const defaultClaimTTL = 3 * time.Hour

// Adapter is the sqlite-backed implementation of kanban.Adapter.
type Adapter struct {
	db       *sql.DB
	mu       sync.RWMutex
	claimTTL time.Duration
}

// Open opens (and if needed, creates) the sqlite database at dbPath, renewing
// claims for defaultClaimTTL. Use OpenWithTTL to honor an operator-configured
// lease duration.
func Open(dbPath string) (*Adapter, error) {
	return OpenWithTTL(dbPath, defaultClaimTTL)
}

// OpenWithTTL is Open with an explicit renewal TTL, so Renew extends a lease
// by the same duration the operator configured for Claim instead of a fixed
// default.
func OpenWithTTL(dbPath string, claimTTL time.Duration) (*Adapter, error) {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create kanban db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open kanban db: %w", err)
	}
	a := &Adapter{db: db, claimTTL: claimTTL}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kanban schema: %w", err)
	}
	logx.InfoCF("kanban/local", "local task board opened", map[string]any{"db_path": dbPath, "claim_ttl": claimTTL.String()})
	return a, nil
}

func (a *Adapter) Close() error { return a.db.Close() }

func (a *Adapter) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT DEFAULT 'backlog',
		tags TEXT DEFAULT '[]',
		branch_name TEXT DEFAULT '',
		base_branch TEXT DEFAULT '',
		creator_login TEXT DEFAULT '',
		pr_number INTEGER DEFAULT 0,
		pr_url TEXT DEFAULT '',
		priority INTEGER DEFAULT 0,
		claimed_by TEXT DEFAULT '',
		lease_expires_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_claimed ON tasks(claimed_by);

	CREATE TABLE IF NOT EXISTS task_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT DEFAULT '',
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_transitions_task ON task_transitions(task_id);

	CREATE TABLE IF NOT EXISTS task_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// List returns tasks with the given status, sorted by priority desc, then
// updated_at desc, then id lex.
func (a *Adapter) List(ctx context.Context, status kanban.Status) ([]kanban.Task, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, description, status, tags, branch_name, base_branch,
		       creator_login, pr_number, pr_url, priority, updated_at
		FROM tasks WHERE status = ?
		ORDER BY priority DESC, updated_at DESC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kanban.Task
	for rows.Next() {
		var t kanban.Task
		var tagsJSON, updatedAt string
		var id, st string
		if err := rows.Scan(&id, &t.Title, &t.Description, &st, &tagsJSON,
			&t.BranchName, &t.BaseBranch, &t.CreatorLogin, &t.PRNumber, &t.PRUrl,
			&t.Priority, &updatedAt); err != nil {
			return nil, err
		}
		t.ID = domain.TaskID(id)
		t.Status = kanban.Status(st)
		_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim writes a lease with TTL, refusing a conflicting live claim by another
// holder.
func (a *Adapter) Claim(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID, ttl time.Duration) (kanban.ClaimResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var claimedBy, leaseExpiresAt sql.NullString
	row := a.db.QueryRowContext(ctx, `SELECT claimed_by, lease_expires_at FROM tasks WHERE id = ?`, string(taskID))
	if err := row.Scan(&claimedBy, &leaseExpiresAt); err != nil {
		return kanban.ClaimResult{}, err
	}

	now := time.Now().UTC()
	if claimedBy.Valid && claimedBy.String != "" && claimedBy.String != string(holderID) {
		if leaseExpiresAt.Valid {
			expiry, err := time.Parse(time.RFC3339, leaseExpiresAt.String)
			if err == nil && expiry.After(now) {
				return kanban.ClaimResult{OK: false, ExistingHolder: domain.HolderID(claimedBy.String)}, nil
			}
		}
		// Expired lease — fall through and steal it.
	}

	expiresAt := now.Add(ttl)
	_, err := a.db.ExecContext(ctx, `UPDATE tasks SET claimed_by = ?, lease_expires_at = ?, updated_at = ? WHERE id = ?`,
		string(holderID), expiresAt.Format(time.RFC3339), now.Format(time.RFC3339), string(taskID))
	if err != nil {
		return kanban.ClaimResult{}, err
	}
	return kanban.ClaimResult{OK: true}, nil
}

// Renew extends an existing claim's TTL if holderID still owns it.
func (a *Adapter) Renew(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, `UPDATE tasks SET lease_expires_at = ? WHERE id = ? AND claimed_by = ?`,
		time.Now().UTC().Add(a.claimTTL).Format(time.RFC3339), string(taskID), string(holderID))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Release clears a claim, regardless of TTL, as long as holderID matches.
func (a *Adapter) Release(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.ExecContext(ctx, `UPDATE tasks SET claimed_by = '', lease_expires_at = NULL WHERE id = ? AND claimed_by = ?`,
		string(taskID), string(holderID))
	return err
}

// SetStatus validates the transition against ValidTransitions and is a no-op
// (no transition row written) if the status is unchanged.
func (a *Adapter) SetStatus(ctx context.Context, taskID domain.TaskID, status kanban.Status, source string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var current string
	row := a.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, string(taskID))
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current == string(status) {
		return nil
	}

	from := kanban.Status(current)
	if !transitionAllowed(from, status) {
		return fmt.Errorf("kanban/local: invalid transition %s -> %s", from, status)
	}

	now := time.Now().UTC()
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now.Format(time.RFC3339), string(taskID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_transitions (task_id, from_status, to_status, reason, timestamp) VALUES (?, ?, ?, ?, ?)`,
		string(taskID), current, string(status), source, now.Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func transitionAllowed(from, to kanban.Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateOrUpdatePR is idempotent on (branch, baseBranch): if a PR already
// exists for the task it updates the stored reference instead of minting a
// new number.
func (a *Adapter) CreateOrUpdatePR(ctx context.Context, branch, baseBranch, title, body string) (kanban.PRResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var existingNumber int
	var existingURL string
	row := a.db.QueryRowContext(ctx, `SELECT pr_number, pr_url FROM tasks WHERE branch_name = ? AND base_branch = ?`, branch, baseBranch)
	err := row.Scan(&existingNumber, &existingURL)
	if err == nil && existingNumber > 0 {
		return kanban.PRResult{PRNumber: existingNumber, PRUrl: existingURL}, nil
	}

	number := int(time.Now().UnixNano() % 100000)
	url := fmt.Sprintf("local://pr/%d", number)
	_, err = a.db.ExecContext(ctx, `UPDATE tasks SET pr_number = ?, pr_url = ?, updated_at = ? WHERE branch_name = ? AND base_branch = ?`,
		number, url, time.Now().UTC().Format(time.RFC3339), branch, baseBranch)
	if err != nil {
		return kanban.PRResult{}, err
	}
	return kanban.PRResult{PRNumber: number, PRUrl: url}, nil
}

// CreateTask inserts a new task row, used by the trust gate's ingestion path.
func (a *Adapter) CreateTask(ctx context.Context, t kanban.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	tagsJSON, _ := json.Marshal(t.Tags)
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, tags, branch_name, base_branch,
			creator_login, pr_number, pr_url, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.Title, t.Description, string(t.Status), string(tagsJSON),
		t.BranchName, t.BaseBranch, t.CreatorLogin, t.PRNumber, t.PRUrl, t.Priority,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	return err
}

// CleanupExpiredClaims releases any claim whose lease has passed.
func (a *Adapter) CleanupExpiredClaims(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, err := a.db.ExecContext(ctx, `
		UPDATE tasks SET claimed_by = '', lease_expires_at = NULL
		WHERE claimed_by != '' AND lease_expires_at < ?`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
