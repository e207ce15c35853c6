// Package jira is a Jira Cloud REST kanban adapter, built directly on
// net/http + encoding/json (see DESIGN.md's stdlib-exception entry for this
// package).
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/kanban"
)

// defaultStatusNames maps the core's status taxonomy onto the workflow status
// names a Jira board is expected to expose. Boards rename statuses freely;
// operators configure the mapping with StatusNames at construction time.
var defaultStatusNames = map[kanban.Status]string{
	kanban.StatusBacklog:    "Backlog",
	kanban.StatusTodo:       "To Do",
	kanban.StatusInProgress: "In Progress",
	kanban.StatusInReview:   "In Review",
	kanban.StatusDone:       "Done",
	kanban.StatusCancelled:  "Cancelled",
	kanban.StatusBlocked:    "Blocked",
}

const claimFieldPrefix = "bosun-claim:"

// defaultClaimTTL is used when Config.ClaimTTL is left zero.
const defaultClaimTTL = 3 * time.Hour

// Adapter talks to a Jira Cloud project over its REST v3 API. The
// distributed claim lease is encoded as a line in a comment
// ("bosun-claim:<holder>:<rfc3339-expiry>") since a bare REST adapter has no
// custom-field schema to rely on without per-instance configuration.
type Adapter struct {
	baseURL     string
	email       string
	apiToken    string
	projectKey  string
	statusNames map[kanban.Status]string
	claimTTL    time.Duration
	httpClient  *http.Client
}

// Config configures an Adapter. ClaimTTL is the duration Renew extends a
// lease by; it defaults to defaultClaimTTL when left zero.
type Config struct {
	BaseURL     string
	Email       string
	APIToken    string
	ProjectKey  string
	StatusNames map[kanban.Status]string
	ClaimTTL    time.Duration
}

func New(cfg Config) *Adapter {
	names := cfg.StatusNames
	if names == nil {
		names = defaultStatusNames
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &Adapter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		email:       cfg.Email,
		apiToken:    cfg.APIToken,
		projectKey:  cfg.ProjectKey,
		statusNames: names,
		claimTTL:    claimTTL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("jira: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("jira: build request: %w", err)
	}
	req.SetBasicAuth(a.email, a.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jira: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("jira: %s %s returned %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type issueFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
	Creator struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"creator"`
	Updated string `json:"updated"`
	Labels  []string `json:"labels"`
}

type issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type searchResponse struct {
	Issues []issue `json:"issues"`
}

func (a *Adapter) List(ctx context.Context, status kanban.Status) ([]kanban.Task, error) {
	name, ok := a.statusNames[status]
	if !ok {
		return nil, fmt.Errorf("jira: unknown status %q", status)
	}
	jql := fmt.Sprintf(`project=%q AND status=%q ORDER BY priority DESC, updated DESC`, a.projectKey, name)

	var res searchResponse
	if err := a.do(ctx, http.MethodGet, "/rest/api/3/search?jql="+urlEscape(jql), nil, &res); err != nil {
		return nil, err
	}

	out := make([]kanban.Task, 0, len(res.Issues))
	for _, iss := range res.Issues {
		out = append(out, issueToTask(iss, status))
	}
	return out, nil
}

func issueToTask(iss issue, status kanban.Status) kanban.Task {
	t := kanban.Task{
		ID:           domain.TaskID(iss.Key),
		Title:        iss.Fields.Summary,
		Description:  iss.Fields.Description,
		Status:       status,
		Tags:         iss.Fields.Labels,
		CreatorLogin: iss.Fields.Creator.EmailAddress,
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.000-0700", iss.Fields.Updated); err == nil {
		t.UpdatedAt = ts
	}
	return t
}

type commentsResponse struct {
	Comments []struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	} `json:"comments"`
}

func (a *Adapter) getClaim(ctx context.Context, taskID domain.TaskID) (holder string, expires time.Time, ok bool, err error) {
	var res commentsResponse
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s/comment", taskID), nil, &res); err != nil {
		return "", time.Time{}, false, err
	}
	for i := len(res.Comments) - 1; i >= 0; i-- {
		body := res.Comments[i].Body
		if !strings.HasPrefix(body, claimFieldPrefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(body, claimFieldPrefix), ":", 2)
		if len(parts) != 2 {
			continue
		}
		exp, perr := time.Parse(time.RFC3339, parts[1])
		if perr != nil {
			continue
		}
		return parts[0], exp, true, nil
	}
	return "", time.Time{}, false, nil
}

func (a *Adapter) postClaimComment(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID, expires time.Time) error {
	body := fmt.Sprintf("%s%s:%s", claimFieldPrefix, holderID, expires.Format(time.RFC3339))
	payload := map[string]any{"body": body}
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/comment", taskID), payload, nil)
}

func (a *Adapter) Claim(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID, ttl time.Duration) (kanban.ClaimResult, error) {
	holder, expires, ok, err := a.getClaim(ctx, taskID)
	if err != nil {
		return kanban.ClaimResult{}, err
	}
	now := time.Now().UTC()
	if ok && holder != string(holderID) && expires.After(now) {
		return kanban.ClaimResult{OK: false, ExistingHolder: domain.HolderID(holder)}, nil
	}
	if err := a.postClaimComment(ctx, taskID, holderID, now.Add(ttl)); err != nil {
		return kanban.ClaimResult{}, err
	}
	return kanban.ClaimResult{OK: true}, nil
}

func (a *Adapter) Renew(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) (bool, error) {
	res, err := a.Claim(ctx, taskID, holderID, a.claimTTL)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (a *Adapter) Release(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) error {
	holder, _, ok, err := a.getClaim(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok || holder != string(holderID) {
		return nil
	}
	return a.postClaimComment(ctx, taskID, "", time.Unix(0, 0).UTC())
}

func (a *Adapter) SetStatus(ctx context.Context, taskID domain.TaskID, status kanban.Status, source string) error {
	targetName, ok := a.statusNames[status]
	if !ok {
		return fmt.Errorf("jira: unknown status %q", status)
	}

	var current issue
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s", taskID), nil, &current); err != nil {
		return err
	}
	if current.Fields.Status.Name == targetName {
		return nil // already set — idempotent
	}

	type transition struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		To   struct {
			Name string `json:"name"`
		} `json:"to"`
	}
	var transitions struct {
		Transitions []transition `json:"transitions"`
	}
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s/transitions", taskID), nil, &transitions); err != nil {
		return err
	}

	for _, tr := range transitions.Transitions {
		if tr.To.Name == targetName {
			payload := map[string]any{"transition": map[string]string{"id": tr.ID}}
			return a.do(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/transitions", taskID), payload, nil)
		}
	}
	return fmt.Errorf("jira: no transition from %q to %q on %s", current.Fields.Status.Name, targetName, taskID)
}

// CreateOrUpdatePR has no Jira equivalent for a hosted PR object — Jira
// itself has no native PR concept. This records the PR description as an
// issue comment (idempotent on the (branch, baseBranch) marker already
// present in a prior comment) and returns an empty PRResult; the actual
// pull request is opened by whatever source-control adapter the repo is
// paired with, outside this kanban backend.
func (a *Adapter) CreateOrUpdatePR(ctx context.Context, branch, baseBranch, title, body string) (kanban.PRResult, error) {
	taskID, ok := extractIssueKey(branch)
	if !ok {
		return kanban.PRResult{}, fmt.Errorf("jira: branch %q does not carry a recognizable issue key", branch)
	}
	marker := fmt.Sprintf("bosun-pr:%s->%s", branch, baseBranch)

	var res commentsResponse
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/rest/api/3/issue/%s/comment", taskID), nil, &res); err != nil {
		return kanban.PRResult{}, err
	}
	for _, c := range res.Comments {
		if strings.HasPrefix(c.Body, marker) {
			return kanban.PRResult{}, nil // already recorded — idempotent
		}
	}

	payload := map[string]any{"body": fmt.Sprintf("%s\n%s\n\n%s", marker, title, body)}
	if err := a.do(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/comment", taskID), payload, nil); err != nil {
		return kanban.PRResult{}, err
	}
	return kanban.PRResult{}, nil
}

var issueKeyRe = regexp.MustCompile(`([A-Za-z][A-Za-z0-9]+-\d+)`)

// extractIssueKey pulls the leading "PROJ-123" style issue key out of a
// branch name such as "bosun/proj-123" (the scheduler's default branch for
// a task with no branch name) or "bosun/PROJ-123-fix-thing"; the key is
// returned upper-cased.
func extractIssueKey(branch string) (domain.TaskID, bool) {
	m := issueKeyRe.FindString(branch)
	if m == "" {
		return "", false
	}
	return domain.TaskID(strings.ToUpper(m)), true
}

func urlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteString("%20")
		case r == '"':
			b.WriteString("%22")
		case r == '=':
			b.WriteString("%3D")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ kanban.Adapter = (*Adapter)(nil)
