package github

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/kanban"
	"github.com/bosunhq/bosun/internal/maintenance"
	"github.com/bosunhq/bosun/internal/trustgate"
)

// statusLabels maps the core's status taxonomy onto GitHub issue labels. The
// core never defines a kanban schema beyond this minimum.
var statusLabels = map[kanban.Status]string{
	kanban.StatusBacklog:    "bosun:backlog",
	kanban.StatusTodo:       "bosun:todo",
	kanban.StatusInProgress: "bosun:inprogress",
	kanban.StatusInReview:   "bosun:inreview",
	kanban.StatusDone:       "bosun:done",
	kanban.StatusCancelled:  "bosun:cancelled",
	kanban.StatusBlocked:    "bosun:blocked",
}

var claimMarkerRe = regexp.MustCompile(`<!-- bosun:claim holder=([^\s]+) expires=([^\s]+) -->`)

// defaultClaimTTL is used when New is called without an explicit TTL (e.g.
// by existing call sites and tests predating NewWithTTL).
const defaultClaimTTL = 3 * time.Hour

// Adapter is the GitHub Issues kanban adapter. The claim lease is recorded
// as a hidden HTML-comment marker in the issue body — the nearest GitHub
// analog to a kanban "custom field" without requiring Projects v2's GraphQL
// surface.
type Adapter struct {
	client   *gogithub.Client
	owner    string
	repo     string
	claimTTL time.Duration
}

// New constructs an Adapter authenticated via a GitHub App installation
// token source, renewing claims for defaultClaimTTL. Use NewWithTTL to honor
// an operator-configured lease duration.
func New(creds AppCredentials, owner, repo string) *Adapter {
	return NewWithTTL(creds, owner, repo, defaultClaimTTL)
}

// NewWithTTL is New with an explicit renewal TTL, so Renew extends a lease
// by the same duration the operator configured for Claim instead of a fixed
// default.
func NewWithTTL(creds AppCredentials, owner, repo string, claimTTL time.Duration) *Adapter {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	ts := oauth2.ReuseTokenSource(nil, NewAppTokenSource(creds))
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &Adapter{client: gogithub.NewClient(httpClient), owner: owner, repo: repo, claimTTL: claimTTL}
}

// LoadCredentialsFromFile reads a PEM private key from a config-provided
// file path and builds AppCredentials.
func LoadCredentialsFromFile(appID, installationID, keyPath string) (AppCredentials, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return AppCredentials{}, fmt.Errorf("github: reading private key: %w", err)
	}
	key, err := ParsePrivateKey(pemBytes)
	if err != nil {
		return AppCredentials{}, err
	}
	return AppCredentials{AppID: appID, InstallationID: installationID, PrivateKey: key}, nil
}

func (a *Adapter) List(ctx context.Context, status kanban.Status) ([]kanban.Task, error) {
	label, ok := statusLabels[status]
	if !ok {
		return nil, fmt.Errorf("github: unknown status %q", status)
	}
	issues, _, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, &gogithub.IssueListByRepoOptions{
		Labels: []string{label},
		State:  "open",
	})
	if err != nil {
		return nil, fmt.Errorf("github: list issues: %w", err)
	}

	out := make([]kanban.Task, 0, len(issues))
	for _, iss := range issues {
		out = append(out, issueToTask(iss, status))
	}
	return out, nil
}

func issueToTask(iss *gogithub.Issue, status kanban.Status) kanban.Task {
	t := kanban.Task{
		ID:     domain.TaskID(strconv.Itoa(iss.GetNumber())),
		Title:  iss.GetTitle(),
		Status: status,
	}
	if iss.User != nil {
		t.CreatorLogin = iss.User.GetLogin()
	}
	if iss.UpdatedAt != nil {
		t.UpdatedAt = iss.GetUpdatedAt().Time
	}
	body := iss.GetBody()
	t.Description = stripClaimMarker(body)
	return t
}

func stripClaimMarker(body string) string {
	return strings.TrimSpace(claimMarkerRe.ReplaceAllString(body, ""))
}

func (a *Adapter) issueNumber(taskID domain.TaskID) (int, error) {
	return strconv.Atoi(taskID.String())
}

// Claim writes the lease marker into the issue body, refusing a conflicting
// live claim by another holder.
func (a *Adapter) Claim(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID, ttl time.Duration) (kanban.ClaimResult, error) {
	num, err := a.issueNumber(taskID)
	if err != nil {
		return kanban.ClaimResult{}, err
	}
	iss, _, err := a.client.Issues.Get(ctx, a.owner, a.repo, num)
	if err != nil {
		return kanban.ClaimResult{}, fmt.Errorf("github: get issue: %w", err)
	}

	body := iss.GetBody()
	existingHolder, existingExpiry, hasMarker := parseClaimMarker(body)
	now := time.Now().UTC()
	if hasMarker && existingHolder != string(holderID) && existingExpiry.After(now) {
		return kanban.ClaimResult{OK: false, ExistingHolder: domain.HolderID(existingHolder)}, nil
	}

	newBody := stripClaimMarker(body) + "\n\n" + claimMarker(holderID, now.Add(ttl))
	_, _, err = a.client.Issues.Edit(ctx, a.owner, a.repo, num, &gogithub.IssueRequest{Body: &newBody})
	if err != nil {
		return kanban.ClaimResult{}, fmt.Errorf("github: edit issue: %w", err)
	}
	return kanban.ClaimResult{OK: true}, nil
}

func claimMarker(holder domain.HolderID, expires time.Time) string {
	return fmt.Sprintf("<!-- bosun:claim holder=%s expires=%s -->", holder, expires.Format(time.RFC3339))
}

func parseClaimMarker(body string) (holder string, expires time.Time, ok bool) {
	m := claimMarkerRe.FindStringSubmatch(body)
	if m == nil {
		return "", time.Time{}, false
	}
	expires, err := time.Parse(time.RFC3339, m[2])
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], expires, true
}

func (a *Adapter) Renew(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) (bool, error) {
	res, err := a.Claim(ctx, taskID, holderID, a.claimTTL)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (a *Adapter) Release(ctx context.Context, taskID domain.TaskID, holderID domain.HolderID) error {
	num, err := a.issueNumber(taskID)
	if err != nil {
		return err
	}
	iss, _, err := a.client.Issues.Get(ctx, a.owner, a.repo, num)
	if err != nil {
		return fmt.Errorf("github: get issue: %w", err)
	}
	holder, _, hasMarker := parseClaimMarker(iss.GetBody())
	if !hasMarker || holder != string(holderID) {
		return nil
	}
	newBody := stripClaimMarker(iss.GetBody())
	_, _, err = a.client.Issues.Edit(ctx, a.owner, a.repo, num, &gogithub.IssueRequest{Body: &newBody})
	return err
}

func (a *Adapter) SetStatus(ctx context.Context, taskID domain.TaskID, status kanban.Status, source string) error {
	num, err := a.issueNumber(taskID)
	if err != nil {
		return err
	}
	newLabel, ok := statusLabels[status]
	if !ok {
		return fmt.Errorf("github: unknown status %q", status)
	}

	iss, _, err := a.client.Issues.Get(ctx, a.owner, a.repo, num)
	if err != nil {
		return fmt.Errorf("github: get issue: %w", err)
	}
	for _, l := range iss.Labels {
		if l.GetName() == newLabel {
			return nil // already set — idempotent
		}
	}

	keep := make([]string, 0, len(iss.Labels))
	for _, l := range iss.Labels {
		name := l.GetName()
		if !strings.HasPrefix(name, "bosun:") {
			keep = append(keep, name)
		}
	}
	keep = append(keep, newLabel)

	_, _, err = a.client.Issues.ReplaceLabelsForIssue(ctx, a.owner, a.repo, num, keep)
	if err != nil {
		return fmt.Errorf("github: replace labels: %w", err)
	}
	if status == kanban.StatusDone || status == kanban.StatusCancelled {
		closed := "closed"
		_, _, err = a.client.Issues.Edit(ctx, a.owner, a.repo, num, &gogithub.IssueRequest{State: &closed})
	}
	return err
}

// CreateOrUpdatePR is idempotent on (branch, baseBranch): it searches for an
// existing open PR with that head/base pair before creating a new one.
func (a *Adapter) CreateOrUpdatePR(ctx context.Context, branch, baseBranch, title, body string) (kanban.PRResult, error) {
	head := a.owner + ":" + branch
	existing, _, err := a.client.PullRequests.List(ctx, a.owner, a.repo, &gogithub.PullRequestListOptions{
		Head:  head,
		Base:  baseBranch,
		State: "open",
	})
	if err == nil && len(existing) > 0 {
		pr := existing[0]
		return kanban.PRResult{PRNumber: pr.GetNumber(), PRUrl: pr.GetHTMLURL()}, nil
	}

	pr, _, err := a.client.PullRequests.Create(ctx, a.owner, a.repo, &gogithub.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  &baseBranch,
		Body:  &body,
	})
	if err != nil {
		return kanban.PRResult{}, fmt.Errorf("github: create PR: %w", err)
	}
	return kanban.PRResult{PRNumber: pr.GetNumber(), PRUrl: pr.GetHTMLURL()}, nil
}

// ListUnvetted returns open issues carrying none of the bosun: status
// labels yet — freshly filed issues the trust gate has not scored. This
// makes Adapter double as a maintenance.Source: the scheduled ingestion
// sweep re-scans exactly this set on a cron, independent of the scheduler's
// own poll loop.
func (a *Adapter) ListUnvetted(ctx context.Context) ([]trustgate.Item, error) {
	issues, _, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, &gogithub.IssueListByRepoOptions{
		State: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("github: list issues: %w", err)
	}

	out := make([]trustgate.Item, 0, len(issues))
	for _, iss := range issues {
		if iss.IsPullRequest() || hasBosunLabel(iss) {
			continue
		}
		creator := ""
		if iss.User != nil {
			creator = iss.User.GetLogin()
		}
		out = append(out, trustgate.Item{
			Creator: creator,
			Title:   iss.GetTitle(),
			Body:    stripClaimMarker(iss.GetBody()),
		})
	}
	return out, nil
}

func hasBosunLabel(iss *gogithub.Issue) bool {
	for _, l := range iss.Labels {
		if strings.HasPrefix(l.GetName(), "bosun:") {
			return true
		}
	}
	return false
}

// itemIssueNumber recovers the issue an ingested trustgate.Item came from by
// re-matching its title against open, unlabeled issues. The trust gate
// operates on title/body/creator only, so this is the cheapest way back to
// an issue number without widening trustgate.Item with a backend-specific
// field.
func (a *Adapter) itemIssueNumber(ctx context.Context, item trustgate.Item) (int, error) {
	issues, _, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, &gogithub.IssueListByRepoOptions{State: "open"})
	if err != nil {
		return 0, fmt.Errorf("github: list issues: %w", err)
	}
	for _, iss := range issues {
		if iss.IsPullRequest() || hasBosunLabel(iss) {
			continue
		}
		if iss.GetTitle() == item.Title {
			return iss.GetNumber(), nil
		}
	}
	return 0, fmt.Errorf("github: no open unlabeled issue matching %q", item.Title)
}

// Admit labels the issue with the given status, bringing it into the
// scheduler's normal pull loop.
func (a *Adapter) Admit(ctx context.Context, item trustgate.Item, status kanban.Status) error {
	num, err := a.itemIssueNumber(ctx, item)
	if err != nil {
		return err
	}
	return a.SetStatus(ctx, domain.TaskID(strconv.Itoa(num)), status, "maintenance")
}

// Reject comments the rejection reason and closes the issue without ever
// entering the scheduler.
func (a *Adapter) Reject(ctx context.Context, item trustgate.Item, reason string) error {
	num, err := a.itemIssueNumber(ctx, item)
	if err != nil {
		return err
	}
	comment := "Not ingested: " + reason
	if _, _, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, num, &gogithub.IssueComment{Body: &comment}); err != nil {
		return fmt.Errorf("github: comment rejection: %w", err)
	}
	closed := "closed"
	if _, _, err := a.client.Issues.Edit(ctx, a.owner, a.repo, num, &gogithub.IssueRequest{State: &closed}); err != nil {
		return fmt.Errorf("github: close rejected issue: %w", err)
	}
	return nil
}

var _ kanban.Adapter = (*Adapter)(nil)
var _ maintenance.Source = (*Adapter)(nil)
