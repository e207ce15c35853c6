package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v66/github"

	"github.com/bosunhq/bosun/internal/kanban"
)

// newTestAdapter spins up an httptest server and points a go-github client
// at it, following the mux/server/teardown pattern go-github's own test
// suite uses for stubbing the GitHub API.
func newTestAdapter(t *testing.T) (*Adapter, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := gogithub.NewClient(nil)
	base, _ := url.Parse(srv.URL + "/")
	client.BaseURL = base

	return &Adapter{client: client, owner: "acme", repo: "widgets"}, mux
}

func TestStripClaimMarkerRemovesHiddenComment(t *testing.T) {
	body := "fix the thing\n\n<!-- bosun:claim holder=h1 expires=2024-01-01T00:00:00Z -->"
	got := stripClaimMarker(body)
	if got != "fix the thing" {
		t.Errorf("stripClaimMarker() = %q, want %q", got, "fix the thing")
	}
}

func TestClaimMarkerRoundTrips(t *testing.T) {
	expires := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	marker := claimMarker("holder-a", expires)

	holder, exp, ok := parseClaimMarker("some body\n\n" + marker)
	if !ok {
		t.Fatal("parseClaimMarker() failed to find the marker it just wrote")
	}
	if holder != "holder-a" || !exp.Equal(expires) {
		t.Errorf("parseClaimMarker() = (%q, %v), want (holder-a, %v)", holder, exp, expires)
	}
}

func TestParseClaimMarkerAbsent(t *testing.T) {
	_, _, ok := parseClaimMarker("plain issue body with no marker")
	if ok {
		t.Error("parseClaimMarker() found a marker that isn't there")
	}
}

func TestHasBosunLabel(t *testing.T) {
	withLabel := &gogithub.Issue{Labels: []*gogithub.Label{{Name: gogithub.String("bosun:todo")}}}
	if !hasBosunLabel(withLabel) {
		t.Error("expected hasBosunLabel() to find the bosun: label")
	}

	withoutLabel := &gogithub.Issue{Labels: []*gogithub.Label{{Name: gogithub.String("bug")}}}
	if hasBosunLabel(withoutLabel) {
		t.Error("expected hasBosunLabel() to find no bosun: label")
	}
}

func TestIssueToTaskFieldMapping(t *testing.T) {
	iss := &gogithub.Issue{
		Number: gogithub.Int(42),
		Title:  gogithub.String("fix the thing"),
		Body:   gogithub.String("details\n\n<!-- bosun:claim holder=h1 expires=2024-01-01T00:00:00Z -->"),
		User:   &gogithub.User{Login: gogithub.String("alice")},
	}
	got := issueToTask(iss, kanban.StatusTodo)
	if got.ID != "42" || got.Title != "fix the thing" || got.CreatorLogin != "alice" || got.Description != "details" {
		t.Errorf("issueToTask() = %+v, unexpected field mapping", got)
	}
}

func TestListFetchesByStatusLabel(t *testing.T) {
	a, mux := newTestAdapter(t)
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("labels"); got != "bosun:todo" {
			t.Errorf("labels query = %q, want bosun:todo", got)
		}
		json.NewEncoder(w).Encode([]*gogithub.Issue{
			{Number: gogithub.Int(1), Title: gogithub.String("first task")},
		})
	})

	tasks, err := a.List(context.Background(), kanban.StatusTodo)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "1" {
		t.Errorf("List() = %+v, want one task with id 1", tasks)
	}
}

func TestRenewExtendsByConfiguredTTLNotDefault(t *testing.T) {
	a, mux := newTestAdapter(t)
	a.claimTTL = 5 * time.Minute

	var captured gogithub.IssueRequest
	mux.HandleFunc("/repos/acme/widgets/issues/9", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(&gogithub.Issue{Number: gogithub.Int(9), Body: gogithub.String("task body")})
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(&gogithub.Issue{Number: gogithub.Int(9)})
	})

	before := time.Now().UTC()
	ok, err := a.Renew(context.Background(), "9", "holder-a")
	if err != nil || !ok {
		t.Fatalf("Renew() = %v, err = %v, want success", ok, err)
	}

	_, expires, found := parseClaimMarker(captured.GetBody())
	if !found {
		t.Fatal("Renew() did not write a claim marker into the issue body")
	}
	if until := expires.Sub(before); until > 10*time.Minute {
		t.Errorf("Renew() extended lease by %v, want ~5m (the configured TTL, not the 3h default)", until)
	}
}

func TestSetStatusIsIdempotentWhenLabelAlreadyPresent(t *testing.T) {
	a, mux := newTestAdapter(t)
	mux.HandleFunc("/repos/acme/widgets/issues/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&gogithub.Issue{
			Number: gogithub.Int(7),
			Labels: []*gogithub.Label{{Name: gogithub.String("bosun:todo")}},
		})
	})

	if err := a.SetStatus(context.Background(), "7", kanban.StatusTodo, "test"); err != nil {
		t.Errorf("SetStatus() error = %v, want nil (label already present)", err)
	}
}
