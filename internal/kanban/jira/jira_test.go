package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bosunhq/bosun/internal/kanban"
)

func TestExtractIssueKey(t *testing.T) {
	tests := []struct {
		branch string
		want   string
		ok     bool
	}{
		{"bosun/PROJ-123-fix-thing", "PROJ-123", true},
		{"bosun/proj-42-lowercase", "PROJ-42", true},
		{"main", "", false},
	}
	for _, tt := range tests {
		got, ok := extractIssueKey(tt.branch)
		if ok != tt.ok || string(got) != tt.want {
			t.Errorf("extractIssueKey(%q) = (%q, %v), want (%q, %v)", tt.branch, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUrlEscape(t *testing.T) {
	got := urlEscape(`project="X" AND status="To Do"`)
	want := `project%3D%22X%22%20AND%20status%3D%22To%20Do%22`
	if got != want {
		t.Errorf("urlEscape() = %q, want %q", got, want)
	}
}

func TestListParsesSearchResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(searchResponse{Issues: []issue{
			{Key: "PROJ-1", Fields: issueFields{Summary: "fix the bug", Updated: "2024-01-02T15:04:05.000-0700"}},
		}})
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, ProjectKey: "PROJ"})
	tasks, err := a.List(context.Background(), kanban.StatusTodo)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "PROJ-1" || tasks[0].Title != "fix the bug" {
		t.Errorf("List() = %+v, want one task PROJ-1", tasks)
	}
}

func TestClaimRefusesLiveHolderAndAllowsExpired(t *testing.T) {
	now := time.Now().UTC()
	var comments []map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			out := commentsResponse{}
			for i, c := range comments {
				out.Comments = append(out.Comments, struct {
					ID   string `json:"id"`
					Body string `json:"body"`
				}{ID: string(rune('0' + i)), Body: c["body"]})
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var body struct {
				Body string `json:"body"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			comments = append(comments, map[string]string{"body": body.Body})
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})

	comments = append(comments, map[string]string{"body": claimFieldPrefix + "holder-a:" + now.Add(time.Hour).Format(time.RFC3339)})

	res, err := a.Claim(context.Background(), "PROJ-1", "holder-b", time.Hour)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.OK || res.ExistingHolder != "holder-a" {
		t.Errorf("Claim() = %+v, want refused with existing holder-a", res)
	}

	comments = nil
	comments = append(comments, map[string]string{"body": claimFieldPrefix + "holder-a:" + now.Add(-time.Hour).Format(time.RFC3339)})
	res, err = a.Claim(context.Background(), "PROJ-1", "holder-b", time.Hour)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !res.OK {
		t.Errorf("Claim() = %+v, want to succeed over an expired claim", res)
	}
}

func TestRenewExtendsByConfiguredTTLNotDefault(t *testing.T) {
	var comments []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			out := commentsResponse{}
			for i, c := range comments {
				out.Comments = append(out.Comments, struct {
					ID   string `json:"id"`
					Body string `json:"body"`
				}{ID: string(rune('0' + i)), Body: c["body"]})
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var body struct {
				Body string `json:"body"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			comments = append(comments, map[string]string{"body": body.Body})
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL, ClaimTTL: 5 * time.Minute})
	before := time.Now().UTC()

	ok, err := a.Renew(context.Background(), "PROJ-1", "holder-a")
	if err != nil || !ok {
		t.Fatalf("Renew() = %v, err = %v, want success", ok, err)
	}

	_, expires, found, err := a.getClaim(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("getClaim() error = %v", err)
	}
	if !found {
		t.Fatal("Renew() did not post a claim comment")
	}
	if until := expires.Sub(before); until > 10*time.Minute {
		t.Errorf("Renew() extended lease by %v, want ~5m (the configured TTL, not the 3h default)", until)
	}
}

func TestSetStatusIsIdempotentWhenAlreadyInTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out issue
		out.Fields.Status.Name = "To Do"
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	if err := a.SetStatus(context.Background(), "PROJ-1", kanban.StatusTodo, "test"); err != nil {
		t.Errorf("SetStatus() error = %v, want nil (already in target status)", err)
	}
}
