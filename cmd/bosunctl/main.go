// Command bosunctl is an interactive inspector for a running bosun
// deployment: it opens the same kanban backend and state directory bosun
// itself would, then lets an operator poke at task/claim state and tail
// alerts without having to read sqlite or the kanban UI directly. The
// prompt-loop shape follows the agentic-shell example's REPL idiom built on
// chzyer/readline (history file, Ctrl+C/Ctrl+D handling, slash-command
// dispatch).
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/bosunhq/bosun/internal/config"
	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/kanban"
	kbgithub "github.com/bosunhq/bosun/internal/kanban/github"
	kbjira "github.com/bosunhq/bosun/internal/kanban/jira"
	kblocal "github.com/bosunhq/bosun/internal/kanban/local"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosunctl: loading configuration:", err)
		os.Exit(1)
	}

	kb, err := buildKanbanAdapter(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosunctl: building kanban adapter:", err)
		os.Exit(1)
	}
	if closer, ok := kb.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	alertsLog := filepath.Join(cfg.StateRoot, "alerts.log")

	runREPL(kb, cfg, alertsLog)
}

func buildKanbanAdapter(cfg *config.Config) (kanban.Adapter, error) {
	switch cfg.KanbanBackend {
	case "github":
		if cfg.GitHubAppID == "" || cfg.GitHubInstallationID == "" || cfg.GitHubPrivateKeyPath == "" {
			return nil, fmt.Errorf("github kanban backend requires BOSUN_GITHUB_APP_ID, BOSUN_GITHUB_INSTALLATION_ID, BOSUN_GITHUB_PRIVATE_KEY_PATH")
		}
		creds, err := kbgithub.LoadCredentialsFromFile(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return kbgithub.NewWithTTL(creds, cfg.GitHubOwner, cfg.GitHubRepo, cfg.ClaimTTL()), nil
	case "jira":
		if cfg.JiraBaseURL == "" || cfg.JiraEmail == "" || cfg.JiraAPIToken == "" {
			return nil, fmt.Errorf("jira kanban backend requires BOSUN_JIRA_BASE_URL, BOSUN_JIRA_EMAIL, BOSUN_JIRA_API_TOKEN")
		}
		return kbjira.New(kbjira.Config{
			BaseURL:    cfg.JiraBaseURL,
			Email:      cfg.JiraEmail,
			APIToken:   cfg.JiraAPIToken,
			ProjectKey: cfg.JiraProject,
			ClaimTTL:   cfg.ClaimTTL(),
		}), nil
	case "local", "":
		return kblocal.OpenWithTTL(filepath.Join(cfg.StateRoot, "kanban.db"), cfg.ClaimTTL())
	default:
		return nil, fmt.Errorf("unknown BOSUN_KANBAN_BACKEND %q", cfg.KanbanBackend)
	}
}

var allStatuses = []kanban.Status{
	kanban.StatusBacklog, kanban.StatusTodo, kanban.StatusInProgress,
	kanban.StatusInReview, kanban.StatusDone, kanban.StatusCancelled, kanban.StatusBlocked,
}

func runREPL(kb kanban.Adapter, cfg *config.Config, alertsLog string) {
	fmt.Printf("bosunctl — inspecting %q kanban backend (state root %s)\n", cfg.KanbanBackend, cfg.StateRoot)
	fmt.Println("type 'help' for commands, 'exit' or Ctrl-D to quit")

	historyPath := filepath.Join(cfg.StateRoot, ".bosunctl_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "bosun> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bosunctl: readline init: %v\n", err)
		return
	}
	defer rl.Close()

	ctx := context.Background()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF (Ctrl-D)
			return
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "exit", "quit":
			return
		case "help", "?":
			printHelp()
		case "status":
			printStatusSummary(ctx, kb)
		case "tasks":
			printTasks(ctx, kb, args)
		case "claims":
			printClaims(ctx, kb)
		case "alerts":
			tailAlerts(alertsLog, args)
		case "release":
			forceRelease(ctx, kb, args)
		default:
			fmt.Printf("unknown command %q — type 'help' for commands\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  status                  counts of tasks by status
  tasks [status]          list tasks, optionally filtered by status
  claims                  list tasks currently held by a claim
  alerts [n]              show the last n lines of the alerts log (default 20)
  release <task-id> <holder-id>
                          force-release a stuck claim
  help                    show this message
  exit                    quit`)
}

func printStatusSummary(ctx context.Context, kb kanban.Adapter) {
	for _, status := range allStatuses {
		tasks, err := kb.List(ctx, status)
		if err != nil {
			fmt.Printf("  %-12s error: %v\n", status, err)
			continue
		}
		fmt.Printf("  %-12s %d\n", status, len(tasks))
	}
}

func printTasks(ctx context.Context, kb kanban.Adapter, args []string) {
	statuses := allStatuses
	if len(args) > 0 {
		statuses = []kanban.Status{kanban.Status(args[0])}
	}

	var rows []kanban.Task
	for _, status := range statuses {
		tasks, err := kb.List(ctx, status)
		if err != nil {
			fmt.Printf("listing %s: %v\n", status, err)
			continue
		}
		rows = append(rows, tasks...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })

	if len(rows) == 0 {
		fmt.Println("(no tasks)")
		return
	}
	for _, t := range rows {
		fmt.Printf("  %-8s %-11s %-40s branch=%s\n", t.ID, t.Status, truncateTitle(t.Title, 40), t.BranchName)
	}
}

func printClaims(ctx context.Context, kb kanban.Adapter) {
	tasks, err := kb.List(ctx, kanban.StatusInProgress)
	if err != nil {
		fmt.Println("listing in-progress tasks:", err)
		return
	}
	if len(tasks) == 0 {
		fmt.Println("(no active claims)")
		return
	}
	for _, t := range tasks {
		fmt.Printf("  %-8s %-40s branch=%s pr=%s\n", t.ID, truncateTitle(t.Title, 40), t.BranchName, t.PRUrl)
	}
}

func forceRelease(ctx context.Context, kb kanban.Adapter, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: release <task-id> <holder-id>")
		return
	}
	taskID := domain.TaskID(args[0])
	holderID := domain.HolderID(args[1])
	if err := kb.Release(ctx, taskID, holderID); err != nil {
		fmt.Println("release failed:", err)
		return
	}
	fmt.Printf("released claim on %s held by %s\n", taskID, holderID)
}

func tailAlerts(path string, args []string) {
	n := 20
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("(no alerts logged yet)")
			return
		}
		fmt.Println("opening alerts log:", err)
		return
	}
	defer f.Close()

	lines, err := lastLines(f, n)
	if err != nil {
		fmt.Println("reading alerts log:", err)
		return
	}
	if len(lines) == 0 {
		fmt.Println("(no alerts logged yet)")
		return
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

// lastLines reads all lines of r and returns at most the last n, in order.
// The alerts log is a small append-only JSONL file, so a full scan is
// simpler and cheap enough — no need for the work-stream tailer's seek-back
// logic, which exists to avoid rereading a multi-GB file on every poll tick.
func lastLines(r io.Reader, n int) ([]string, error) {
	var all []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func truncateTitle(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
