// Command bosun runs the core: it loads configuration, wires every
// component through explicit constructors with no package-level
// singletons, and drives the scheduler's pull loop until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bosunhq/bosun/internal/agentrunner"
	"github.com/bosunhq/bosun/internal/classifier"
	"github.com/bosunhq/bosun/internal/config"
	"github.com/bosunhq/bosun/internal/domain"
	"github.com/bosunhq/bosun/internal/eventbus"
	"github.com/bosunhq/bosun/internal/kanban"
	kbgithub "github.com/bosunhq/bosun/internal/kanban/github"
	kbjira "github.com/bosunhq/bosun/internal/kanban/jira"
	kblocal "github.com/bosunhq/bosun/internal/kanban/local"
	"github.com/bosunhq/bosun/internal/logx"
	"github.com/bosunhq/bosun/internal/maintenance"
	"github.com/bosunhq/bosun/internal/notify"
	"github.com/bosunhq/bosun/internal/notify/dingtalk"
	"github.com/bosunhq/bosun/internal/notify/discord"
	"github.com/bosunhq/bosun/internal/notify/feishu"
	"github.com/bosunhq/bosun/internal/notify/qq"
	"github.com/bosunhq/bosun/internal/notify/slack"
	"github.com/bosunhq/bosun/internal/notify/telegram"
	"github.com/bosunhq/bosun/internal/promptgen"
	anthropicgen "github.com/bosunhq/bosun/internal/promptgen/anthropic"
	openaigen "github.com/bosunhq/bosun/internal/promptgen/openai"
	"github.com/bosunhq/bosun/internal/scheduler"
	"github.com/bosunhq/bosun/internal/trustgate"
	"github.com/bosunhq/bosun/internal/workstream"
	"github.com/bosunhq/bosun/internal/worktree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosun: loading configuration:", err)
		os.Exit(1)
	}

	logx.Configure(cfg.Debug)
	printBanner(cfg)

	if err := os.MkdirAll(cfg.StateRoot, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "bosun: creating state root:", err)
		os.Exit(1)
	}
	workStreamLog := filepath.Join(cfg.StateRoot, "workstream.log")
	alertsLog := filepath.Join(cfg.StateRoot, "alerts.log")

	bus := eventbus.New(90*time.Second, 30*time.Second)

	kb, err := buildKanbanAdapter(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosun: building kanban adapter:", err)
		os.Exit(1)
	}
	if closer, ok := kb.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	repoRoot := cfg.AgentRepoRoot
	if repoRoot == "" {
		repoRoot = cfg.RepoRoot
	}
	wt, err := worktree.NewManager(repoRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosun: building worktree manager:", err)
		os.Exit(1)
	}

	runner := agentrunner.New(workStreamLog)
	policy := classifier.NewPolicy(cfg.MaxConsecutiveErrors, cfg.RateLimitCooldown())
	enricher := buildEnricher(cfg)
	mux := buildNotifier(cfg)

	holderID := domain.NewHolderID()
	sched := scheduler.New(scheduler.Config{
		MaxParallel:         cfg.MaxParallel,
		BaseBranchLimit:     cfg.BaseBranchLimit,
		PollInterval:        cfg.PollInterval(),
		TaskTimeout:         cfg.TaskTimeout(),
		ClaimTTL:            cfg.ClaimTTL(),
		ClaimRenewInterval:  cfg.ClaimRenewInterval(),
		DefaultTargetBranch: cfg.DefaultTargetBranch,
		NoopCooldown:        cfg.NoopCooldown(),
		DefaultSDK:          "codex",
		DefaultModel:        "",
		HeartbeatInterval:   15 * time.Second,
	}, holderID, kb, wt, runner, policy, bus, enricher)

	analyzer := workstream.New(workstream.Config{
		ErrorLoopThreshold:          cfg.ErrorLoopThreshold,
		ToolLoopThreshold:           cfg.ToolLoopThreshold,
		StuckThreshold:              cfg.StuckThreshold(),
		StuckSweepInterval:          cfg.StuckSweepInterval(),
		ReplayStartup:               cfg.AnalyzerReplayStartup,
		InitialReplayMaxSessionAge:  time.Duration(cfg.InitialReplayMaxSessionAgeMs) * time.Millisecond,
		AlertCooldownReplayMaxBytes: cfg.AlertCooldownReplayMaxBytes,
		CostAnomalyThresholdUSD:     cfg.CostAnomalyThresholdUSD,
	}, workStreamLog, alertsLog, bus)

	tailer, err := analyzer.Start()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bosun: starting work-stream analyzer:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Fan alerts and terminal task events out to every configured
	// notification channel, independent of whatever emitted them.
	bus.AddListener(func(ev domain.Event) {
		msg, ok := notifiableEvent(ev)
		if !ok {
			return
		}
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer sendCancel()
		for _, sendErr := range mux.Send(sendCtx, msg) {
			logx.WarnCF("notify", "channel send failed", map[string]any{"error": sendErr.Error()})
		}
	})

	analyzerStop := make(chan struct{})
	go analyzer.RunLoop(tailer, analyzerStop)

	staleSweepStop := make(chan struct{})
	go bus.RunStaleSweep(staleSweepStop)

	maintenanceStop := make(chan struct{})
	if src, ok := kb.(maintenance.Source); ok {
		gate := trustgate.NewConfig(cfg.IssueIngestionEnabled, cfg.RequireTrustedCreator, nil, cfg.GitHubOwner, nil, cfg.NewExternalTaskStatus, cfg.PostRejectionComment)
		sweep := maintenance.New(cfg.IngestionSweepCron, src, gate, time.Now())
		go sweep.Run(ctx, maintenanceStop)
	} else {
		logx.InfoCF("bosun", "kanban backend has no untriaged-issue source, ingestion sweep disabled", map[string]any{"backend": cfg.KanbanBackend})
	}

	bus.Emit(domain.EventSystemStarted, "", map[string]any{"holder": holderID})
	logx.InfoCF("bosun", "started", map[string]any{"backend": cfg.KanbanBackend, "max_parallel": cfg.MaxParallel})

	sched.Run(ctx)

	bus.Emit(domain.EventSystemStopping, "", nil)
	close(analyzerStop)
	close(staleSweepStop)
	close(maintenanceStop)
	_ = logx.Sync()
}

// notifiableEvent decides which bus events warrant a human-facing
// notification and maps them to a notify.Message. Routine lifecycle events
// (claimed, started) stay internal.
func notifiableEvent(ev domain.Event) (notify.Message, bool) {
	var title, body string
	severity := notify.SeverityMedium

	switch ev.Type {
	case domain.EventAlertRaised:
		title = "agent alert: " + fmt.Sprint(ev.Payload["alert_type"])
		body = fmt.Sprintf("task %s — severity %v", ev.TaskID, ev.Payload["severity"])
		if s, ok := ev.Payload["severity"].(string); ok {
			severity = notify.Severity(s)
		}
	case domain.EventTaskBlocked:
		title = "task blocked: " + ev.TaskID.String()
		body = fmt.Sprint(ev.Payload["reason"])
		severity = notify.SeverityHigh
	case domain.EventExecutorPaused:
		title = "executor paused"
		body = fmt.Sprint(ev.Payload["reason"])
		severity = notify.SeverityCritical
	case domain.EventTaskFinalizationFailed:
		title = "task finalization failed: " + ev.TaskID.String()
		body = fmt.Sprint(ev.Payload["reason"])
		severity = notify.SeverityHigh
	default:
		return notify.Message{}, false
	}

	return notify.Message{Title: title, Body: body, Severity: severity, OccurredAt: ev.Timestamp}, true
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
		dbPath := filepath.Join(cfg.StateRoot, "kanban.db")
		return kblocal.OpenWithTTL(dbPath, cfg.ClaimTTL())
	default:
		return nil, fmt.Errorf("unknown BOSUN_KANBAN_BACKEND %q", cfg.KanbanBackend)
	}
}

func buildEnricher(cfg *config.Config) promptgen.Enricher {
	switch cfg.PromptgenProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logx.WarnCF("bosun", "BOSUN_PROMPTGEN_PROVIDER=anthropic but ANTHROPIC_API_KEY unset, falling back to no enrichment", nil)
			return promptgen.Noop{}
		}
		return anthropicgen.New(cfg.AnthropicAPIKey, "")
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logx.WarnCF("bosun", "BOSUN_PROMPTGEN_PROVIDER=openai but OPENAI_API_KEY unset, falling back to no enrichment", nil)
			return promptgen.Noop{}
		}
		return openaigen.New(cfg.OpenAIAPIKey, "")
	default:
		return promptgen.Noop{}
	}
}

func buildNotifier(cfg *config.Config) *notify.Multi {
	var notifiers []notify.Notifier

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		n, err := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logx.WarnCF("bosun", "telegram notifier disabled", map[string]any{"error": err.Error()})
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifiers = append(notifiers, slack.New(cfg.SlackBotToken, cfg.SlackChannel))
	}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID != "" {
		n, err := discord.New(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			logx.WarnCF("bosun", "discord notifier disabled", map[string]any{"error": err.Error()})
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if cfg.FeishuAppID != "" && cfg.FeishuAppSecret != "" && cfg.FeishuChatID != "" {
		notifiers = append(notifiers, feishu.New(cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuChatID))
	}
	if cfg.DingTalkClientID != "" && cfg.DingTalkSecret != "" {
		notifiers = append(notifiers, dingtalk.New(cfg.DingTalkClientID, cfg.DingTalkSecret))
	}
	if cfg.QQAppID != "" && cfg.QQAppSecret != "" && cfg.QQChannelID != "" {
		notifiers = append(notifiers, qq.New(cfg.QQAppID, cfg.QQAppSecret, cfg.QQChannelID))
	}

	return notify.NewMulti(notifiers...)
}

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                        bosun                          ║")
	fmt.Printf("║  kanban backend: %-37s ║\n", cfg.KanbanBackend)
	fmt.Printf("║  max parallel:   %-37d ║\n", cfg.MaxParallel)
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()
}
