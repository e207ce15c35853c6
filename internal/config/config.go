// Package config loads Bosun's runtime configuration from the environment
// via struct tags, producing a single immutable value passed explicitly into
// every component at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide, immutable configuration value. It is
// constructed once at startup and passed explicitly into every component —
// no component imports a package-level singleton.
type Config struct {
	// Scheduler
	// MaxParallel also accepts VK_MAX_PARALLEL as an alias, applied in Load.
	MaxParallel     int `env:"MAX_PARALLEL" envDefault:"3"`
	BaseBranchLimit int `env:"BOSUN_BASE_BRANCH_LIMIT" envDefault:"0"`
	PollIntervalMs  int `env:"BOSUN_POLL_INTERVAL_MS" envDefault:"30000"`
	TaskTimeoutMs   int `env:"BOSUN_TASK_TIMEOUT_MS" envDefault:"21600000"`
	NoopCooldownMs  int `env:"BOSUN_NOOP_COOLDOWN_MS" envDefault:"1800000"`

	// Claims
	ClaimTTLMinutes       int `env:"BOSUN_CLAIM_TTL_MINUTES" envDefault:"180"`
	ClaimRenewIntervalMs  int `env:"BOSUN_CLAIM_RENEW_INTERVAL_MS" envDefault:"300000"`

	// Worktrees / branches
	RepoRoot            string `env:"REPO_ROOT"`
	AgentRepoRoot       string `env:"BOSUN_AGENT_REPO_ROOT"`
	DefaultTargetBranch string `env:"BOSUN_DEFAULT_TARGET_BRANCH" envDefault:"origin/main"`

	// Workspace / state
	Workspace  string `env:"BOSUN_WORKSPACE" envDefault:"./.bosun"`
	CacheRoot  string `env:"BOSUN_CACHE_ROOT" envDefault:"./.bosun/cache"`
	StateRoot  string `env:"BOSUN_STATE_ROOT" envDefault:"./.bosun/state"`

	// Work-stream analyzer
	ErrorLoopThreshold            int   `env:"AGENT_ERROR_LOOP_THRESHOLD" envDefault:"4"`
	ToolLoopThreshold             int   `env:"AGENT_TOOL_LOOP_THRESHOLD" envDefault:"10"`
	StuckThresholdMs              int64 `env:"AGENT_STUCK_THRESHOLD_MS" envDefault:"300000"`
	StuckSweepIntervalMs          int64 `env:"AGENT_STUCK_SWEEP_INTERVAL_MS" envDefault:"30000"`
	InitialReplayMaxSessionAgeMs  int64 `env:"AGENT_INITIAL_REPLAY_MAX_SESSION_AGE_MS" envDefault:"900000"`
	AlertCooldownReplayMaxBytes   int64 `env:"AGENT_ALERT_COOLDOWN_REPLAY_MAX_BYTES" envDefault:"2097152"`
	CostAnomalyThresholdUSD       float64 `env:"AGENT_COST_ANOMALY_THRESHOLD" envDefault:"1.0"`
	AnalyzerReplayStartup         bool  `env:"AGENT_ANALYZER_REPLAY_STARTUP" envDefault:"false"`

	// Classifier / recovery
	MaxConsecutiveErrors int `env:"BOSUN_MAX_CONSECUTIVE_ERRORS" envDefault:"5"`
	RateLimitCooldownMs  int `env:"BOSUN_RATE_LIMIT_COOLDOWN_MS" envDefault:"60000"`

	// Trust gate
	IssueIngestionEnabled bool   `env:"BOSUN_ISSUE_INGESTION" envDefault:"false"`
	RequireTrustedCreator bool   `env:"BOSUN_REQUIRE_TRUSTED_CREATOR" envDefault:"true"`
	NewExternalTaskStatus string `env:"BOSUN_NEW_EXTERNAL_TASK_STATUS" envDefault:"backlog"`
	PostRejectionComment  bool   `env:"BOSUN_POST_REJECTION_COMMENT" envDefault:"true"`

	// Kanban backend selection
	KanbanBackend string `env:"BOSUN_KANBAN_BACKEND" envDefault:"local"`

	// GitHub App auth (github kanban adapter)
	GitHubAppID          string `env:"BOSUN_GITHUB_APP_ID"`
	GitHubInstallationID string `env:"BOSUN_GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `env:"BOSUN_GITHUB_PRIVATE_KEY_PATH"`
	GitHubOwner          string `env:"BOSUN_GITHUB_OWNER"`
	GitHubRepo           string `env:"BOSUN_GITHUB_REPO"`

	// Jira kanban adapter
	JiraBaseURL  string `env:"BOSUN_JIRA_BASE_URL"`
	JiraEmail    string `env:"BOSUN_JIRA_EMAIL"`
	JiraAPIToken string `env:"BOSUN_JIRA_API_TOKEN"`
	JiraProject  string `env:"BOSUN_JIRA_PROJECT"`

	// Notifications
	TelegramBotToken string `env:"BOSUN_TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"BOSUN_TELEGRAM_CHAT_ID"`
	SlackBotToken    string `env:"BOSUN_SLACK_BOT_TOKEN"`
	SlackChannel     string `env:"BOSUN_SLACK_CHANNEL"`
	DiscordBotToken  string `env:"BOSUN_DISCORD_BOT_TOKEN"`
	DiscordChannelID string `env:"BOSUN_DISCORD_CHANNEL_ID"`
	FeishuAppID      string `env:"BOSUN_FEISHU_APP_ID"`
	FeishuAppSecret  string `env:"BOSUN_FEISHU_APP_SECRET"`
	FeishuChatID     string `env:"BOSUN_FEISHU_CHAT_ID"`
	DingTalkClientID string `env:"BOSUN_DINGTALK_CLIENT_ID"`
	DingTalkSecret   string `env:"BOSUN_DINGTALK_SECRET"`
	QQAppID          string `env:"BOSUN_QQ_APP_ID"`
	QQAppSecret      string `env:"BOSUN_QQ_APP_SECRET"`
	QQChannelID      string `env:"BOSUN_QQ_CHANNEL_ID"`

	// Prompt enrichment
	PromptgenProvider string `env:"BOSUN_PROMPTGEN_PROVIDER" envDefault:""`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`

	// Maintenance sweep
	IngestionSweepCron string `env:"BOSUN_INGESTION_SWEEP_CRON" envDefault:"*/10 * * * *"`

	Debug bool `env:"BOSUN_DEBUG" envDefault:"false"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// MAX_PARALLEL is the primary name; VK_MAX_PARALLEL is an accepted alias
	// for deployments that set the spec's original name instead.
	if _, set := os.LookupEnv("MAX_PARALLEL"); !set {
		if v, ok := os.LookupEnv("VK_MAX_PARALLEL"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parsing config: VK_MAX_PARALLEL: %w", err)
			}
			cfg.MaxParallel = n
		}
	}
	return cfg, nil
}

func (c *Config) PollInterval() time.Duration      { return time.Duration(c.PollIntervalMs) * time.Millisecond }
func (c *Config) TaskTimeout() time.Duration        { return time.Duration(c.TaskTimeoutMs) * time.Millisecond }
func (c *Config) ClaimTTL() time.Duration           { return time.Duration(c.ClaimTTLMinutes) * time.Minute }
func (c *Config) ClaimRenewInterval() time.Duration { return time.Duration(c.ClaimRenewIntervalMs) * time.Millisecond }
func (c *Config) StuckThreshold() time.Duration     { return time.Duration(c.StuckThresholdMs) * time.Millisecond }
func (c *Config) StuckSweepInterval() time.Duration { return time.Duration(c.StuckSweepIntervalMs) * time.Millisecond }
func (c *Config) RateLimitCooldown() time.Duration  { return time.Duration(c.RateLimitCooldownMs) * time.Millisecond }
func (c *Config) NoopCooldown() time.Duration       { return time.Duration(c.NoopCooldownMs) * time.Millisecond }
