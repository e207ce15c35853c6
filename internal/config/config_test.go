package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	clearBosunEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d, want 3", cfg.MaxParallel)
	}
	if cfg.KanbanBackend != "local" {
		t.Errorf("KanbanBackend = %q, want %q", cfg.KanbanBackend, "local")
	}
	if cfg.DefaultTargetBranch != "origin/main" {
		t.Errorf("DefaultTargetBranch = %q, want %q", cfg.DefaultTargetBranch, "origin/main")
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	clearBosunEnv(t)
	t.Setenv("MAX_PARALLEL", "7")
	t.Setenv("BOSUN_KANBAN_BACKEND", "github")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxParallel != 7 {
		t.Errorf("MaxParallel = %d, want 7", cfg.MaxParallel)
	}
	if cfg.KanbanBackend != "github" {
		t.Errorf("KanbanBackend = %q, want %q", cfg.KanbanBackend, "github")
	}
}

func TestLoadAcceptsVKMaxParallelAlias(t *testing.T) {
	clearBosunEnv(t)
	t.Setenv("VK_MAX_PARALLEL", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxParallel != 9 {
		t.Errorf("MaxParallel = %d, want 9 (from VK_MAX_PARALLEL)", cfg.MaxParallel)
	}
}

func TestLoadPrefersMaxParallelOverAlias(t *testing.T) {
	clearBosunEnv(t)
	t.Setenv("MAX_PARALLEL", "7")
	t.Setenv("VK_MAX_PARALLEL", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxParallel != 7 {
		t.Errorf("MaxParallel = %d, want 7 (MAX_PARALLEL takes precedence over the alias)", cfg.MaxParallel)
	}
}

func TestDurationHelpersConvertMillisecondFields(t *testing.T) {
	cfg := &Config{
		PollIntervalMs:       1000,
		TaskTimeoutMs:        2000,
		ClaimTTLMinutes:      3,
		ClaimRenewIntervalMs: 4000,
		StuckThresholdMs:     5000,
		StuckSweepIntervalMs: 6000,
		RateLimitCooldownMs:  7000,
		NoopCooldownMs:       8000,
	}

	if got := cfg.PollInterval(); got != time.Second {
		t.Errorf("PollInterval() = %v, want %v", got, time.Second)
	}
	if got := cfg.TaskTimeout(); got != 2*time.Second {
		t.Errorf("TaskTimeout() = %v, want %v", got, 2*time.Second)
	}
	if got := cfg.ClaimTTL(); got != 3*time.Minute {
		t.Errorf("ClaimTTL() = %v, want %v", got, 3*time.Minute)
	}
	if got := cfg.ClaimRenewInterval(); got != 4*time.Second {
		t.Errorf("ClaimRenewInterval() = %v, want %v", got, 4*time.Second)
	}
	if got := cfg.StuckThreshold(); got != 5*time.Second {
		t.Errorf("StuckThreshold() = %v, want %v", got, 5*time.Second)
	}
	if got := cfg.StuckSweepInterval(); got != 6*time.Second {
		t.Errorf("StuckSweepInterval() = %v, want %v", got, 6*time.Second)
	}
	if got := cfg.RateLimitCooldown(); got != 7*time.Second {
		t.Errorf("RateLimitCooldown() = %v, want %v", got, 7*time.Second)
	}
	if got := cfg.NoopCooldown(); got != 8*time.Second {
		t.Errorf("NoopCooldown() = %v, want %v", got, 8*time.Second)
	}
}

// clearBosunEnv unsets every BOSUN_*-prefixed variable plus MAX_PARALLEL,
// VK_MAX_PARALLEL, REPO_ROOT, ANTHROPIC_API_KEY and OPENAI_API_KEY, so the
// values these tests check do not come from the test process's inherited
// environment. AGENT_* variables are left as they are. Each variable is restored to
// its original value (or left unset) once the test completes.
func clearBosunEnv(t *testing.T) {
	t.Helper()
	var keys []string
	for _, e := range os.Environ() {
		for i := 0; i < len(e); i++ {
			if e[i] != '=' {
				continue
			}
			key := e[:i]
			if (len(key) >= 6 && key[:6] == "BOSUN_") || key == "MAX_PARALLEL" || key == "VK_MAX_PARALLEL" || key == "REPO_ROOT" || key == "ANTHROPIC_API_KEY" || key == "OPENAI_API_KEY" {
				keys = append(keys, key)
			}
			break
		}
	}
	for _, key := range keys {
		original, wasSet := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if wasSet {
				os.Setenv(key, original)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}
