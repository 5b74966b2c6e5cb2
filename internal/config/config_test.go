package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("SOLAR_REPO_ROOT", root)

	c := FromEnv()
	if c.RepoRoot != root {
		t.Errorf("repo root = %q", c.RepoRoot)
	}
	if c.RuntimeDir != filepath.Join(root, "sun/runtime/router") {
		t.Errorf("runtime dir = %q", c.RuntimeDir)
	}
	if c.ConversationDir() != filepath.Join(root, "sun/runtime/router/conversations") {
		t.Errorf("conversation dir = %q", c.ConversationDir())
	}
	if c.ContextTurns != 12 {
		t.Errorf("context turns = %d", c.ContextTurns)
	}
	if c.ProviderTimeout != 300*time.Second || c.RouterTimeout != 310*time.Second {
		t.Errorf("timeouts = %v %v", c.ProviderTimeout, c.RouterTimeout)
	}
	if strings.Join(c.ProviderPriority, ",") != "codex,claude,gemini" {
		t.Errorf("priority = %v", c.ProviderPriority)
	}
	if c.HTTPPort != 8787 || c.WSPort != 8765 || c.WebhookBase != "/webhook" || c.WSPath != "/ws" {
		t.Errorf("network defaults = %+v", c)
	}
	if c.DedupTTL != 43200*time.Second {
		t.Errorf("dedup ttl = %v", c.DedupTTL)
	}
	if c.AsyncTasksEnabled() {
		t.Error("async tasks must default to disabled")
	}
	if c.WSURL() != "ws://127.0.0.1:8765/ws" {
		t.Errorf("ws url = %q", c.WSURL())
	}
}

func TestFromEnvLegacyKeyPrecedence(t *testing.T) {
	t.Setenv("SOLAR_REPO_ROOT", t.TempDir())
	t.Setenv("SOLAR_AI_PROVIDER_PRIORITY", "gemini,claude")
	t.Setenv("SOLAR_ROUTER_PROVIDER_PRIORITY", "claude")

	c := FromEnv()
	if strings.Join(c.ProviderPriority, ",") != "claude" {
		t.Errorf("new key must win over legacy: %v", c.ProviderPriority)
	}
}

func TestFromEnvLegacyKeyFallback(t *testing.T) {
	t.Setenv("SOLAR_REPO_ROOT", t.TempDir())
	t.Setenv("SOLAR_AI_PROVIDER_TIMEOUT_SEC", "42")

	c := FromEnv()
	if c.ProviderTimeout != 42*time.Second {
		t.Errorf("timeout = %v", c.ProviderTimeout)
	}
}

func TestParsePriorityFiltersUnknown(t *testing.T) {
	got := parsePriority("claude, gpt4 ,codex,claude")
	if strings.Join(got, ",") != "claude,codex" {
		t.Errorf("priority = %v", got)
	}
}

func TestParsePriorityEmptyFallsBack(t *testing.T) {
	got := parsePriority("gpt4,llama")
	if strings.Join(got, ",") != "codex,claude,gemini" {
		t.Errorf("priority = %v", got)
	}
}

func TestProviderCmdOverride(t *testing.T) {
	t.Setenv("SOLAR_REPO_ROOT", t.TempDir())
	t.Setenv("SOLAR_ROUTER_CLAUDE_CMD", "my-claude --fast")

	c := FromEnv()
	if c.ProviderCmd("claude") != "my-claude --fast" {
		t.Errorf("cmd = %q", c.ProviderCmd("claude"))
	}
	if !strings.HasPrefix(c.ProviderCmd("gemini"), "gemini -y -p") {
		t.Errorf("gemini default = %q", c.ProviderCmd("gemini"))
	}
	codex := c.ProviderCmd("codex")
	if !strings.Contains(codex, "-C "+c.RepoRoot) || !strings.Contains(codex, "--add-dir") {
		t.Errorf("codex default = %q", codex)
	}
}

func TestAsyncTasksFeatureFlag(t *testing.T) {
	t.Setenv("SOLAR_REPO_ROOT", t.TempDir())
	t.Setenv("SOLAR_SYSTEM_FEATURES", "voice, Async-Tasks ,metrics")

	c := FromEnv()
	if !c.AsyncTasksEnabled() {
		t.Error("feature list parsing must lowercase and trim")
	}
}

func TestRouterCmdSplit(t *testing.T) {
	t.Setenv("SOLAR_REPO_ROOT", t.TempDir())
	t.Setenv("SOLAR_ROUTER_CMD", "/usr/local/bin/solar route")

	c := FromEnv()
	if len(c.RouterCmd) != 2 || c.RouterCmd[1] != "route" {
		t.Errorf("router cmd = %v", c.RouterCmd)
	}
}
