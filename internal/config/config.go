// Package config loads the gateway configuration from the environment.
// Every knob has a new-style SOLAR_ROUTER_* key and, where the deployed
// fleet still sets them, a legacy SOLAR_AI_* / SOLAR_* fallback.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/solarhq/solar/internal/protocol"
)

// Built-in provider invocations, used when no environment override is set.
// The codex default is assembled at runtime because it embeds the repo root
// and the ~/.codex state directory.
const (
	defaultClaudeCmd = "claude -p --permission-mode bypassPermissions --no-session-persistence"
	defaultGeminiCmd = "gemini -y -p"
)

// FallbackPaths is the fixed search path retried when a provider binary is
// not on PATH (launchd and cron strip the usual prefixes).
var FallbackPaths = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin", "/bin"}

// Config holds every runtime setting. Environment variables are read once at
// startup and never mutated.
type Config struct {
	// RepoRoot is the working directory for all spawned subprocesses.
	RepoRoot string

	// Router
	RuntimeDir       string // conversation files live under RuntimeDir/conversations
	SystemPromptFile string
	ContextTurns     int
	ProviderTimeout  time.Duration
	RouterTimeout    time.Duration
	ProviderPriority []string
	ProviderCmds     map[string]string // provider name -> command override
	Features         []string

	// Deferred tasks
	CreateTaskCmd string // command line for the external task creator
	TasksDir      string // task root; active/, error/, logs/ live beneath it
	ScanSchedule  string // cron spec for the watcher rescan

	// HTTP webhook bridge
	HTTPHost    string
	HTTPPort    int
	WebhookBase string
	DedupTTL    time.Duration
	DedupDB     string // optional sqlite path; empty = in-memory dedup

	// WebSocket bridge
	WSHost string
	WSPort int
	WSPath string

	// Outbound Telegram
	TelegramBotToken       string
	TelegramParseMode      string
	TelegramDisablePreview bool

	// RouterCmd is the command the task executor spawns to reach the router
	// over the stdin/stdout protocol. Empty means "this binary, route".
	RouterCmd []string
}

// FromEnv builds a Config from the process environment.
func FromEnv() *Config {
	repoRoot := getenv("SOLAR_REPO_ROOT", "")
	if repoRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			repoRoot = wd
		} else {
			repoRoot = "."
		}
	}

	c := &Config{
		RepoRoot:         repoRoot,
		RuntimeDir:       resolvePath(repoRoot, firstenv("sun/runtime/router", "SOLAR_ROUTER_RUNTIME_DIR", "SOLAR_RUNTIME_DIR")),
		SystemPromptFile: resolvePath(repoRoot, firstenv("core/skills/solar-router/assets/system_prompt.md", "SOLAR_ROUTER_SYSTEM_PROMPT_FILE", "SOLAR_SYSTEM_PROMPT_FILE")),
		ContextTurns:     atoiDefault(firstenv("12", "SOLAR_ROUTER_CONTEXT_TURNS", "SOLAR_CONTEXT_TURNS"), 12),
		ProviderTimeout:  secondsDefault(firstenv("300", "SOLAR_ROUTER_PROVIDER_TIMEOUT_SEC", "SOLAR_AI_PROVIDER_TIMEOUT_SEC"), 300),
		RouterTimeout:    secondsDefault(firstenv("310", "SOLAR_ROUTER_TIMEOUT_SEC", "SOLAR_AI_ROUTER_TIMEOUT_SEC"), 310),
		ProviderPriority: parsePriority(firstenv("codex,claude,gemini", "SOLAR_ROUTER_PROVIDER_PRIORITY", "SOLAR_AI_PROVIDER_PRIORITY")),
		ProviderCmds:     providerCmds(),
		Features:         parseList(os.Getenv("SOLAR_SYSTEM_FEATURES")),

		CreateTaskCmd: getenv("SOLAR_ASYNC_TASKS_CREATE_CMD", "bash "+filepath.Join(repoRoot, "core/skills/solar-async-tasks/scripts/create.sh")),
		TasksDir:      resolvePath(repoRoot, getenv("SOLAR_TASKS_DIR", "sun/runtime/tasks")),
		ScanSchedule:  getenv("SOLAR_TASKS_SCAN_SCHEDULE", "@every 1m"),

		HTTPHost:    getenv("SOLAR_HTTP_HOST", "127.0.0.1"),
		HTTPPort:    atoiDefault(os.Getenv("SOLAR_HTTP_PORT"), 8787),
		WebhookBase: strings.TrimRight(getenv("SOLAR_HTTP_WEBHOOK_BASE", "/webhook"), "/"),
		DedupTTL:    secondsDefault(os.Getenv("SOLAR_TELEGRAM_DEDUP_TTL_SECONDS"), 43200),
		DedupDB:     os.Getenv("SOLAR_DEDUP_DB"),

		WSHost: getenv("SOLAR_WS_HOST", "127.0.0.1"),
		WSPort: atoiDefault(os.Getenv("SOLAR_WS_PORT"), 8765),
		WSPath: getenv("SOLAR_WS_PATH", "/ws"),

		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramParseMode:      getenv("TELEGRAM_PARSE_MODE", "Markdown"),
		TelegramDisablePreview: parseBool(os.Getenv("TELEGRAM_DISABLE_PREVIEW"), true),
	}

	if raw := os.Getenv("SOLAR_ROUTER_CMD"); raw != "" {
		c.RouterCmd = strings.Fields(raw)
	}

	return c
}

// AsyncTasksEnabled reports whether the async-tasks feature flag is set.
func (c *Config) AsyncTasksEnabled() bool {
	for _, f := range c.Features {
		if f == "async-tasks" {
			return true
		}
	}
	return false
}

// ConversationDir is the directory holding per-conversation JSONL files.
func (c *Config) ConversationDir() string {
	return filepath.Join(c.RuntimeDir, "conversations")
}

// ProviderCmd returns the command line for a provider: the environment
// override if present, else the built-in default.
func (c *Config) ProviderCmd(provider string) string {
	if cmd, ok := c.ProviderCmds[provider]; ok && cmd != "" {
		return cmd
	}
	return c.defaultProviderCmd(provider)
}

func (c *Config) defaultProviderCmd(provider string) string {
	switch provider {
	case protocol.ProviderCodex:
		home, _ := os.UserHomeDir()
		codexState := filepath.Join(home, ".codex")
		return "codex exec --skip-git-repo-check --full-auto -C " + c.RepoRoot + " --add-dir " + codexState + " --"
	case protocol.ProviderClaude:
		return defaultClaudeCmd
	case protocol.ProviderGemini:
		return defaultGeminiCmd
	}
	return ""
}

// WSURL is the WebSocket bridge endpoint used by the HTTP bridge client.
func (c *Config) WSURL() string {
	return "ws://" + c.WSHost + ":" + strconv.Itoa(c.WSPort) + c.WSPath
}

// providerCmds collects per-provider command overrides, new key first.
func providerCmds() map[string]string {
	cmds := make(map[string]string)
	for _, p := range []string{protocol.ProviderCodex, protocol.ProviderClaude, protocol.ProviderGemini} {
		upper := strings.ToUpper(p)
		if v := strings.TrimSpace(firstenv("", "SOLAR_ROUTER_"+upper+"_CMD", "SOLAR_AI_"+upper+"_CMD")); v != "" {
			cmds[p] = v
		}
	}
	return cmds
}

// parsePriority filters a comma-separated provider list down to supported,
// deduplicated entries; an empty result falls back to the default order.
func parsePriority(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if protocol.SupportedProvider(p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{protocol.ProviderCodex, protocol.ProviderClaude, protocol.ProviderGemini}
	}
	return out
}

// parseList splits a comma-separated value into trimmed lowercase entries.
func parseList(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// getenv returns the value of key, or def when unset or empty.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// firstenv returns the first non-empty value among keys, else def.
func firstenv(def string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// resolvePath anchors a relative path at the repo root.
func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func secondsDefault(s string, def int) time.Duration {
	return time.Duration(atoiDefault(s, def)) * time.Second
}

// parseBool parses a string as boolean with a default value.
// Accepts: "true", "1", "yes" as true; empty returns default.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}
