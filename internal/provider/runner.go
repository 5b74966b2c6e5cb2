// Package provider runs the CLI-based AI providers (codex, claude, gemini)
// as subprocesses. Each invocation is one-shot: prompt in as the final
// argument, reply out on stdout.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/logging"
)

// Failure kinds attached to RunError.
const (
	KindExecutableNotFound = "executable_not_found"
	KindNonzeroExit        = "nonzero_exit"
	KindEmptyOutput        = "empty_output"
	KindOAuthPrompt        = "oauth_prompt_detected"
	KindTimeout            = "timeout"
)

var ansiSequences = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// Interactive login prompts the gemini CLI prints on stdout when credentials
// expire. Treated as failures so the router can fall back instead of handing
// back a reply containing an auth URL.
var oauthMarkers = []string{
	"Please visit the following URL to authorize the application",
	"Enter the authorization code:",
}

// RunError is a provider invocation failure with a stable kind, so callers
// can distinguish missing binaries from crashes without parsing messages.
type RunError struct {
	Provider string
	Kind     string
	Detail   string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Detail)
}

// Runner invokes provider CLIs per the configured command lines.
type Runner struct {
	cfg *config.Config
}

// NewRunner builds a Runner over cfg.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run invokes one provider with the assembled prompt and returns its stdout.
// Gemini output is additionally stripped of ANSI escapes and screened for
// OAuth login prompts; other providers are taken verbatim. The subprocess
// gets its own process group and is killed as a group on timeout so
// provider-spawned children do not linger.
func (r *Runner) Run(ctx context.Context, provider, prompt string) (string, error) {
	cmdline := r.cfg.ProviderCmd(provider)
	if cmdline == "" {
		return "", &RunError{Provider: provider, Kind: KindExecutableNotFound, Detail: "no command configured"}
	}
	args := strings.Fields(cmdline)

	exePath, err := resolveExecutable(args[0])
	if err != nil {
		return "", &RunError{Provider: provider, Kind: KindExecutableNotFound, Detail: err.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, exePath, append(args[1:], prompt)...)
	cmd.Dir = r.cfg.RepoRoot
	cmd.Env = providerEnv(provider)
	setProcGroup(cmd)
	cmd.Cancel = func() error { return killProcGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	out := strings.TrimSpace(stdout.String())
	errOut := strings.TrimSpace(stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		return "", &RunError{
			Provider: provider,
			Kind:     KindTimeout,
			Detail:   fmt.Sprintf("timed out after %s", r.cfg.ProviderTimeout),
		}
	}
	if err != nil {
		detail := errOut
		if detail == "" {
			detail = out
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", &RunError{Provider: provider, Kind: KindNonzeroExit, Detail: detail}
	}
	if out == "" {
		return "", &RunError{Provider: provider, Kind: KindEmptyOutput, Detail: "provider produced no output"}
	}
	// Gemini leaks terminal escapes and interactive OAuth prompts onto stdout
	// even on a clean exit.
	if provider == "gemini" {
		out = strings.TrimSpace(ansiSequences.ReplaceAllString(out, ""))
		if marker := oauthMarker(out); marker != "" {
			return "", &RunError{Provider: provider, Kind: KindOAuthPrompt, Detail: marker}
		}
		if out == "" {
			return "", &RunError{Provider: provider, Kind: KindEmptyOutput, Detail: "provider produced no output"}
		}
	}

	logging.Infof("provider %s replied in %s (%d bytes)", provider, elapsed, len(out))
	return out, nil
}

// resolveExecutable finds the binary on PATH, then retries the fixed fallback
// directories. launchd and cron jobs often run with a stripped PATH.
func resolveExecutable(name string) (string, error) {
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range config.FallbackPaths {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("executable %q not found on PATH or fallback paths", name)
}

// providerEnv returns the subprocess environment. Gemini needs its state
// directory pinned to $HOME and encrypted storage disabled, but only when the
// caller has not already set those.
func providerEnv(provider string) []string {
	env := os.Environ()
	if provider != "gemini" {
		return env
	}
	if os.Getenv("GEMINI_CLI_HOME") == "" {
		if home, err := os.UserHomeDir(); err == nil {
			env = append(env, "GEMINI_CLI_HOME="+home)
		}
	}
	if os.Getenv("GEMINI_FORCE_ENCRYPTED_FILE_STORAGE") == "" {
		env = append(env, "GEMINI_FORCE_ENCRYPTED_FILE_STORAGE=false")
	}
	return env
}

func oauthMarker(output string) string {
	for _, m := range oauthMarkers {
		if strings.Contains(output, m) {
			return m
		}
	}
	return ""
}
