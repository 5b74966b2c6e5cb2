package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/protocol"
)

// Executor runs one active task file through the router subprocess. The
// router stays a subprocess so its structured JSON errors, crash output and
// timeout remain distinguishable.
type Executor struct {
	// RouterCmd launches the router over the stdin/stdout protocol.
	// Empty means "this binary, route".
	RouterCmd []string
	// Timeout bounds one router call end to end.
	Timeout time.Duration
	// Dir is the working directory for the router subprocess.
	Dir string

	now func() time.Time // test hook
}

// NewExecutor builds an Executor; a zero timeout defaults to 310s.
func NewExecutor(routerCmd []string, timeout time.Duration, dir string) *Executor {
	if timeout <= 0 {
		timeout = 310 * time.Second
	}
	return &Executor{RouterCmd: routerCmd, Timeout: timeout, Dir: dir, now: time.Now}
}

// Execute runs the task at taskFile. On success the task moves to the
// sibling done/ directory; on failure its status flips to error, an error
// block is appended, and it moves to error/. A markdown execution log is
// written under <task root>/logs/ either way.
func (e *Executor) Execute(ctx context.Context, taskFile string) error {
	meta, body, err := ParseTaskFile(taskFile)
	if err != nil {
		return err
	}
	stem := strings.TrimSuffix(filepath.Base(taskFile), filepath.Ext(taskFile))
	taskID := meta.ID
	if taskID == "" {
		taskID = stem
	}
	title := meta.Title
	if title == "" {
		title = taskID
	}

	taskRoot := filepath.Dir(filepath.Dir(taskFile))
	logFile := filepath.Join(taskRoot, "logs", stem+".log")

	prompt := buildTaskPrompt(taskID, title, body)
	logging.Infof("executing task %s (provider=%s)", taskID, orUnknown(meta.Provider))

	resp := e.callRouter(ctx, taskID, prompt, meta.Provider)

	providerUsed := meta.Provider
	if resp.ProviderUsed != nil && *resp.ProviderUsed != "" {
		providerUsed = *resp.ProviderUsed
	}

	if resp.Status != "success" || resp.ReplyText == "" {
		errCode := "router_failed"
		if resp.ErrorCode != nil {
			errCode = *resp.ErrorCode
		}
		errText := fmt.Sprintf("router returned status=%s", resp.Status)
		if resp.Error != nil && *resp.Error != "" {
			errText = *resp.Error
		}
		if err := e.markError(taskFile, taskID, title, providerUsed, errCode, errText, logFile); err != nil {
			return err
		}
		return fmt.Errorf("task %s failed: %s: %s", taskID, errCode, errText)
	}

	if err := e.writeLog(logFile, taskID, title, "success", providerUsed, resp.ReplyText, "", ""); err != nil {
		return err
	}
	return e.finishTask(taskFile)
}

// callRouter spawns the router subprocess and parses its reply. Stdout is
// parsed as a structured envelope first, even on non-zero exit; only when no
// JSON comes back is a synthetic router_crashed (or router_timeout) envelope
// built.
func (e *Executor) callRouter(ctx context.Context, taskID, prompt, provider string) protocol.RouterResponse {
	requestID := "task_" + taskID
	req := protocol.RouterRequest{
		RequestID: requestID,
		SessionID: requestID,
		UserID:    "solar-async-tasks",
		Text:      prompt,
		Channel:   protocol.ChannelAsyncTask,
		Mode:      protocol.ModeDirectOnly,
		Provider:  provider,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return protocol.Failure(requestID, protocol.ErrRouterCrashed, "encode router request: "+err.Error())
	}

	args := e.RouterCmd
	if len(args) == 0 {
		self, err := os.Executable()
		if err != nil {
			return protocol.Failure(requestID, protocol.ErrRouterCrashed, "locate router binary: "+err.Error())
		}
		args = []string{self, "route"}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = e.Dir
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return protocol.Failure(requestID, protocol.ErrRouterTimeout, "router call timed out")
	}

	out := strings.TrimSpace(stdout.String())
	if out != "" {
		var resp protocol.RouterResponse
		if err := json.Unmarshal([]byte(out), &resp); err == nil && resp.Status != "" {
			return resp
		}
	}

	detail := strings.TrimSpace(stderr.String())
	if detail == "" {
		detail = out
	}
	if detail == "" {
		if runErr != nil {
			detail = runErr.Error()
		} else {
			detail = "router crashed with no output"
		}
	}
	resp := protocol.Failure(requestID, protocol.ErrRouterCrashed, detail)
	if provider != "" {
		resp.ProviderUsed = protocol.StringPtr(provider)
	}
	return resp
}

// markError flips the task to error state: status mutation, appended error
// block, execution log, rename into the sibling error/ directory.
func (e *Executor) markError(taskFile, taskID, title, providerUsed, errCode, errText, logFile string) error {
	raw, err := os.ReadFile(taskFile)
	if err != nil {
		return fmt.Errorf("read task for error marking: %w", err)
	}
	content := setStatus(string(raw), StatusError)
	content += fmt.Sprintf(
		"\n\n## Execution Error\n- time: %s\n- provider_attempted: %s\n- error_code: %s\n- error: %s\n",
		e.utcNow(), orUnknown(providerUsed), orUnknown(errCode), errText,
	)
	if err := os.WriteFile(taskFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write error-marked task: %w", err)
	}
	if err := e.writeLog(logFile, taskID, title, "error", providerUsed, "", errText, errCode); err != nil {
		return err
	}
	return moveToSibling(taskFile, "error")
}

// finishTask flips status to done and moves the file to the sibling done/
// directory so the watcher never re-dispatches it.
func (e *Executor) finishTask(taskFile string) error {
	raw, err := os.ReadFile(taskFile)
	if err != nil {
		return fmt.Errorf("read task for completion: %w", err)
	}
	if err := os.WriteFile(taskFile, []byte(setStatus(string(raw), StatusDone)), 0o644); err != nil {
		return fmt.Errorf("write completed task: %w", err)
	}
	return moveToSibling(taskFile, "done")
}

func (e *Executor) writeLog(logFile, taskID, title, outcome, providerUsed, resultText, errText, errCode string) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	lines := []string{
		"# Async Task Execution",
		"",
		"- outcome: " + outcome,
		"- task_id: " + taskID,
		"- title: " + title,
		"- executed_at: " + e.utcNow(),
		"- provider_used: " + orUnknown(providerUsed),
		"",
	}
	if outcome == "success" {
		lines = append(lines, "## Result", "", resultText)
	} else {
		lines = append(lines,
			"## Error",
			"",
			"- error_code: "+orUnknown(errCode),
			"- error: "+orUnknown(errText),
		)
	}
	if err := os.WriteFile(logFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}
	return nil
}

func (e *Executor) utcNow() string {
	return e.now().UTC().Format("2006-01-02T15:04:05Z")
}

func buildTaskPrompt(taskID, title, body string) string {
	return "You are executing a Solar asynchronous task.\n" +
		"Follow the task instructions exactly as written in the task body.\n" +
		"If the task asks to act as an agent and use a skill, do so.\n\n" +
		"Task ID: " + taskID + "\n" +
		"Task Title: " + title + "\n\n" +
		"Task Body:\n" + body
}

// moveToSibling renames the file into <task root>/<dirName>/, creating the
// directory first. Rename keeps the move atomic on one filesystem.
func moveToSibling(taskFile, dirName string) error {
	dest := filepath.Join(filepath.Dir(filepath.Dir(taskFile)), dirName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", dirName, err)
	}
	if err := os.Rename(taskFile, filepath.Join(dest, filepath.Base(taskFile))); err != nil {
		return fmt.Errorf("move task to %s/: %w", dirName, err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
