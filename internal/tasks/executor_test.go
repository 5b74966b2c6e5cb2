//go:build !windows

package tasks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// routerScript writes a fake router binary that captures stdin and prints a
// fixed response.
func routerScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return []string{"sh", path}
}

func taskTree(t *testing.T) (root, taskFile string) {
	t.Helper()
	root = t.TempDir()
	taskFile = writeTask(t, root, filepath.Join("active", "task-1.md"), sampleTask)
	return root, taskFile
}

func TestExecuteSuccessMovesToDone(t *testing.T) {
	root, taskFile := taskTree(t)
	cmd := routerScript(t, `cat > /dev/null
echo '{"status":"success","request_id":"task_task-123","provider_used":"claude","reply_text":"report ready","decision":{"kind":"direct_reply","task_id":null,"priority_suggested":null},"error_code":null,"error":null}'`)

	e := NewExecutor(cmd, 5*time.Second, root)
	if err := e.Execute(context.Background(), taskFile); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(taskFile); !os.IsNotExist(err) {
		t.Error("task left in active/")
	}
	moved, err := os.ReadFile(filepath.Join(root, "done", "task-1.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(moved), "status: done") {
		t.Errorf("status not flipped:\n%s", moved)
	}

	log, err := os.ReadFile(filepath.Join(root, "logs", "task-1.log"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Async Task Execution", "- outcome: success", "- provider_used: claude", "## Result", "report ready"} {
		if !strings.Contains(string(log), want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
}

func TestExecuteStructuredFailureMovesToError(t *testing.T) {
	root, taskFile := taskTree(t)
	// Structured envelope on stdout, then exit 1: the envelope wins.
	cmd := routerScript(t, `cat > /dev/null
echo '{"status":"failed","request_id":"task_task-123","provider_used":null,"reply_text":"","decision":{"kind":"direct_reply","task_id":null,"priority_suggested":null},"error_code":"all_providers_failed","error":"all providers failed. last error: boom"}'
exit 1`)

	e := NewExecutor(cmd, 5*time.Second, root)
	if err := e.Execute(context.Background(), taskFile); err == nil {
		t.Fatal("expected error")
	}

	moved, err := os.ReadFile(filepath.Join(root, "error", "task-1.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"status: error", "## Execution Error", "- error_code: all_providers_failed", "all providers failed"} {
		if !strings.Contains(string(moved), want) {
			t.Errorf("task missing %q:\n%s", want, moved)
		}
	}
	log, err := os.ReadFile(filepath.Join(root, "logs", "task-1.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "- outcome: error") {
		t.Errorf("log = %s", log)
	}
}

func TestExecuteGarbageOutputIsRouterCrashed(t *testing.T) {
	root, taskFile := taskTree(t)
	cmd := routerScript(t, `cat > /dev/null
echo "segfault trace"
exit 139`)

	e := NewExecutor(cmd, 5*time.Second, root)
	if err := e.Execute(context.Background(), taskFile); err == nil {
		t.Fatal("expected error")
	}
	moved, err := os.ReadFile(filepath.Join(root, "error", "task-1.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(moved), "- error_code: router_crashed") {
		t.Errorf("task:\n%s", moved)
	}
}

func TestExecuteTimeoutIsRouterTimeout(t *testing.T) {
	root, taskFile := taskTree(t)
	cmd := routerScript(t, `cat > /dev/null
sleep 30`)

	e := NewExecutor(cmd, 500*time.Millisecond, root)
	if err := e.Execute(context.Background(), taskFile); err == nil {
		t.Fatal("expected error")
	}
	moved, err := os.ReadFile(filepath.Join(root, "error", "task-1.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(moved), "- error_code: router_timeout") {
		t.Errorf("task:\n%s", moved)
	}
}

func TestExecuteForwardsFrontmatterProvider(t *testing.T) {
	root, taskFile := taskTree(t)
	capture := filepath.Join(root, "request.json")
	cmd := routerScript(t, `cat > `+capture+`
echo '{"status":"success","request_id":"x","provider_used":"claude","reply_text":"ok","decision":{"kind":"direct_reply","task_id":null,"priority_suggested":null},"error_code":null,"error":null}'`)

	e := NewExecutor(cmd, 5*time.Second, root)
	if err := e.Execute(context.Background(), taskFile); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(capture)
	if err != nil {
		t.Fatal(err)
	}
	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatal(err)
	}
	if req["provider"] != "claude" {
		t.Errorf("provider = %v", req["provider"])
	}
	if req["channel"] != "async-task" || req["mode"] != "direct_only" {
		t.Errorf("request = %v", req)
	}
	if req["request_id"] != "task_task-123" || req["user_id"] != "solar-async-tasks" {
		t.Errorf("request = %v", req)
	}
	text, _ := req["text"].(string)
	for _, want := range []string{"You are executing a Solar asynchronous task.", "Task ID: task-123", "Task Title: Weekly report", "Task Body:"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
