// Package tasks covers the deferred-task lifecycle: draft creation through an
// external script, markdown task files with YAML frontmatter, execution of
// active tasks through the router, and the directory watcher.
package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const createTimeout = 30 * time.Second

// Creator shells out to the configured task-creation command to persist an
// async draft. The command prints the new task id on stdout.
type Creator struct {
	// Cmd is the command line, e.g. "bash /path/create.sh". Title and
	// description are appended as two extra arguments.
	Cmd string
	// Dir is the working directory for the spawned command.
	Dir string
}

// Create runs the creation command and returns the new task id. The id is
// taken from the first output line mentioning "task_id", else from the last
// non-empty line.
func (c *Creator) Create(ctx context.Context, title, description string) (string, error) {
	args := strings.Fields(c.Cmd)
	if len(args) == 0 {
		return "", fmt.Errorf("task creation command not configured")
	}
	runCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], append(args[1:], title, description)...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("task creation failed: %s", detail)
	}

	return extractTaskID(stdout.String())
}

func extractTaskID(output string) (string, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), "task_id") {
			if _, id, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(id), nil
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l, nil
		}
	}
	return "", fmt.Errorf("task creation produced no task id")
}
