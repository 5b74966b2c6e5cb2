package tasks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task statuses recognized in frontmatter.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusDone   = "done"
	StatusError  = "error"
)

// Meta is the YAML frontmatter of a task file. Unknown keys are ignored.
type Meta struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Status   string `yaml:"status"`
	Provider string `yaml:"provider"`
	Priority string `yaml:"priority"`
	Created  string `yaml:"created"`
}

// ParseTaskFile reads a markdown task file and returns its frontmatter and
// the body with frontmatter removed. A file with no frontmatter yields a
// zero Meta and the full content as body.
func ParseTaskFile(path string) (Meta, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, "", fmt.Errorf("read task file: %w", err)
	}
	fm, body := splitFrontmatter(string(raw))
	var meta Meta
	if fm != "" {
		if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
			return Meta{}, "", fmt.Errorf("parse task frontmatter: %w", err)
		}
	}
	meta.Provider = strings.ToLower(strings.TrimSpace(meta.Provider))
	meta.Status = strings.ToLower(strings.TrimSpace(meta.Status))
	return meta, strings.TrimSpace(body), nil
}

// splitFrontmatter separates a leading "---" delimited block from the rest.
func splitFrontmatter(content string) (string, string) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	// Unterminated frontmatter: treat everything as body.
	return "", content
}

// setStatus rewrites the "status:" line in raw task file content.
func setStatus(content, status string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "status:") {
			lines[i] = "status: " + status
			break
		}
	}
	return strings.Join(lines, "\n")
}
