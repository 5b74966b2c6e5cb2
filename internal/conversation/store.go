// Package conversation persists per-conversation memory as append-only JSONL
// files, one record per line. Readers tolerate malformed lines by skipping
// them; writers escape non-ASCII so the files stay grep-safe across locales.
package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf16"
)

const (
	// RoleUser and RoleAssistant are the only roles a record may carry.
	RoleUser      = "user"
	RoleAssistant = "assistant"

	maxIDLength = 120
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Record is one conversation turn.
type Record struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Store reads and appends conversation files under a base directory.
// Appends are serialized by a process-level mutex; only the router writes.
type Store struct {
	dir   string
	turns int // context window in turns; a window admits 2*turns records

	mu sync.Mutex
}

// NewStore creates a store rooted at dir keeping a last-N window of turns.
func NewStore(dir string, turns int) *Store {
	return &Store{dir: dir, turns: turns}
}

// SanitizeID normalizes a conversation identifier for use as a file name:
// runs of characters outside [A-Za-z0-9._-] become "_", the result is capped
// at 120 characters, and an empty input maps to "unknown".
func SanitizeID(id string) string {
	cleaned := unsafeIDChars.ReplaceAllString(strings.TrimSpace(id), "_")
	if len(cleaned) > maxIDLength {
		cleaned = cleaned[:maxIDLength]
	}
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// Path returns the JSONL file backing a conversation id.
func (s *Store) Path(conversationID string) string {
	return filepath.Join(s.dir, SanitizeID(conversationID)+".jsonl")
}

// LoadRecent reads the conversation file and returns the last 2*turns valid
// records in order. Missing files yield an empty slice. Lines that are empty,
// malformed, carry an unknown role, or have empty text are skipped.
func (s *Store) LoadRecent(conversationID string) ([]Record, error) {
	f, err := os.Open(s.Path(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	defer f.Close()

	var items []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		rec.Role = strings.ToLower(strings.TrimSpace(rec.Role))
		rec.Text = strings.TrimSpace(rec.Text)
		if (rec.Role != RoleUser && rec.Role != RoleAssistant) || rec.Text == "" {
			continue
		}
		items = append(items, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	keep := s.turns * 2
	if keep > 0 && len(items) > keep {
		items = items[len(items)-keep:]
	}
	return items, nil
}

// Append writes one record with a trailing newline, creating parent
// directories on first use. Best-effort durability: no fsync.
func (s *Store) Append(conversationID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(conversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open conversation for append: %w", err)
	}
	defer f.Close()

	row, err := json.Marshal(Record{Role: role, Text: text})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := f.Write(append(escapeNonASCII(row), '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// escapeNonASCII rewrites any rune above 0x7F as a \uXXXX escape (surrogate
// pairs for runes beyond the BMP). encoding/json leaves UTF-8 intact, but the
// on-disk contract requires ASCII-only lines.
func escapeNonASCII(b []byte) []byte {
	var out strings.Builder
	out.Grow(len(b))
	for _, r := range string(b) {
		if r < 0x80 {
			out.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&out, `\u%04x`, r)
	}
	return []byte(out.String())
}
