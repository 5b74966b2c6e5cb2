// Package decision classifies a routed request: it parses the structured
// block a provider emits in auto mode and applies the per-mode policy rules.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/solarhq/solar/internal/protocol"
)

var (
	openFence  = regexp.MustCompile("^```[a-zA-Z]*\n?")
	closeFence = regexp.MustCompile("\n?```$")
)

// Parsed is the structured block recovered from provider output in auto mode.
type Parsed struct {
	Decision struct {
		Kind              string  `json:"kind"`
		TaskID            *string `json:"task_id"`
		PrioritySuggested *string `json:"priority_suggested"`
	} `json:"decision"`
	ReplyText *string `json:"reply_text"`

	// Degraded marks output that carried no parseable decision block; the
	// raw text is served as a direct reply instead of failing the request.
	Degraded bool `json:"-"`
}

// ErrEmptyOutput is returned when provider output is empty and nothing can be
// salvaged as a reply.
var ErrEmptyOutput = errors.New("provider output is empty and unparseable")

// ParseProviderOutput recovers the decision block from raw provider output.
// Three attempts, in order: the whole output as JSON (code fences stripped),
// the first balanced {...} object found in the text, then degradation to a
// direct reply carrying the raw text.
func ParseProviderOutput(raw string) (*Parsed, error) {
	text := strings.TrimSpace(raw)

	if p := tryDecode(stripCodeFences(text)); p != nil {
		return p, nil
	}
	if block := firstJSONObject(text); block != "" {
		if p := tryDecode(block); p != nil {
			return p, nil
		}
	}
	if text != "" {
		p := &Parsed{Degraded: true, ReplyText: &text}
		p.Decision.Kind = protocol.KindDirectReply
		return p, nil
	}
	return nil, ErrEmptyOutput
}

// tryDecode accepts candidate JSON only when it is an object with a
// "decision" member.
func tryDecode(candidate string) *Parsed {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return nil
	}
	if _, ok := probe["decision"]; !ok {
		return nil
	}
	var p Parsed
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return nil
	}
	return &p
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = openFence.ReplaceAllString(text, "")
	text = closeFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// firstJSONObject scans for the first balanced top-level {...} block,
// tracking strings and escapes so braces inside reply text do not confuse
// the match.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// Decide applies the routing policy. aiOutput must be non-nil exactly when
// mode is auto and the channel is not async-task; that is the only case where
// the provider output carries the decision.
func Decide(mode, channel string, aiOutput *string) (protocol.Decision, *Parsed, error) {
	switch mode {
	case protocol.ModeDirectOnly:
		return protocol.Decision{Kind: protocol.KindDirectReply}, nil, nil

	case protocol.ModeAsyncOnly:
		// async_only is resolved before any provider call; this arm only
		// fires if a caller reaches the engine anyway.
		return protocol.Decision{
			Kind:              protocol.KindAsyncDraftCreated,
			PrioritySuggested: protocol.StringPtr("normal"),
		}, nil, nil

	case protocol.ModeAuto:
		if channel == protocol.ChannelAsyncTask {
			return protocol.Decision{Kind: protocol.KindDirectReply}, nil, nil
		}
		if aiOutput == nil {
			return protocol.Decision{}, nil, errors.New("provider output required for mode=auto")
		}
		parsed, err := ParseProviderOutput(*aiOutput)
		if err != nil {
			return protocol.Decision{}, nil, err
		}
		kind := parsed.Decision.Kind
		if !protocol.ValidDecisionKind(kind) {
			kind = protocol.KindDirectReply
		}
		return protocol.Decision{
			Kind:              kind,
			TaskID:            parsed.Decision.TaskID,
			PrioritySuggested: parsed.Decision.PrioritySuggested,
		}, parsed, nil
	}

	return protocol.Decision{}, nil, fmt.Errorf("unknown mode: %s", mode)
}
