// Package engineevents parses the line-delimited, occasionally free-text
// JSON stream an engine subprocess writes to stdout.
package engineevents

import (
	"encoding/json"
	"strings"
)

// Type enumerates the recognized event variants.
type Type string

const (
	TypeStepStart  Type = "step_start"
	TypeStepFinish Type = "step_finish"
	TypeText       Type = "text"
	TypeError      Type = "error"
	TypeToolUse    Type = "tool_use"
	TypeResult     Type = "result"
)

// Tokens is a token count pair.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Event is the union of recognized engine stream event variants. Fields are
// populated per Type; callers should switch on Type before reading
// type-specific fields.
type Event struct {
	Type Type `json:"type"`

	// text / error
	Text string `json:"text,omitempty"`

	// error
	IsError bool   `json:"is_error,omitempty"`
	ErrorV  string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// tool_use
	ToolName string `json:"tool_name,omitempty"`
	Command  string `json:"command,omitempty"`

	// step_start / step_finish
	Part struct {
		Tokens *Tokens `json:"tokens,omitempty"`
	} `json:"part,omitempty"`
	Tokens *Tokens `json:"tokens,omitempty"`

	// result
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Extracted is what ParseLine returns for a line that contained a complete
// JSON object: the parsed event plus whatever free text followed the
// closing brace on the same line.
type Extracted struct {
	Event     *Event
	Remaining string
}

// ParseLine attempts to find and decode one complete, bracket-balanced JSON
// object at the start of line (after leading whitespace). Returns nil if the
// line does not start with '{' or the object does not decode into a
// recognized event variant.
func ParseLine(line string) *Extracted {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	end := balancedObjectEnd(trimmed)
	if end < 0 {
		return nil
	}
	raw := trimmed[:end+1]
	remaining := strings.TrimSpace(trimmed[end+1:])

	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil
	}
	if !isRecognized(ev.Type) {
		return nil
	}
	ev.Raw = json.RawMessage(raw)
	return &Extracted{Event: &ev, Remaining: remaining}
}

func isRecognized(t Type) bool {
	switch t {
	case TypeStepStart, TypeStepFinish, TypeText, TypeError, TypeToolUse, TypeResult:
		return true
	default:
		return false
	}
}

// balancedObjectEnd returns the index of the closing brace that balances the
// opening brace at s[0], tracking string escapes, or -1 if s never balances.
func balancedObjectEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString:
			switch r {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		default:
			switch r {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// TokenUsage extracts authoritative token counts from an event, checking
// result.usage, then step_finish.part.tokens, then step_finish.tokens, in
// that priority order. Returns ok=false if none are present.
func TokenUsage(ev *Event) (input, output int, ok bool) {
	if ev == nil {
		return 0, 0, false
	}
	if ev.Usage != nil {
		return ev.Usage.InputTokens, ev.Usage.OutputTokens, true
	}
	if ev.Part.Tokens != nil {
		return ev.Part.Tokens.Input, ev.Part.Tokens.Output, true
	}
	if ev.Tokens != nil {
		return ev.Tokens.Input, ev.Tokens.Output, true
	}
	return 0, 0, false
}

// ActionLabel maps a step's tool name / command string to a fixed action
// label, falling back to "Implementing" if nothing matches.
func ActionLabel(toolName, command string) string {
	tool := strings.ToLower(toolName)
	cmd := strings.ToLower(command)

	switch {
	case strings.Contains(tool, "read") || strings.Contains(cmd, "cat ") || strings.Contains(cmd, "grep"):
		return "Reading code"
	case strings.Contains(tool, "test") && (strings.Contains(tool, "write") || strings.Contains(cmd, "_test.")):
		return "Writing tests"
	case strings.Contains(cmd, "lint") || strings.Contains(tool, "lint"):
		return "Linting"
	case strings.Contains(cmd, "test") || strings.Contains(tool, "test"):
		return "Testing"
	case strings.Contains(cmd, "git add") || strings.Contains(tool, "stage"):
		return "Staging"
	case strings.Contains(cmd, "git commit") || strings.Contains(tool, "commit"):
		return "Committing"
	case strings.Contains(tool, "write") || strings.Contains(tool, "edit") || strings.Contains(cmd, "write"):
		return "Implementing"
	default:
		return "Implementing"
	}
}

// errorPattern classification for free text lines that never produced a
// structured {"type":"error",...} event.
var textErrorPatterns = []string{"rate limit", "quota", "connection", "model not found", "model_not_found"}

// ClassifyText runs in parallel with structured parsing: it inspects a raw
// (non-JSON or post-JSON-remainder) text line for rate-limit, quota,
// connection, or model-not-found patterns and returns a structured message
// if one matches.
func ClassifyText(line string) (message string, matched bool) {
	lower := strings.ToLower(line)
	for _, p := range textErrorPatterns {
		if strings.Contains(lower, p) {
			return line, true
		}
	}
	return "", false
}

var authKeywords = []string{"authentication", "auth failed", "unauthorized", "invalid api key", "invalid token", "not authenticated"}

// IsAuthFailure inspects an event for authentication-failure markers:
// type=="error", is_error==true, or error=="authentication_failed", combined
// with a message matching a fixed keyword set.
func IsAuthFailure(ev *Event) bool {
	if ev == nil {
		return false
	}
	if ev.Type != TypeError && !ev.IsError && ev.ErrorV != "authentication_failed" {
		return false
	}
	msg := strings.ToLower(ev.Message + " " + ev.Text + " " + ev.ErrorV)
	for _, kw := range authKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return ev.ErrorV == "authentication_failed"
}
