package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stupid-ve/ChatLab/llm"
	"go.uber.org/zap"
)

// Tag delimiters used by providers that embed tool calls and reasoning in
// plain assistant text instead of structured function calls.
const (
	thinkOpen     = "<think>"
	thinkClose    = "</think>"
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// ExtractThinking removes every well-formed <think>...</think> span from
// text and returns the joined inner contents plus the remaining text.
// Unmatched delimiters are left in place.
func ExtractThinking(text string) (thinking, remainder string) {
	var spans []string
	var out strings.Builder
	rest := text

	for {
		open := strings.Index(rest, thinkOpen)
		if open < 0 {
			break
		}
		closeRel := strings.Index(rest[open+len(thinkOpen):], thinkClose)
		if closeRel < 0 {
			break
		}
		inner := rest[open+len(thinkOpen) : open+len(thinkOpen)+closeRel]
		if trimmed := strings.TrimSpace(inner); trimmed != "" {
			spans = append(spans, trimmed)
		}
		out.WriteString(rest[:open])
		rest = rest[open+len(thinkOpen)+closeRel+len(thinkClose):]
	}
	out.WriteString(rest)
	return strings.Join(spans, "\n"), out.String()
}

// tagToolCall is the structured document expected inside a tool_call span.
// Arguments may be a JSON object or an already-serialized string.
type tagToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseTagToolCalls scans text for <tool_call>...</tool_call> spans and
// parses each span's body as a {name, arguments} document. Malformed spans
// are skipped. It returns the parsed calls plus the text with every scanned
// span removed; nil calls means no valid span was found and the caller
// should treat the text as plain content.
func ParseTagToolCalls(text string, log *zap.SugaredLogger) ([]llm.ToolCall, string) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var calls []llm.ToolCall
	var out strings.Builder
	rest := text

	for {
		open := strings.Index(rest, toolCallOpen)
		if open < 0 {
			break
		}
		closeRel := strings.Index(rest[open+len(toolCallOpen):], toolCallClose)
		if closeRel < 0 {
			break
		}
		inner := rest[open+len(toolCallOpen) : open+len(toolCallOpen)+closeRel]
		out.WriteString(rest[:open])
		rest = rest[open+len(toolCallOpen)+closeRel+len(toolCallClose):]

		var doc tagToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &doc); err != nil || doc.Name == "" {
			log.Debugw("skipping malformed tool call block", "error", err)
			continue
		}
		calls = append(calls, llm.ToolCall{
			Name:      doc.Name,
			Arguments: normalizeArguments(doc.Arguments),
		})
	}
	out.WriteString(rest)

	for i := range calls {
		calls[i].ID = syntheticCallID(i)
	}
	// Surrounding bytes are preserved exactly: streamed prefixes must stay
	// byte-aligned with the cleaned text.
	return calls, out.String()
}

// HasToolCallMarker reports whether text contains the opening tool-call tag.
// Cheap enough to run on every response before the full parser.
func HasToolCallMarker(text string) bool {
	return strings.Contains(text, toolCallOpen)
}

// normalizeArguments flattens the arguments field to opaque JSON text. A
// string value is unwrapped; an object is kept as serialized; absence means
// no arguments.
func normalizeArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "{}"
		}
		return s
	}
	return string(raw)
}

func syntheticCallID(i int) string {
	return fmt.Sprintf("call_%d", i)
}
