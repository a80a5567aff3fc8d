package agent

import (
	"testing"
)

func TestExtractThinking(t *testing.T) {
	thinking, remainder := ExtractThinking("before <think> plan it out </think>after")
	if thinking != "plan it out" {
		t.Errorf("thinking = %q", thinking)
	}
	if remainder != "before after" {
		t.Errorf("remainder = %q", remainder)
	}
}

func TestExtractThinkingMultipleSpans(t *testing.T) {
	thinking, remainder := ExtractThinking("<think>first</think>mid<think>second</think>end")
	if thinking != "first\nsecond" {
		t.Errorf("thinking = %q", thinking)
	}
	if remainder != "midend" {
		t.Errorf("remainder = %q", remainder)
	}
}

func TestExtractThinkingUnmatchedLeftAlone(t *testing.T) {
	in := "text with a lone <think> opener"
	thinking, remainder := ExtractThinking(in)
	if thinking != "" || remainder != in {
		t.Errorf("unmatched delimiter should be untouched, got (%q, %q)", thinking, remainder)
	}
}

func TestExtractThinkingIdempotent(t *testing.T) {
	_, remainder := ExtractThinking("a<think>x</think>b")
	again, final := ExtractThinking(remainder)
	if again != "" || final != remainder {
		t.Errorf("second pass should be a no-op, got (%q, %q)", again, final)
	}
}

func TestParseTagToolCallsRoundTrip(t *testing.T) {
	text := `I will look that up.
<tool_call>{"name": "lookup", "arguments": {"q": "x"}}</tool_call>`

	calls, cleaned := ParseTagToolCalls(text, nil)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "lookup" {
		t.Errorf("name = %q", calls[0].Name)
	}
	if calls[0].Arguments != `{"q": "x"}` {
		t.Errorf("arguments = %q", calls[0].Arguments)
	}
	if cleaned != "I will look that up.\n" {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestParseTagToolCallsPreservesSurroundingBytes(t *testing.T) {
	calls, cleaned := ParseTagToolCalls("\n<tool_call>{\"name\":\"lookup\",\"arguments\":{}}</tool_call>tail", nil)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if cleaned != "\ntail" {
		t.Errorf("cleaned = %q, surrounding bytes must survive untouched", cleaned)
	}
}

func TestParseTagToolCallsStringArguments(t *testing.T) {
	calls, _ := ParseTagToolCalls(`<tool_call>{"name":"lookup","arguments":"{\"q\":\"x\"}"}</tool_call>`, nil)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments != `{"q":"x"}` {
		t.Errorf("string arguments should unwrap, got %q", calls[0].Arguments)
	}
}

func TestParseTagToolCallsNoneIsNil(t *testing.T) {
	calls, cleaned := ParseTagToolCalls("just prose, no tags", nil)
	if calls != nil {
		t.Errorf("expected nil calls, got %+v", calls)
	}
	if cleaned != "just prose, no tags" {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestParseTagToolCallsSkipsMalformedBlock(t *testing.T) {
	text := `<tool_call>{broken</tool_call><tool_call>{"name":"good","arguments":{}}</tool_call>`
	calls, _ := ParseTagToolCalls(text, nil)
	if len(calls) != 1 || calls[0].Name != "good" {
		t.Fatalf("malformed block should be skipped, got %+v", calls)
	}
}

func TestParseTagToolCallsMissingArguments(t *testing.T) {
	calls, _ := ParseTagToolCalls(`<tool_call>{"name":"stats"}</tool_call>`, nil)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments != "{}" {
		t.Errorf("absent arguments should default to {}, got %q", calls[0].Arguments)
	}
	if calls[0].ID == "" {
		t.Error("parsed calls need synthetic ids")
	}
}

func TestHasToolCallMarker(t *testing.T) {
	if !HasToolCallMarker("x <tool_call> y") {
		t.Error("marker present but not detected")
	}
	if HasToolCallMarker("plain text") {
		t.Error("false positive on plain text")
	}
}
