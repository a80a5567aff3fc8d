package llm

import "testing"

func TestAccumulatorPreservesFragmentOrder(t *testing.T) {
	acc := &callAccumulator{}
	acc.apply(ToolCallDelta{Index: 0, ID: "call_abc", Name: "search_messages"})
	acc.apply(ToolCallDelta{Index: 0, Arguments: `{"a":1`})
	acc.apply(ToolCallDelta{Index: 0, Arguments: `}`})

	calls := acc.flush()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments != `{"a":1}` {
		t.Errorf("arguments = %q, want %q", calls[0].Arguments, `{"a":1}`)
	}
	if calls[0].ID != "call_abc" || calls[0].Name != "search_messages" {
		t.Errorf("unexpected call identity: %+v", calls[0])
	}
}

func TestAccumulatorMultipleIndexes(t *testing.T) {
	acc := &callAccumulator{}
	acc.apply(ToolCallDelta{Index: 1, ID: "b", Name: "second"})
	acc.apply(ToolCallDelta{Index: 0, ID: "a", Name: "first"})
	acc.apply(ToolCallDelta{Index: 0, Arguments: `{"x":true}`})

	calls := acc.flush()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("calls out of index order: %+v", calls)
	}
	if calls[1].Arguments != "{}" {
		t.Errorf("empty arguments should default to {}, got %q", calls[1].Arguments)
	}
}

func TestAccumulatorIDSticksNameConcatenates(t *testing.T) {
	acc := &callAccumulator{}
	acc.apply(ToolCallDelta{Index: 0, ID: "orig", Name: "look"})
	acc.apply(ToolCallDelta{Index: 0, ID: "other", Name: "up"})

	calls := acc.flush()
	if calls[0].ID != "orig" {
		t.Errorf("id should stick on first sight, got %q", calls[0].ID)
	}
	if calls[0].Name != "lookup" {
		t.Errorf("name fragments should concatenate, got %q", calls[0].Name)
	}
}

func TestAccumulatorSkipsNamelessBuilders(t *testing.T) {
	acc := &callAccumulator{}
	acc.apply(ToolCallDelta{Index: 2, ID: "c", Name: "real"})

	calls := acc.flush()
	if len(calls) != 1 || calls[0].Name != "real" {
		t.Fatalf("expected only the named call, got %+v", calls)
	}
}

func TestAccumulatorEmpty(t *testing.T) {
	acc := &callAccumulator{}
	if !acc.empty() {
		t.Error("fresh accumulator should be empty")
	}
	if calls := acc.flush(); calls != nil {
		t.Errorf("flush of empty accumulator = %+v, want nil", calls)
	}
}
