package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stupid-ve/ChatLab/config"
	"github.com/stupid-ve/ChatLab/llm"
)

func echoDef(name string) llm.ToolDefinition {
	return llm.ToolDefinition{Name: name, Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"v": map[string]any{"type": "string"}},
	}}
}

func TestExecuteAllPreservesInputOrder(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	r.Register(echoDef("slow"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow-result", nil
	})
	r.Register(echoDef("fast"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		return "fast-result", nil
	})

	results := r.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "a", Name: "slow", Arguments: "{}"},
		{ID: "b", Name: "fast", Arguments: "{}"},
	}, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "slow-result" || results[1].Content != "fast-result" {
		t.Errorf("results out of input order: %+v", results)
	}
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	r.Register(echoDef("ok"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		return "fine", nil
	})
	r.Register(echoDef("bad"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		return "", errors.New("boom")
	})
	r.Register(echoDef("panics"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		panic("unexpected")
	})

	results := r.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "bad", Arguments: "{}"},
		{ID: "2", Name: "ok", Arguments: "{}"},
		{ID: "3", Name: "panics", Arguments: "{}"},
		{ID: "4", Name: "missing", Arguments: "{}"},
		{ID: "5", Name: "ok", Arguments: "{not json"},
	}, nil)

	if !results[0].Failed() || !strings.Contains(results[0].Output(), "boom") {
		t.Errorf("handler failure not reported: %+v", results[0])
	}
	if results[1].Failed() || results[1].Content != "fine" {
		t.Errorf("sibling call affected by failures: %+v", results[1])
	}
	if !results[2].Failed() || !strings.Contains(results[2].Err.Error(), "panicked") {
		t.Errorf("panic not converted to failure: %+v", results[2])
	}
	if !results[3].Failed() || !strings.Contains(results[3].Err.Error(), "unknown tool") {
		t.Errorf("unknown tool not reported: %+v", results[3])
	}
	if !results[4].Failed() || !strings.Contains(results[4].Err.Error(), "not valid JSON") {
		t.Errorf("argument parse failure not reported: %+v", results[4])
	}
}

func TestRegisterLastWins(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	r.Register(echoDef("dup"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		return "first", nil
	})
	r.Register(echoDef("dup"), func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		return "second", nil
	})

	results := r.ExecuteAll(context.Background(), []llm.ToolCall{{ID: "1", Name: "dup", Arguments: "{}"}}, nil)
	if results[0].Content != "second" {
		t.Errorf("last registration should win, got %q", results[0].Content)
	}
	if n := len(r.Definitions()); n != 1 {
		t.Errorf("duplicate registration inflated definitions: %d", n)
	}
}

func TestDefinitionsFiltered(t *testing.T) {
	r := NewRegistry(config.ToolFilter{Deny: []string{"internal_*"}}, nil)
	r.Register(echoDef("search_messages"), stub)
	r.Register(echoDef("internal_debug"), stub)

	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Name != "search_messages" {
		t.Errorf("deny filter not applied: %+v", defs)
	}

	allowOnly := NewRegistry(config.ToolFilter{Allow: []string{"search_*"}}, nil)
	allowOnly.Register(echoDef("search_messages"), stub)
	allowOnly.Register(echoDef("find_member"), stub)
	defs = allowOnly.Definitions()
	if len(defs) != 1 || defs[0].Name != "search_messages" {
		t.Errorf("allow filter not applied: %+v", defs)
	}
}

func TestValidateArgumentsSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword": map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
		},
		"required": []any{"keyword"},
	}

	if err := validateArguments(map[string]any{"keyword": "hi", "limit": float64(3)}, schema); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
	if err := validateArguments(map[string]any{"limit": float64(3)}, schema); err == nil {
		t.Error("missing required argument accepted")
	}
	if err := validateArguments(map[string]any{"keyword": 42.0}, schema); err == nil {
		t.Error("wrong primitive type accepted")
	}
	if err := validateArguments(map[string]any{"keyword": "x", "limit": 1.5}, schema); err == nil {
		t.Error("fractional value accepted for integer")
	}
	if err := validateArguments(map[string]any{"anything": true}, nil); err != nil {
		t.Errorf("nil schema should accept everything: %v", err)
	}
}

func stub(ctx context.Context, args map[string]any, tc *Context) (string, error) {
	return "", nil
}
