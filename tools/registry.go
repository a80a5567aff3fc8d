// Package tools maps tool names to schemas and handlers and runs batches
// of model-issued tool calls, normalizing every outcome (success, bad
// arguments, handler failure, panic) into one result per call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stupid-ve/ChatLab/config"
	"github.com/stupid-ve/ChatLab/llm"
	"go.uber.org/zap"
)

// Handler executes one tool call with already-parsed arguments.
type Handler func(ctx context.Context, args map[string]any, tc *Context) (string, error)

type entry struct {
	def     llm.ToolDefinition
	handler Handler
}

// Registry holds the registered tools. Registration is last-wins by name;
// definitions are immutable once stored.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	order  []string
	filter config.ToolFilter
	log    *zap.SugaredLogger
}

// NewRegistry creates an empty registry. The filter restricts which tools
// Definitions exposes; registration itself is never filtered.
func NewRegistry(filter config.ToolFilter, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		tools:  make(map[string]entry),
		filter: filter,
		log:    log,
	}
}

// Register stores a tool. Re-registering a name replaces the previous
// definition and handler.
func (r *Registry) Register(def llm.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition needs a name")
	}
	if h == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = entry{def: def, handler: h}
	r.log.Debugw("registered tool", "tool", def.Name)
	return nil
}

// Definitions returns the registered definitions in registration order,
// restricted by the configured allow/deny globs.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []llm.ToolDefinition
	for _, name := range r.order {
		if !r.exposed(name) {
			continue
		}
		out = append(out, r.tools[name].def)
	}
	return out
}

func (r *Registry) exposed(name string) bool {
	for _, pattern := range r.filter.Deny {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(r.filter.Allow) == 0 {
		return true
	}
	for _, pattern := range r.filter.Allow {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Result is the normalized outcome of one tool call.
type Result struct {
	Call    llm.ToolCall
	Content string
	Err     error
}

// Failed reports whether the call produced an error instead of content.
func (res Result) Failed() bool { return res.Err != nil }

// Output is the text to feed back to the model: the result on success, a
// plain error description on failure so the model can adapt.
func (res Result) Output() string {
	if res.Err != nil {
		return "error: " + res.Err.Error()
	}
	return res.Content
}

// ExecuteAll runs every call and returns one Result per input call in the
// same index order. Calls run concurrently; a failing call never affects
// its siblings.
func (r *Registry) ExecuteAll(ctx context.Context, calls []llm.ToolCall, tc *Context) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = r.executeOne(ctx, call, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (r *Registry) executeOne(ctx context.Context, call llm.ToolCall, tc *Context) (res Result) {
	res.Call = call
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, rec)
		}
		r.log.Debugw("tool executed",
			"tool", call.Name,
			"call_id", call.ID,
			"failed", res.Err != nil,
			"duration_ms", time.Since(start).Milliseconds())
	}()

	r.mu.RLock()
	ent, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Err = fmt.Errorf("unknown tool %q", call.Name)
		return res
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		res.Err = fmt.Errorf("tool %s arguments are not valid JSON: %w", call.Name, err)
		return res
	}
	if err := validateArguments(args, ent.def.Parameters); err != nil {
		res.Err = fmt.Errorf("tool %s: %w", call.Name, err)
		return res
	}

	content, err := ent.handler(ctx, args, tc)
	if err != nil {
		res.Err = fmt.Errorf("tool %s failed: %w", call.Name, err)
		return res
	}
	res.Content = content
	return res
}

// parseArguments decodes the opaque argument text. Empty text means no
// arguments.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
