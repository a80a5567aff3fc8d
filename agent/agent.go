// Package agent drives multi-round conversations between a model and the
// registered tools: it assembles the transcript, calls the model, executes
// the tool calls each response asks for, and loops until the model produces
// a final answer or the round limit forces one.
package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/stupid-ve/ChatLab/errors"
	"github.com/stupid-ve/ChatLab/llm"
	"github.com/stupid-ve/ChatLab/tools"
	"go.uber.org/zap"
)

// State is the terminal condition of a run.
type State string

const (
	// StateCompleted means the model produced a final answer on its own.
	StateCompleted State = "completed"
	// StateAborted means the run was cancelled; partial content may be set.
	StateAborted State = "aborted"
	// StateForcedSummary means the round limit was reached and the answer
	// came from the mandatory no-tools summary call.
	StateForcedSummary State = "forced-summary"
)

// DefaultMaxRounds bounds tool-executing rounds when the config leaves the
// limit unset.
const DefaultMaxRounds = 5

// Result is the outcome of one run.
type Result struct {
	Content   string
	ToolsUsed []string
	Rounds    int
	Usage     llm.Usage
	State     State
}

// Config tunes one Agent.
type Config struct {
	MaxRounds   int
	Temperature *float64
	MaxTokens   int
	Variant     Variant
	Overrides   PromptOverrides
	// RequestID identifies the run in the cancel registry. Generated when
	// empty.
	RequestID string
	Cancels   *CancelRegistry
	Log       *zap.SugaredLogger
}

// Agent orchestrates one conversation. Not safe for concurrent runs; each
// run owns its transcript exclusively.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	toolCtx  *tools.Context
	prior    []llm.Message
	cfg      Config
	log      *zap.SugaredLogger
}

// New builds an Agent over a model client and a tool registry. Prior turns
// are replayed verbatim ahead of each new user turn.
func New(client llm.Client, registry *tools.Registry, toolCtx *tools.Context, prior []llm.Message, cfg Config) *Agent {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.RequestID == "" {
		cfg.RequestID = uuid.NewString()
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Agent{
		client:   client,
		registry: registry,
		toolCtx:  toolCtx,
		prior:    prior,
		cfg:      cfg,
		log:      log,
	}
}

// RequestID returns the id under which this run can be aborted.
func (a *Agent) RequestID() string { return a.cfg.RequestID }

// Execute runs the conversation to completion and returns only the final
// result. It is the streaming entry point drained without an observer.
func (a *Agent) Execute(ctx context.Context, userText string) (*Result, error) {
	return a.ExecuteStream(ctx, userText, nil)
}

// ExecuteStream runs the conversation, reporting each step through onEvent.
// Per round the observer sees content deltas, then tool-start events, then
// tool-result events; a single DoneEvent or ErrorEvent closes the run.
// Cancellation is never an error: the run ends with an aborted result
// carrying whatever content had accumulated.
func (a *Agent) ExecuteStream(ctx context.Context, userText string, onEvent func(Event)) (*Result, error) {
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if a.cfg.Cancels != nil {
		a.cfg.Cancels.Add(a.cfg.RequestID, cancel)
		defer a.cfg.Cancels.Remove(a.cfg.RequestID)
	}

	transcript := make([]llm.Message, 0, len(a.prior)+2)
	transcript = append(transcript, llm.Message{
		Role:    llm.RoleSystem,
		Content: buildSystemPrompt(a.cfg.Variant, a.cfg.Overrides),
	})
	transcript = append(transcript, a.prior...)
	transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: userText})

	result := &Result{State: StateCompleted}
	defs := a.registry.Definitions()

	for {
		if ctx.Err() != nil {
			result.State = StateAborted
			emit(DoneEvent{Result: result})
			return result, nil
		}

		round, err := a.streamRound(ctx, transcript, a.options(defs), emit, true)
		if err != nil {
			emit(ErrorEvent{Err: err})
			return nil, errors.Wrapf(err, "model call failed in round %d", result.Rounds+1)
		}
		result.Usage.Add(&round.usage)

		if ctx.Err() != nil {
			result.State = StateAborted
			result.Content = round.text
			emit(DoneEvent{Result: result})
			return result, nil
		}

		thinking, remainder := ExtractThinking(round.text)
		if thinking != "" {
			emit(ThinkingEvent{Text: thinking})
		}

		content := remainder
		calls := round.calls
		if round.finish != llm.FinishToolCalls || len(calls) == 0 {
			calls = nil
			if HasToolCallMarker(remainder) {
				parsed, cleaned := ParseTagToolCalls(remainder, a.log)
				content = cleaned
				calls = parsed
			}
		}

		a.flushWithheld(content, round.emitted, emit)

		if len(calls) == 0 {
			result.Content = content
			emit(DoneEvent{Result: result})
			return result, nil
		}

		transcript = append(transcript, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		a.runTools(ctx, calls, &transcript, result, emit)
		result.Rounds++

		if ctx.Err() != nil {
			result.State = StateAborted
			result.Content = content
			emit(DoneEvent{Result: result})
			return result, nil
		}

		if result.Rounds >= a.cfg.MaxRounds {
			return a.forcedSummary(ctx, transcript, result, emit)
		}
	}
}

// runTools announces, executes, and records one round of tool calls. Results
// enter the transcript in call order regardless of execution order.
func (a *Agent) runTools(ctx context.Context, calls []llm.ToolCall, transcript *[]llm.Message, result *Result, emit func(Event)) {
	for _, call := range calls {
		emit(ToolStartEvent{ID: call.ID, Name: call.Name, Args: call.Arguments})
	}
	results := a.registry.ExecuteAll(ctx, calls, a.toolCtx)
	for _, res := range results {
		emit(ToolResultEvent{
			ID:      res.Call.ID,
			Name:    res.Call.Name,
			Result:  res.Output(),
			IsError: res.Failed(),
		})
		*transcript = append(*transcript, llm.Message{
			Role:       llm.RoleTool,
			Content:    res.Output(),
			ToolCallID: res.Call.ID,
		})
		result.ToolsUsed = append(result.ToolsUsed, res.Call.Name)
		if res.Failed() {
			a.log.Warnw("tool call failed", "tool", res.Call.Name, "round", result.Rounds+1, "error", res.Err)
		}
	}
}

// forcedSummary issues the mandatory final call once the round limit is
// reached: tools are withdrawn and the response is taken as the answer no
// matter what it contains.
func (a *Agent) forcedSummary(ctx context.Context, transcript []llm.Message, result *Result, emit func(Event)) (*Result, error) {
	transcript = append(transcript, llm.Message{
		Role:    llm.RoleUser,
		Content: "Answer now using only the information already gathered. Do not request any more tools.",
	})

	round, err := a.streamRound(ctx, transcript, a.options(nil), emit, true)
	if err != nil {
		emit(ErrorEvent{Err: err})
		return nil, errors.Wrapf(err, "summary call failed after %d rounds", result.Rounds)
	}
	result.Usage.Add(&round.usage)

	if ctx.Err() != nil {
		result.State = StateAborted
	} else {
		result.State = StateForcedSummary
	}
	thinking, content := ExtractThinking(round.text)
	if thinking != "" {
		emit(ThinkingEvent{Text: thinking})
	}
	result.Content = content
	a.flushWithheld(content, round.emitted, emit)
	emit(DoneEvent{Result: result})
	return result, nil
}

type roundOutput struct {
	text    string
	emitted int
	finish  llm.FinishReason
	calls   []llm.ToolCall
	usage   llm.Usage
}

// streamRound performs one model call, relaying content deltas through the
// gate when gated is true, and collects the terminal finish state.
func (a *Agent) streamRound(ctx context.Context, transcript []llm.Message, opts llm.Options, emit func(Event), gated bool) (*roundOutput, error) {
	ch, err := a.client.ChatStream(ctx, transcript, opts)
	if err != nil {
		return nil, err
	}

	gate := newStreamGate()
	out := &roundOutput{finish: llm.FinishStop}

	for ev := range ch {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Done:
			out.finish = ev.FinishReason
			out.calls = ev.ToolCalls
			if ev.Usage != nil {
				out.usage = *ev.Usage
			}
		case ev.Content != "":
			if gated {
				if safe := gate.feed(ev.Content); safe != "" {
					out.emitted += len(safe)
					emit(ContentDeltaEvent{Text: safe})
				}
			} else {
				gate.buf.WriteString(ev.Content)
				out.emitted += len(ev.Content)
				emit(ContentDeltaEvent{Text: ev.Content})
			}
		}
	}
	out.text = gate.text()
	return out, nil
}

// flushWithheld emits whatever part of the resolved content the gate held
// back during streaming.
func (a *Agent) flushWithheld(content string, emitted int, emit func(Event)) {
	if emitted >= len(content) {
		return
	}
	emit(ContentDeltaEvent{Text: content[emitted:]})
}

func (a *Agent) options(defs []llm.ToolDefinition) llm.Options {
	return llm.Options{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Tools:       defs,
	}
}
