package llm

// Message roles as they appear on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation transcript. An assistant message
// may carry ToolCalls; a tool message answers exactly one of them via
// ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a named tool. Arguments is
// opaque JSON text; it is parsed and validated at execution time, not here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a tool to the model: name, human description and
// a JSON-schema parameter document. Definitions are immutable once
// registered.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options tunes a single completion request.
type Options struct {
	Temperature *float64
	MaxTokens   int
	Tools       []ToolDefinition
}

// FinishReason is the provider-reported terminal condition of a completion.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage reports token totals for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add folds other into u so the orchestrator can aggregate across rounds.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is the uniform blocking-mode result, whatever the provider.
type Response struct {
	Content      string
	FinishReason FinishReason
	ToolCalls    []ToolCall
	Usage        *Usage
}

// ToolCallDelta is one streamed fragment of a tool call. Index addresses
// the call being assembled; ID and Name typically arrive on the first
// fragment for an index while Arguments text arrives incrementally and
// must be concatenated in arrival order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamEvent is one element of a streamed completion. Exactly one of the
// following holds: Content is non-empty (content delta), ToolCallDelta is
// set, Done is true (finished: reason, flushed tool calls, usage), or Err
// is set (transport error). Cancellation surfaces as Done with FinishStop,
// never as Err.
type StreamEvent struct {
	Content       string
	ToolCallDelta *ToolCallDelta
	Done          bool
	FinishReason  FinishReason
	ToolCalls     []ToolCall
	Usage         *Usage
	Err           error
}
