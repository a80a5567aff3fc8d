package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
)

const (
	compatDefaultBaseURL = "https://api.openai.com/v1"
	streamDoneMarker     = "[DONE]"
)

// CompatClient speaks the OpenAI-compatible chat-completions wire protocol
// directly over HTTP. It is the adapter of choice for local and proxy
// deployments (ollama, llama.cpp, DeepSeek-style gateways) where frame-level
// control matters: malformed frames are skipped rather than fatal, tool-call
// fragments are accumulated per index in arrival order, and cancellation
// closes the connection and finishes the stream instead of erroring it.
type CompatClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewCompatClient builds a CompatClient. BaseURL should include the /v1
// prefix; it defaults to the OpenAI endpoint. An empty API key is allowed
// since many compatible endpoints are unauthenticated.
func NewCompatClient(cfg ClientConfig) (*CompatClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("compat: model name is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = compatDefaultBaseURL
	}
	return &CompatClient{
		// No transport-level timeout: streamed bodies outlive any fixed
		// deadline. Blocking calls are bounded per request instead.
		http:    &http.Client{},
		baseURL: baseURL,
		apiKey:  cfg.key("OPENAI_API_KEY"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     cfg.logger(),
	}, nil
}

// ---- wire shapes ----

type compatRequest struct {
	Model         string               `json:"model"`
	Messages      []compatMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *compatStreamOptions `json:"stream_options,omitempty"`
	Tools         []compatTool         `json:"tools,omitempty"`
}

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []compatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type compatToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function compatFunction `json:"function"`
}

type compatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type compatTool struct {
	Type     string        `json:"type"`
	Function compatToolDef `json:"function"`
}

type compatToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type compatCompletion struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []compatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
}

type compatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int            `json:"index"`
				ID       string         `json:"id"`
				Function compatFunction `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
}

func (c *CompatClient) buildRequest(messages []Message, opts Options, stream bool) compatRequest {
	msgs := make([]compatMessage, 0, len(messages))
	for _, m := range messages {
		cm := compatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, compatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: compatFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		msgs = append(msgs, cm)
	}

	req := compatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &compatStreamOptions{IncludeUsage: true}
	}
	for _, d := range opts.Tools {
		req.Tools = append(req.Tools, compatTool{
			Type:     "function",
			Function: compatToolDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters},
		})
	}
	return req
}

func (c *CompatClient) post(ctx context.Context, payload compatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "compat: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "compat: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// readServerDetail drains a non-2xx body so transport errors carry the raw
// server explanation.
func readServerDetail(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Status
	}
	return strings.TrimSpace(string(data))
}

// Chat performs a blocking completion call, bounded by the configured
// client timeout.
func (c *CompatClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, c.buildRequest(messages, opts, false))
	if err != nil {
		return nil, errors.Wrapf(err, "compat: chat request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("compat: chat endpoint returned %d: %s", resp.StatusCode, readServerDetail(resp))
	}

	var completion compatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrapf(err, "compat: malformed completion body")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("compat: completion carried no choices")
	}

	choice := completion.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Usage:   toUsage(completion.Usage),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	out.FinishReason = finishFromWire(choice.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

// ChatStream opens a streaming completion and relays frames as events.
// Transport failures while opening the stream are returned directly; once
// the channel exists it is always closed by a single finished or error
// event.
func (c *CompatClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, errors.Wrapf(err, "compat: stream request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := readServerDetail(resp)
		resp.Body.Close()
		return nil, errors.New("compat: stream endpoint returned %d: %s", resp.StatusCode, detail)
	}

	ch := make(chan StreamEvent, 8)
	go c.readStream(ctx, resp.Body, ch)
	return ch, nil
}

func (c *CompatClient) readStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	acc := &callAccumulator{}
	var usage *Usage
	finish := FinishReason("")

	for scanner.Scan() {
		// Cancellation check at every suspension point: close the
		// connection and finish cleanly, never report an error.
		if ctx.Err() != nil {
			body.Close()
			c.finish(ctx, ch, FinishStop, acc, usage)
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(line[len("data:"):])
		if payload == streamDoneMarker {
			break
		}

		var chunk compatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// One malformed frame never kills the stream.
			c.log.Debugw("compat: skipping malformed stream frame", "error", err)
			continue
		}
		if chunk.Usage != nil {
			usage = toUsage(chunk.Usage)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !c.emit(ctx, ch, StreamEvent{Content: choice.Delta.Content}) {
					c.finish(ctx, ch, FinishStop, acc, usage)
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				d := ToolCallDelta{Index: tc.Index, ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
				acc.apply(d)
				delta := d
				if !c.emit(ctx, ch, StreamEvent{ToolCallDelta: &delta}) {
					c.finish(ctx, ch, FinishStop, acc, usage)
					return
				}
			}
			if choice.FinishReason != "" {
				finish = finishFromWire(choice.FinishReason, !acc.empty())
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.emit(ctx, ch, StreamEvent{Err: errors.Wrapf(err, "compat: stream read failed")})
		return
	}
	if ctx.Err() != nil {
		finish = FinishStop
	}
	if finish == "" {
		finish = FinishStop
	}
	c.finish(ctx, ch, finish, acc, usage)
}

// finish flushes accumulated tool-call fragments into the single terminal
// finished event.
func (c *CompatClient) finish(ctx context.Context, ch chan<- StreamEvent, reason FinishReason, acc *callAccumulator, usage *Usage) {
	calls := acc.flush()
	if len(calls) > 0 && reason == FinishStop && ctx.Err() == nil {
		reason = FinishToolCalls
	}
	sendTerminal(ctx, ch, StreamEvent{Done: true, FinishReason: reason, ToolCalls: calls, Usage: usage})
}

func (c *CompatClient) emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	return sendEvent(ctx, ch, ev)
}

// ValidateKey probes the endpoint with a minimal completion.
func (c *CompatClient) ValidateKey(ctx context.Context) error {
	_, err := c.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 1})
	return errors.Wrapf(err, "compat: key validation failed")
}

func finishFromWire(reason string, hasCalls bool) FinishReason {
	switch reason {
	case "stop":
		if hasCalls {
			return FinishToolCalls
		}
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "error":
		return FinishError
	case "":
		if hasCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}

func toUsage(u *compatUsage) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}
