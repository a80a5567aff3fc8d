package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient adapts the Anthropic Messages API to the Client surface.
type AnthropicClient struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewAnthropicClient builds an AnthropicClient. The API key falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicClient(cfg ClientConfig) (*AnthropicClient, error) {
	apiKey := cfg.key("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("anthropic: no API key configured and ANTHROPIC_API_KEY not set")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(options...)
	return &AnthropicClient{client: &client, model: cfg.Model, timeout: cfg.Timeout, log: cfg.logger()}, nil
}

func (a *AnthropicClient) buildParams(messages []Message, opts Options) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := toAnthropicMessages(messages, a.log)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  anthropicMessages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	for _, d := range opts.Tools {
		tool := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters["properties"],
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

// Chat sends a blocking Messages API request, bounded by the configured
// client timeout.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, a.buildParams(messages, opts))
	if err != nil {
		return nil, errors.Wrapf(err, "anthropic: chat request failed")
	}

	out := &Response{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	out.FinishReason = anthropicFinish(string(resp.StopReason), len(out.ToolCalls) > 0)
	out.Usage = &Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out, nil
}

// ChatStream opens a Messages SSE stream and relays deltas as uniform
// events. Tool-call fragments keep Anthropic's content-block index; nameless
// padding indexes are dropped at flush time.
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(messages, opts))

	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		defer stream.Close()

		acc := &callAccumulator{}
		usage := &Usage{}
		finish := FinishReason("")

		done := func(reason FinishReason) {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			sendTerminal(ctx, ch, StreamEvent{Done: true, FinishReason: reason, ToolCalls: acc.flush(), Usage: usage})
		}
		send := func(ev StreamEvent) bool {
			return sendEvent(ctx, ch, ev)
		}

		for stream.Next() {
			if ctx.Err() != nil {
				done(FinishStop)
				return
			}
			switch event := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.PromptTokens = int(event.Message.Usage.InputTokens)
			case anthropic.ContentBlockStartEvent:
				if block, ok := event.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					d := ToolCallDelta{Index: int(event.Index), ID: block.ID, Name: block.Name}
					acc.apply(d)
					if !send(StreamEvent{ToolCallDelta: &d}) {
						done(FinishStop)
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !send(StreamEvent{Content: delta.Text}) {
						done(FinishStop)
						return
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON == "" {
						continue
					}
					d := ToolCallDelta{Index: int(event.Index), Arguments: delta.PartialJSON}
					acc.apply(d)
					if !send(StreamEvent{ToolCallDelta: &d}) {
						done(FinishStop)
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(event.Usage.OutputTokens)
				if event.Delta.StopReason != "" {
					finish = anthropicFinish(string(event.Delta.StopReason), !acc.empty())
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			sendTerminal(ctx, ch, StreamEvent{Err: errors.Wrapf(err, "anthropic: stream failed")})
			return
		}
		if ctx.Err() != nil || finish == "" {
			finish = FinishStop
			if ctx.Err() == nil && !acc.empty() {
				finish = FinishToolCalls
			}
		}
		done(finish)
	}()
	return ch, nil
}

// ValidateKey issues a one-token probe message.
func (a *AnthropicClient) ValidateKey(ctx context.Context) error {
	_, err := a.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 1})
	return errors.Wrapf(err, "anthropic: key validation failed")
}

func anthropicFinish(stopReason string, hasCalls bool) FinishReason {
	switch stopReason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "end_turn", "stop_sequence":
		if hasCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}

// toAnthropicMessages converts transcript turns to Anthropic's block shape.
// System turns collapse into the dedicated system prompt; tool results ride
// as user-role tool_result blocks.
func toAnthropicMessages(messages []Message, log *zap.SugaredLogger) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if !json.Valid([]byte(args)) {
					log.Warnw("anthropic: tool call arguments are not valid JSON, sending empty object",
						"tool", tc.Name)
					args = "{}"
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(args),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleTool:
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: msg.Content},
						}},
					},
				}},
			})
		}
	}
	return out, systemPrompt
}
