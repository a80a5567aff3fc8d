package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
)

// OpenAIClient adapts the official OpenAI SDK to the Client surface. Prefer
// CompatClient for third-party compatible endpoints; this adapter exists for
// accounts that want the SDK's own transport behavior.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewOpenAIClient builds an OpenAIClient. The API key falls back to
// OPENAI_API_KEY.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	apiKey := cfg.key("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("openai: no API key configured and OPENAI_API_KEY not set")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	// The v2 SDK hands back a value; keep a pointer for the adapter.
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: cfg.Model, timeout: cfg.Timeout, log: cfg.logger()}, nil
}

func (o *OpenAIClient) buildParams(messages []Message, opts Options, stream bool) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(opts.Tools),
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return params
}

// Chat sends a blocking completion request, bounded by the configured
// client timeout.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, o.buildParams(messages, opts, false))
	if err != nil {
		return nil, errors.Wrapf(err, "openai: chat request failed")
	}
	if len(resp.Choices) == 0 {
		return &Response{FinishReason: FinishStop}, nil
	}

	choice := resp.Choices[0]
	out := &Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	out.FinishReason = finishFromWire(string(choice.FinishReason), len(out.ToolCalls) > 0)
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out, nil
}

// ChatStream opens a streaming completion through the SDK and relays
// fragments as uniform events.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(messages, opts, true))

	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		defer stream.Close()

		acc := &callAccumulator{}
		var usage *Usage
		finish := FinishReason("")

		done := func(reason FinishReason) {
			sendTerminal(ctx, ch, StreamEvent{Done: true, FinishReason: reason, ToolCalls: acc.flush(), Usage: usage})
		}

		for stream.Next() {
			if ctx.Err() != nil {
				done(FinishStop)
				return
			}
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !sendEvent(ctx, ch, StreamEvent{Content: choice.Delta.Content}) {
						done(FinishStop)
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					d := ToolCallDelta{
						Index:     int(tc.Index),
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					}
					acc.apply(d)
					delta := d
					if !sendEvent(ctx, ch, StreamEvent{ToolCallDelta: &delta}) {
						done(FinishStop)
						return
					}
				}
				if choice.FinishReason != "" {
					finish = finishFromWire(string(choice.FinishReason), !acc.empty())
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			sendTerminal(ctx, ch, StreamEvent{Err: errors.Wrapf(err, "openai: stream failed")})
			return
		}
		if ctx.Err() != nil || finish == "" {
			if ctx.Err() != nil {
				finish = FinishStop
			} else if !acc.empty() {
				finish = FinishToolCalls
			} else {
				finish = FinishStop
			}
		}
		done(finish)
	}()
	return ch, nil
}

// ValidateKey issues a one-token probe completion.
func (o *OpenAIClient) ValidateKey(ctx context.Context) error {
	_, err := o.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 1})
	return errors.Wrapf(err, "openai: key validation failed")
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			assistant := openai.ChatCompletionMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, assistant.ToParam())
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, d := range defs {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(d.Parameters),
		}))
	}
	return out
}
