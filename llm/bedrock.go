package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockClient runs Anthropic models hosted on AWS Bedrock. Requests use
// the Anthropic message body over InvokeModel; streaming uses the response
// stream variant whose chunk payloads carry Anthropic SSE event JSON.
type BedrockClient struct {
	client  *bedrockruntime.Client
	model   string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewBedrockClient builds a BedrockClient from ambient AWS credentials.
func NewBedrockClient(ctx context.Context, cfg ClientConfig) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "bedrock: load AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     cfg.logger(),
	}, nil
}

func (b *BedrockClient) buildBody(messages []Message, opts Options) ([]byte, error) {
	bedrockMessages, systemPrompt := toBedrockMessages(messages, b.log)

	request := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        anthropicDefaultMaxTokens,
		"messages":          bedrockMessages,
	}
	if opts.MaxTokens > 0 {
		request["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		request["temperature"] = *opts.Temperature
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(opts.Tools) > 0 {
		var tools []map[string]any
		for _, d := range opts.Tools {
			schema := d.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         d.Name,
				"description":  d.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = tools
	}
	return json.Marshal(request)
}

type bedrockCompletion struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error any `json:"error"`
}

// Chat invokes the model once and maps the Anthropic-shaped body. The call
// is bounded by the configured client timeout.
func (b *BedrockClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	body, err := b.buildBody(messages, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "bedrock: build request body")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bedrock: invoke model")
	}

	var completion bedrockCompletion
	if err := json.Unmarshal(resp.Body, &completion); err != nil {
		return nil, errors.Wrapf(err, "bedrock: malformed response body")
	}
	if completion.Error != nil {
		return nil, errors.New("bedrock: api error: %v", completion.Error)
	}

	out := &Response{}
	for _, block := range completion.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.FinishReason = anthropicFinish(completion.StopReason, len(out.ToolCalls) > 0)
	if completion.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     completion.Usage.InputTokens,
			CompletionTokens: completion.Usage.OutputTokens,
			TotalTokens:      completion.Usage.InputTokens + completion.Usage.OutputTokens,
		}
	}
	return out, nil
}

// bedrockStreamEvent is one Anthropic stream event as delivered inside a
// Bedrock response-stream chunk.
type bedrockStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ChatStream relays the Bedrock response stream as uniform events.
func (b *BedrockClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	body, err := b.buildBody(messages, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "bedrock: build request body")
	}

	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bedrock: invoke model stream")
	}

	stream := resp.GetStream()
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

		for raw := range stream.Events() {
			if ctx.Err() != nil {
				done(FinishStop)
				return
			}
			chunk, ok := raw.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var event bedrockStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &event); err != nil {
				b.log.Debugw("bedrock: skipping malformed stream chunk", "error", err)
				continue
			}

			switch event.Type {
			case "message_start":
				usage.PromptTokens = event.Message.Usage.InputTokens
			case "content_block_start":
				if event.ContentBlock.Type != "tool_use" {
					continue
				}
				d := ToolCallDelta{Index: event.Index, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
				acc.apply(d)
				if !send(StreamEvent{ToolCallDelta: &d}) {
					done(FinishStop)
					return
				}
			case "content_block_delta":
				switch event.Delta.Type {
				case "text_delta":
					if event.Delta.Text == "" {
						continue
					}
					if !send(StreamEvent{Content: event.Delta.Text}) {
						done(FinishStop)
						return
					}
				case "input_json_delta":
					if event.Delta.PartialJSON == "" {
						continue
					}
					d := ToolCallDelta{Index: event.Index, Arguments: event.Delta.PartialJSON}
					acc.apply(d)
					if !send(StreamEvent{ToolCallDelta: &d}) {
						done(FinishStop)
						return
					}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					usage.CompletionTokens = event.Usage.OutputTokens
				}
				if event.Delta.StopReason != "" {
					finish = anthropicFinish(event.Delta.StopReason, !acc.empty())
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			sendTerminal(ctx, ch, StreamEvent{Err: errors.Wrapf(err, "bedrock: stream failed")})
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

// ValidateKey probes the configured model with a one-token request.
func (b *BedrockClient) ValidateKey(ctx context.Context) error {
	_, err := b.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 1})
	return errors.Wrapf(err, "bedrock: credential validation failed")
}

// toBedrockMessages converts transcript turns to the Anthropic block maps
// Bedrock expects.
func toBedrockMessages(messages []Message, log *zap.SugaredLogger) ([]map[string]any, string) {
	var out []map[string]any
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleUser:
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": msg.Content},
				},
			})
		case RoleAssistant:
			var blocks []map[string]any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					log.Warnw("bedrock: tool call arguments are not valid JSON, sending empty object",
						"tool", tc.Name)
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})
		case RoleTool:
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		}
	}
	return out, systemPrompt
}
