package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient adapts the Google Gemini API to the Client surface.
type GeminiClient struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewGeminiClient builds a GeminiClient. The API key falls back to
// GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, cfg ClientConfig) (*GeminiClient, error) {
	apiKey := cfg.key("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("gemini: no API key configured and GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "gemini: create client")
	}
	return &GeminiClient{
		client:  client,
		model:   client.GenerativeModel(cfg.Model),
		timeout: cfg.Timeout,
		log:     cfg.logger(),
	}, nil
}

// Close releases the underlying gRPC connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) prepare(messages []Message, opts Options) (*genai.ChatSession, []genai.Part) {
	if opts.Temperature != nil {
		g.model.SetTemperature(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		g.model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	g.model.Tools = toGeminiTools(opts.Tools)

	system, history := toGeminiContents(messages, g.log)
	if system != "" {
		g.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := g.model.StartChat()
	var last []genai.Part
	if len(history) > 0 {
		last = history[len(history)-1].Parts
		session.History = history[:len(history)-1]
	}
	return session, last
}

// Chat sends a blocking generate request, bounded by the configured client
// timeout.
func (g *GeminiClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	session, last := g.prepare(messages, opts)
	if len(last) == 0 {
		return nil, errors.New("gemini: transcript has no sendable turn")
	}

	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return nil, errors.Wrapf(err, "gemini: chat request failed")
	}
	return geminiResponse(resp)
}

// ChatStream relays the Gemini response iterator as uniform events. Gemini
// function calls arrive whole, so each becomes a single complete fragment.
func (g *GeminiClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	session, last := g.prepare(messages, opts)
	if len(last) == 0 {
		return nil, errors.New("gemini: transcript has no sendable turn")
	}

	iter := session.SendMessageStream(ctx, last...)
	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)

		acc := &callAccumulator{}
		var usage *Usage
		finish := FinishReason("")
		callIndex := 0

		done := func(reason FinishReason) {
			sendTerminal(ctx, ch, StreamEvent{Done: true, FinishReason: reason, ToolCalls: acc.flush(), Usage: usage})
		}
		send := func(ev StreamEvent) bool {
			return sendEvent(ctx, ch, ev)
		}

		for {
			if ctx.Err() != nil {
				done(FinishStop)
				return
			}
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					done(FinishStop)
					return
				}
				sendTerminal(ctx, ch, StreamEvent{Err: errors.Wrapf(err, "gemini: stream failed")})
				return
			}

			if resp.UsageMetadata != nil {
				usage = &Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			candidate := resp.Candidates[0]
			if candidate.FinishReason == genai.FinishReasonMaxTokens {
				finish = FinishLength
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					if v == "" {
						continue
					}
					if !send(StreamEvent{Content: string(v)}) {
						done(FinishStop)
						return
					}
				case genai.FunctionCall:
					args, err := json.Marshal(v.Args)
					if err != nil {
						g.log.Warnw("gemini: dropping unmarshalable function call", "tool", v.Name, "error", err)
						continue
					}
					d := ToolCallDelta{
						Index:     callIndex,
						ID:        fmt.Sprintf("call_%d", callIndex),
						Name:      v.Name,
						Arguments: string(args),
					}
					callIndex++
					acc.apply(d)
					if !send(StreamEvent{ToolCallDelta: &d}) {
						done(FinishStop)
						return
					}
				}
			}
		}

		if finish == "" {
			finish = FinishStop
			if !acc.empty() {
				finish = FinishToolCalls
			}
		}
		done(finish)
	}()
	return ch, nil
}

// ValidateKey issues a one-token probe generation.
func (g *GeminiClient) ValidateKey(ctx context.Context) error {
	_, err := g.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: 1})
	return errors.Wrapf(err, "gemini: key validation failed")
}

func geminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty response")
	}

	out := &Response{}
	callIndex := 0
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content += string(v)
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "gemini: marshal function call args for %s", v.Name)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%d", callIndex),
				Name:      v.Name,
				Arguments: string(args),
			})
			callIndex++
		}
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = FinishToolCalls
	case resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens:
		out.FinishReason = FinishLength
	default:
		out.FinishReason = FinishStop
	}
	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// toGeminiContents converts transcript turns to Gemini content. Tool result
// turns become function_response parts; the id→name mapping is recovered
// from the preceding assistant turn since Gemini addresses responses by
// function name.
func toGeminiContents(messages []Message, log *zap.SugaredLogger) (string, []*genai.Content) {
	var system string
	var contents []*genai.Content
	callNames := map[string]string{}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = msg.Content
		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					log.Warnw("gemini: skipping tool call with unparseable arguments in history", "tool", tc.Name)
					continue
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = "tool"
			}
			contents = append(contents, &genai.Content{
				Role: "function",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"result": msg.Content},
				}},
			})
		}
	}
	return system, contents
}

func toGeminiTools(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGeminiSchema(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema translates the JSON-schema subset used by tool definitions
// into genai's typed schema.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: geminiType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if m, ok := sub.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func geminiType(t any) genai.Type {
	s, _ := t.(string)
	switch s {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
