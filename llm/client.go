// Package llm talks to large-language-model completion services. Every
// provider hides behind the same small Client surface so the orchestrator
// never sees a provider-specific shape.
package llm

import (
	"context"
	"os"
	"time"

	"github.com/stupid-ve/ChatLab/errors"
	"go.uber.org/zap"
)

// Client is the uniform completion surface consumed by the agent.
//
// Chat blocks for the full response. ChatStream returns a lazy event
// sequence; the producer suspends while the consumer has not pulled, and a
// single finished or error event always closes the channel. ValidateKey
// issues a side-effecting probe call so configuration tooling can test
// credentials.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error)
	ValidateKey(ctx context.Context) error
}

// ClientConfig carries the settings an adapter needs. APIKey falls back to
// the provider's conventional environment variable when empty.
type ClientConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Log      *zap.SugaredLogger
}

func (c ClientConfig) key(envVar string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv(envVar)
}

func (c ClientConfig) logger() *zap.SugaredLogger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop().Sugar()
}

// withTimeout bounds a blocking call by the configured client timeout.
// Streaming paths stay unbounded: a stream may legitimately outlive any
// fixed deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// New selects and constructs the adapter for cfg.Provider.
func New(ctx context.Context, cfg ClientConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	case "bedrock":
		return NewBedrockClient(ctx, cfg)
	case "", "compat":
		return NewCompatClient(cfg)
	default:
		return nil, errors.New("unknown llm provider %q", cfg.Provider)
	}
}
