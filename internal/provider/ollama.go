package provider

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Ollama defaults used when Config leaves them empty.
const (
	DefaultOllamaModel = "llama3.2"
	DefaultOllamaURL   = "http://localhost:11434"
)

// errStopped aborts the Ollama callback loop when the consumer stops early.
var errStopped = errors.New("stream consumer stopped")

// OllamaProvider streams chat completions from a local Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllama builds an Ollama adapter for cfg.BaseURL (default localhost).
func NewOllama(cfg Config) (*OllamaProvider, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultOllamaURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, wrap(err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{client: api.NewClient(u, hc), model: model}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string { return Ollama }

func ollamaMessages(history []Turn, message string) []api.Message {
	out := make([]api.Message, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "assistant"
		}
		out = append(out, api.Message{Role: role, Content: t.Content})
	}
	return append(out, api.Message{Role: "user", Content: message})
}

// Stream implements Provider. Ollama delivers frames through a callback, so
// each frame is forwarded to yield from inside it.
func (p *OllamaProvider) Stream(ctx context.Context, history []Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := true
		req := &api.ChatRequest{
			Model:    p.model,
			Messages: ollamaMessages(history, message),
			Stream:   &stream,
		}
		err := p.client.Chat(ctx, req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				return errStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield("", wrap(err))
		}
	}
}
