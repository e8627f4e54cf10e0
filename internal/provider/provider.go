// Package provider adapts upstream generative-language APIs to a single
// streaming contract: given the prior conversation and a new user message,
// produce a lazy, finite sequence of non-empty text fragments.
//
// A Provider never emits empty fragments. Chunks that carry no text (for
// example responses suppressed by safety filters) are skipped without ending
// the sequence. A failure while iterating is yielded once as an error wrapped
// with ErrProvider, after which the sequence stops. The end of the sequence
// is the end-of-stream signal.
package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

var (
	// ErrProvider wraps every failure reported by an upstream model call.
	ErrProvider = errors.New("provider error")

	// ErrMissingCredential is returned at construction time when the selected
	// provider requires an API key and none is configured.
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrUnknownProvider is returned when Config.Name selects no adapter.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Provider names accepted by New.
const (
	Gemini = "gemini"
	OpenAI = "openai"
	Ollama = "ollama"
	Echo   = "echo"
)

// Turn is one prior message handed to the model as context.
type Turn struct {
	Role    domain.Role
	Content string
}

// Provider streams a completion for message given history.
type Provider interface {
	Name() string
	Stream(ctx context.Context, history []Turn, message string) iter.Seq2[string, error]
}

// Config selects and configures an adapter. It is built from process
// configuration at startup and validated before any request is served.
type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient is used by adapters that accept one; nil means a default.
	HTTPClient *http.Client
}

// Validate reports configuration errors without contacting the upstream.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Name)) {
	case Gemini, OpenAI:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: %s requires an API key", ErrMissingCredential, c.Name)
		}
	case Ollama, Echo:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Name)
	}
	return nil
}

// New validates cfg and constructs the selected adapter.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case Gemini:
		return NewGemini(ctx, cfg)
	case OpenAI:
		return NewOpenAI(cfg), nil
	case Ollama:
		return NewOllama(cfg)
	default:
		return NewEcho(0), nil
	}
}

// wrap tags err as a provider failure, leaving context errors recognizable.
func wrap(err error) error {
	if err == nil || errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}
