package provider

import (
	"context"
	"iter"
	"strings"
	"time"
)

// EchoProvider replays the user message word by word. It needs no
// credentials and is meant for local development and smoke tests.
type EchoProvider struct {
	delay time.Duration
}

// NewEcho returns an echo adapter that waits delay between fragments.
func NewEcho(delay time.Duration) *EchoProvider { return &EchoProvider{delay: delay} }

// Name returns the provider name.
func (p *EchoProvider) Name() string { return Echo }

// Stream implements Provider.
func (p *EchoProvider) Stream(ctx context.Context, _ []Turn, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, word := range strings.SplitAfter(message, " ") {
			if word == "" {
				continue
			}
			if p.delay > 0 {
				t := time.NewTimer(p.delay)
				select {
				case <-ctx.Done():
					t.Stop()
					yield("", wrap(ctx.Err()))
					return
				case <-t.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield("", wrap(err))
				return
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}
