// Package services – Relay
//
// Relay turns a persisted user message into a stream of completion
// fragments. It loads the session history, opens the provider stream and
// forwards every non-empty fragment in order. It never persists the reply;
// the client stores the accumulated text once the stream completes.
//
// An optional idle watchdog cancels the upstream call when no fragment has
// arrived for IdleTimeout; the resulting error matches both ErrStreamIdle and
// provider.ErrProvider.
package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/provider"
	"github.com/tbourn/go-chat-stream/internal/repo"
)

// Relay streams completions for stored conversations.
type Relay struct {
	DB       *gorm.DB
	Provider provider.Provider

	// IdleTimeout cancels a stream that produced nothing for this long.
	// Zero disables the watchdog.
	IdleTimeout time.Duration

	// KeepEchoedPrompt sends every stored turn as history, even when the
	// newest one is the client's stored copy of the prompt. The provider then
	// sees the prompt twice: once as history and once as the new message.
	KeepEchoedPrompt bool
}

// History loads the turns sent to the provider for a new message in chatID.
// Clients store the user's message before asking for a completion, so the
// newest stored turn is normally the prompt itself. Unless KeepEchoedPrompt
// is set, that turn is left out because message is passed to the provider
// separately.
func (r *Relay) History(ctx context.Context, chatID, message string) ([]provider.Turn, error) {
	msgs, err := repo.ListMessages(ctx, r.DB, chatID)
	if err != nil {
		return nil, err
	}
	if n := len(msgs); !r.KeepEchoedPrompt && n > 0 && msgs[n-1].Role == domain.RoleUser && msgs[n-1].Content == message {
		msgs = msgs[:n-1]
	}
	out := make([]provider.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, provider.Turn{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// Stream yields the reply to message in chatID fragment by fragment.
// Errors are yielded once, after which the sequence ends. Breaking out of the
// range loop cancels the upstream call.
func (r *Relay) Stream(ctx context.Context, chatID, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.TrimSpace(message) == "" {
			yield("", ErrEmptyMessage)
			return
		}

		ctx, span := otel.Tracer("services/Relay").Start(ctx, "Stream",
			trace.WithAttributes(
				attribute.String("chat.id", chatID),
				attribute.String("provider", r.Provider.Name()),
			),
		)
		defer span.End()

		history, err := r.History(ctx, chatID, message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "history")
			yield("", err)
			return
		}
		span.SetAttributes(attribute.Int("history.turns", len(history)))

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		var watchdog *time.Timer
		if r.IdleTimeout > 0 {
			watchdog = time.AfterFunc(r.IdleTimeout, func() { cancel(ErrStreamIdle) })
			defer watchdog.Stop()
		}

		rec := observability.StartStream(r.Provider.Name())
		outcome := observability.OutcomeCompleted
		defer func() {
			rec.Finish(outcome)
			span.SetAttributes(
				attribute.Int("stream.fragments", rec.Fragments()),
				attribute.String("stream.outcome", outcome),
			)
		}()

		for frag, err := range r.Provider.Stream(ctx, history, message) {
			if err != nil {
				if errors.Is(context.Cause(ctx), ErrStreamIdle) {
					err = fmt.Errorf("%w: %w", provider.ErrProvider, ErrStreamIdle)
					outcome = observability.OutcomeIdle
				} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					outcome = observability.OutcomeCancelled
				} else {
					outcome = observability.OutcomeFailed
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, outcome)
				yield("", err)
				return
			}
			if frag == "" {
				continue
			}
			if watchdog != nil {
				watchdog.Reset(r.IdleTimeout)
			}
			rec.Fragment()
			if !yield(frag, nil) {
				outcome = observability.OutcomeCancelled
				return
			}
		}
		if err := context.Cause(ctx); errors.Is(err, ErrStreamIdle) {
			// The provider ended quietly after the watchdog fired.
			outcome = observability.OutcomeIdle
			yield("", fmt.Errorf("%w: %w", provider.ErrProvider, ErrStreamIdle))
		}
	}
}
