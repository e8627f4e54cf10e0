// Package services – MessageService
//
// This file implements MessageService, which owns the lifecycle of stored
// messages. It validates roles, checks that the target session exists,
// persists messages (optionally under an Idempotency-Key so client retries
// cannot double-write), and deletes them.
//
// Observability: mutating methods are OpenTelemetry-instrumented; spans carry
// chat and message identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/events"
	"github.com/tbourn/go-chat-stream/internal/repo"
)

// MessageService coordinates message persistence.
type MessageService struct {
	DB     *gorm.DB
	Events events.Publisher

	// IdempotencyTTL bounds how long an Idempotency-Key replays its message.
	IdempotencyTTL time.Duration
}

func messageTracer() trace.Tracer { return otel.Tracer("services/MessageService") }

// List returns the messages of chatID in conversation order. It does not
// check that the session exists; an unknown chat yields an empty list.
func (s *MessageService) List(ctx context.Context, chatID string) ([]domain.Message, error) {
	return repo.ListMessages(ctx, s.DB, chatID)
}

// Append stores a message in chatID.
func (s *MessageService) Append(ctx context.Context, chatID string, role domain.Role, content string) (*domain.Message, error) {
	ctx, span := messageTracer().Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.role", string(role)),
		),
	)
	defer span.End()

	m, err := s.append(ctx, s.DB, chatID, role, content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("message.id", m.ID))
	s.announce(ctx, m)
	return m, nil
}

// AppendIdempotent stores a message under key. When key was already used for
// chatID within the TTL, the originally stored message is returned with
// replayed=true and nothing is written. A blank key behaves like Append.
func (s *MessageService) AppendIdempotent(ctx context.Context, chatID, key string, role domain.Role, content string) (m *domain.Message, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		m, err = s.Append(ctx, chatID, role, content)
		return m, false, err
	}

	ctx, span := messageTracer().Start(ctx, "AppendIdempotent",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.role", string(role)),
		),
	)
	defer span.End()

	if prev, perr := s.replay(ctx, chatID, key); perr != nil {
		return nil, false, perr
	} else if prev != nil {
		span.SetAttributes(attribute.Bool("idempotency.replayed", true))
		return prev, true, nil
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.append(ctx, tx, chatID, role, content)
		if err != nil {
			return err
		}
		if _, err := repo.CreateIdempotency(ctx, tx, chatID, key, created.ID, 201, s.ttl()); err != nil {
			return err
		}
		m = created
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request with the same key won the race.
		prev, perr := s.replay(ctx, chatID, key)
		if perr != nil {
			return nil, false, perr
		}
		if prev != nil {
			return prev, true, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	s.announce(ctx, m)
	return m, false, nil
}

// Delete removes message id from chatID.
func (s *MessageService) Delete(ctx context.Context, chatID string, id int64) error {
	ctx, span := messageTracer().Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int64("message.id", id),
		),
	)
	defer span.End()

	if err := repo.DeleteMessage(ctx, s.DB, chatID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	publish(ctx, s.Events, events.Event{Type: events.MessageDeleted, ChatID: chatID, MessageID: id})
	return nil
}

// Replayed reports whether key already produced a message in chatID. It is
// used by the HTTP layer to let replays bypass rate limiting.
func (s *MessageService) Replayed(ctx context.Context, chatID, key string) bool {
	rec, err := repo.GetIdempotency(ctx, s.DB, chatID, key, time.Now().UTC())
	return err == nil && rec != nil
}

func (s *MessageService) append(ctx context.Context, db *gorm.DB, chatID string, role domain.Role, content string) (*domain.Message, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if _, err := repo.GetSession(ctx, db, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return repo.AppendMessage(ctx, db, chatID, role, content)
}

// replay returns the message stored under key, or nil when there is none.
func (s *MessageService) replay(ctx context.Context, chatID, key string) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, chatID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := repo.GetMessage(ctx, s.DB, chatID, rec.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		// The message was deleted after it was created; the key is spent.
		return nil, ErrMessageNotFound
	}
	return m, err
}

func (s *MessageService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

func (s *MessageService) announce(ctx context.Context, m *domain.Message) {
	publish(ctx, s.Events, events.Event{
		Type:      events.MessageCreated,
		ChatID:    m.ChatID,
		MessageID: m.ID,
		Role:      string(m.Role),
	})
}
