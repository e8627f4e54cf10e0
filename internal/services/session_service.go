// Package services – SessionService
//
// This file implements the SessionService, which manages the lifecycle of
// chat sessions. It normalizes titles and coordinates repository operations
// for creating, listing, renaming and deleting sessions. Every successful
// mutation is announced on the events.Publisher.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/events"
)

// SessionRepo defines the repository contract required by SessionService.
type SessionRepo interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, db *gorm.DB, title string) (*domain.ChatSession, error)

	// ListSessions returns every session, newest first.
	ListSessions(ctx context.Context, db *gorm.DB) ([]domain.ChatSession, error)

	// GetSession fetches a session by id.
	GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error)

	// RenameSession updates a session title and returns the stored row.
	RenameSession(ctx context.Context, db *gorm.DB, id, title string) (*domain.ChatSession, error)

	// DeleteSession removes a session and everything it owns.
	DeleteSession(ctx context.Context, db *gorm.DB, id string) (string, error)
}

// SessionService provides session-level operations.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the session repository used by this service.
	Repo SessionRepo
	// Events receives a notification after each mutation.
	Events events.Publisher

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewSessionService constructs a SessionService with default title handling
// and no event publishing.
func NewSessionService(db *gorm.DB, r SessionRepo) *SessionService {
	return &SessionService{
		DB:          db,
		Repo:        r,
		Events:      events.Nop{},
		TitleMaxLen: 200,
	}
}

func sessionTracer() trace.Tracer { return otel.Tracer("services/SessionService") }

// List returns all sessions, newest first.
func (s *SessionService) List(ctx context.Context) ([]domain.ChatSession, error) {
	return s.Repo.ListSessions(ctx, s.DB)
}

// Create inserts a session. A blank title falls back to "New Chat".
func (s *SessionService) Create(ctx context.Context, title string) (*domain.ChatSession, error) {
	ctx, span := sessionTracer().Start(ctx, "Create")
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	sess, err := s.Repo.CreateSession(ctx, s.DB, s.clip(title))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.id", sess.ID))
	publish(ctx, s.Events, events.Event{Type: events.SessionCreated, ChatID: sess.ID, Title: sess.Title})
	return sess, nil
}

// Rename sets the title of session id. Blank titles are rejected with
// ErrBlankTitle before any storage call.
func (s *SessionService) Rename(ctx context.Context, id, title string) (*domain.ChatSession, error) {
	ctx, span := sessionTracer().Start(ctx, "Rename", trace.WithAttributes(attribute.String("chat.id", id)))
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		return nil, ErrBlankTitle
	}
	sess, err := s.Repo.RenameSession(ctx, s.DB, id, s.clip(title))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	publish(ctx, s.Events, events.Event{Type: events.SessionRenamed, ChatID: sess.ID, Title: sess.Title})
	return sess, nil
}

// Delete removes session id and all of its messages, returning the id.
func (s *SessionService) Delete(ctx context.Context, id string) (string, error) {
	ctx, span := sessionTracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("chat.id", id)))
	defer span.End()

	deleted, err := s.Repo.DeleteSession(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	publish(ctx, s.Events, events.Event{Type: events.SessionDeleted, ChatID: deleted})
	return deleted, nil
}

// clip truncates a title to the configured maximum rune length.
func (s *SessionService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims, collapses whitespace runs and applies NFC so visually
// identical titles are stored identically.
func normalizeTitle(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// publish sends ev and only logs failures.
func publish(ctx context.Context, p events.Publisher, ev events.Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Str("chat_id", ev.ChatID).Msg("event publish failed")
	}
}
