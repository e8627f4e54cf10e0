package client

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ErrBlankTitle is returned by RenameSession for an empty or whitespace title.
var ErrBlankTitle = errors.New("title must not be blank")

// DefaultDebounce is the trailing-edge delay between the last received
// fragment and the next render of a streaming reply.
const DefaultDebounce = 100 * time.Millisecond

// Store applies user actions to AppState and the server. Changes that can be
// predicted are shown immediately and undone when the server disagrees.
// Methods are meant to be called from one goroutine at a time.
type Store struct {
	api   API
	state *AppState
	log   zerolog.Logger

	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// NewStore returns a Store working on state through api.
func NewStore(api API, state *AppState, log zerolog.Logger) *Store {
	return &Store{api: api, state: state, log: log}
}

// State returns the state the store mutates.
func (s *Store) State() *AppState { return s.state }

// Init loads the session list and selects the newest session, if any.
func (s *Store) Init(ctx context.Context) error {
	if err := s.LoadSessions(ctx); err != nil {
		return err
	}
	if list := s.state.Sessions.Get(); len(list) > 0 {
		return s.SelectChat(ctx, list[0].ID)
	}
	return nil
}

// LoadSessions replaces the cached session list with the server's.
func (s *Store) LoadSessions(ctx context.Context) error {
	list, err := s.api.ListSessions(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("load sessions failed")
		return err
	}
	s.state.Sessions.Set(list)
	return nil
}

// LoadMessages replaces the cached messages with those of chatID. An empty
// chatID clears them, as does a failed load.
func (s *Store) LoadMessages(ctx context.Context, chatID string) error {
	if chatID == "" {
		s.setMessages(chatID, nil)
		return nil
	}
	msgs, err := s.api.ListMessages(ctx, chatID)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("load messages failed")
		s.setMessages(chatID, nil)
		return err
	}
	s.setMessages(chatID, msgs)
	return nil
}

func (s *Store) setMessages(chatID string, msgs []Message) {
	s.state.Messages.Update(func([]Message) []Message {
		s.state.loadedChat = chatID
		return msgs
	})
}

// SelectChat makes id the selected chat and reloads its messages.
func (s *Store) SelectChat(ctx context.Context, id string) error {
	s.state.SelectedChatID.Set(id)
	return s.LoadMessages(ctx, id)
}

// CreateSession waits for the server, reloads the list and selects the new
// session. Nothing is shown before the server answers.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	sess, err := s.api.CreateSession(ctx, title)
	if err != nil {
		s.log.Error().Err(err).Msg("create session failed")
		return nil, err
	}
	if err := s.LoadSessions(ctx); err != nil {
		return sess, err
	}
	return sess, s.SelectChat(ctx, sess.ID)
}

// DeleteSession removes id from the list at once. If it was selected, its
// neighbour (the one before it, else the one after) is selected instead. When
// the server refuses, the previous list is restored and then reloaded.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	snapshot := s.state.Sessions.Get()
	next := ""
	if i := indexOfSession(snapshot, id); i >= 0 {
		switch {
		case i > 0:
			next = snapshot[i-1].ID
		case len(snapshot) > 1:
			next = snapshot[i+1].ID
		}
	}
	s.state.Sessions.Update(func(list []Session) []Session {
		return slices.DeleteFunc(slices.Clone(list), func(x Session) bool { return x.ID == id })
	})
	if s.state.SelectedChatID.Get() == id {
		_ = s.SelectChat(ctx, next)
	}

	if err := s.api.DeleteSession(ctx, id); err != nil {
		s.log.Error().Err(err).Str("chat_id", id).Msg("delete session failed; restoring")
		s.state.Sessions.Set(snapshot)
		_ = s.LoadSessions(ctx)
		return err
	}
	return nil
}

// RenameSession trims title and shows it at once. The server's title is
// applied on success; on failure the previous title comes back.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrBlankTitle
	}

	prev, found := "", false
	s.state.Sessions.Update(func(list []Session) []Session {
		out := slices.Clone(list)
		if i := indexOfSession(out, id); i >= 0 {
			prev, found = out[i].Title, true
			out[i].Title = title
		}
		return out
	})

	updated, err := s.api.RenameSession(ctx, id, title)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", id).Msg("rename session failed; reverting")
		if found {
			s.setTitle(id, prev)
		}
		return err
	}
	s.setTitle(id, updated.Title)
	return nil
}

func (s *Store) setTitle(id, title string) {
	s.state.Sessions.Update(func(list []Session) []Session {
		out := slices.Clone(list)
		if i := indexOfSession(out, id); i >= 0 {
			out[i].Title = title
		}
		return out
	})
}

// AddMessage stores a message. A user message is shown at once under an
// ephemeral ID, then swapped for the stored one, or removed if the server
// refuses it. Assistant messages are only stored; the stream consumer has
// already rendered them.
func (s *Store) AddMessage(ctx context.Context, chatID string, role domain.Role, content string) (*Message, error) {
	var tempID int64
	if role == domain.RoleUser {
		tempID = newEphemeralID()
		s.updateMessages(chatID, func(msgs []Message) []Message {
			return appendMessage(msgs, Message{ID: tempID, Role: role, Content: content})
		})
	}

	saved, err := s.api.AppendMessage(ctx, chatID, role, content)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Str("role", string(role)).Msg("add message failed")
		if tempID != 0 {
			s.updateMessages(chatID, func(msgs []Message) []Message { return removeMessage(msgs, tempID) })
		}
		return nil, err
	}
	if tempID != 0 {
		s.updateMessages(chatID, func(msgs []Message) []Message { return putMessage(msgs, tempID, *saved) })
	}
	return saved, nil
}

// DeleteMessage removes a message at once. A 404 means it is already gone,
// which is the desired outcome. Any other failure reloads the chat from the
// server. Messages that were never stored are removed locally only.
func (s *Store) DeleteMessage(ctx context.Context, chatID string, id int64) error {
	found := false
	s.updateMessages(chatID, func(msgs []Message) []Message {
		found = slices.ContainsFunc(msgs, func(m Message) bool { return m.ID == id })
		return removeMessage(msgs, id)
	})
	if !found || id < 0 {
		return nil
	}

	err := s.api.DeleteMessage(ctx, chatID, id)
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		s.log.Warn().Str("chat_id", chatID).Int64("message_id", id).Msg("message already gone")
		return nil
	default:
		s.log.Error().Err(err).Str("chat_id", chatID).Int64("message_id", id).Msg("delete message failed; reloading")
		_ = s.LoadMessages(ctx, chatID)
		return err
	}
}

// updateMessages applies fn to the cached messages while chatID is the
// selected chat and its messages are the ones loaded. Results for a chat the
// user has navigated away from are dropped; its messages are reloaded when
// it is selected again. Both checks run under the Messages lock, so a
// selection change cannot slip in between the check and the update.
func (s *Store) updateMessages(chatID string, fn func([]Message) []Message) {
	s.state.Messages.Modify(func(msgs []Message) ([]Message, bool) {
		if s.state.loadedChat != chatID || s.state.SelectedChatID.Get() != chatID {
			return msgs, false
		}
		return fn(msgs), true
	})
}

func (s *Store) debounce() time.Duration {
	if s.Debounce > 0 {
		return s.Debounce
	}
	return DefaultDebounce
}
