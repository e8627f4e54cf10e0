package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// StreamState is where a reply stream ended up.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStreaming
	StreamCompleted
	StreamFailed
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamFailed:
		return "failed"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// errorReplyPrefix starts the assistant bubble shown when a stream fails.
const errorReplyPrefix = "Sorry, I encountered an error: "

// readChunk is the decode buffer size; the server flushes far smaller pieces.
const readChunk = 4 << 10

// GetBotResponse streams the assistant's reply to message into the selected
// chat and stores it once the stream ends cleanly.
//
// Rendering is debounced: fragments collect in a buffer and are appended to
// a single assistant placeholder when no new fragment arrived for the
// debounce delay, and once more when the stream ends. The stored reply is
// the full concatenation of fragments; after storing it the placeholder
// takes the server's ID.
//
// A failure replaces the placeholder (or adds a bubble) with an apology and
// stores nothing. Cancelling ctx stops rendering and stores nothing; text
// already shown stays. The returned error is nil only for StreamCompleted,
// where it can still report that storing the reply failed.
func (s *Store) GetBotResponse(ctx context.Context, chatID, message string) (StreamState, error) {
	v := &replyView{store: s, chatID: chatID, id: newEphemeralID(), delay: s.debounce()}

	body, err := s.api.Completion(ctx, chatID, message)
	if err != nil {
		return v.abort(ctx, err)
	}
	defer body.Close()

	r := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readChunk)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			v.fragment(string(buf[:n]))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return v.abort(ctx, rerr)
		}
	}

	full := v.finish()
	if full == "" {
		return StreamCompleted, nil
	}
	saved, err := s.AddMessage(ctx, chatID, domain.RoleAssistant, full)
	if err != nil {
		return StreamCompleted, err
	}
	s.updateMessages(chatID, func(msgs []Message) []Message {
		return putMessage(msgs, v.id, Message{ID: saved.ID, Role: domain.RoleAssistant, Content: full})
	})
	return StreamCompleted, nil
}

// replyView owns the placeholder of one stream. fragment runs on the reading
// goroutine and the debounce timer fires on its own, so both go through mu;
// once closed is set no flush happens again.
type replyView struct {
	store  *Store
	chatID string
	id     int64
	delay  time.Duration

	mu      sync.Mutex
	pending strings.Builder // shown at the next flush, then reset
	full    strings.Builder // everything received
	text    string          // placeholder content after the last flush
	timer   *time.Timer
	closed  bool
}

func (v *replyView) fragment(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.pending.WriteString(text)
	v.full.WriteString(text)
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.delay, v.onTimer)
}

func (v *replyView) onTimer() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.flushLocked()
	}
}

// flushLocked moves the pending text into the placeholder. The placeholder
// is written whole each time, so it comes back with everything shown so far
// if a reload of the chat dropped it.
func (v *replyView) flushLocked() {
	if v.pending.Len() == 0 {
		return
	}
	v.text += v.pending.String()
	v.pending.Reset()

	m := Message{ID: v.id, Role: domain.RoleAssistant, Content: v.text}
	v.store.updateMessages(v.chatID, func(msgs []Message) []Message { return putMessage(msgs, v.id, m) })
}

// stopLocked cancels the timer and forbids further flushes.
func (v *replyView) stopLocked() {
	if v.timer != nil {
		v.timer.Stop()
	}
	v.closed = true
}

// finish forces the final flush and returns the whole reply.
func (v *replyView) finish() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
	v.flushLocked()
	return v.full.String()
}

// abort ends the stream after err. A done ctx means the caller gave up.
func (v *replyView) abort(ctx context.Context, err error) (StreamState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()

	if ctx.Err() != nil {
		v.store.log.Debug().Str("chat_id", v.chatID).Msg("reply stream cancelled")
		return StreamCancelled, errors.Join(ctx.Err(), err)
	}

	v.store.log.Error().Err(err).Str("chat_id", v.chatID).Msg("reply stream failed")
	apology := Message{ID: v.id, Role: domain.RoleAssistant, Content: errorReplyPrefix + err.Error()}
	v.store.updateMessages(v.chatID, func(msgs []Message) []Message { return putMessage(msgs, v.id, apology) })
	return StreamFailed, err
}
