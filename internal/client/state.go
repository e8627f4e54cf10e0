package client

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Session mirrors a stored chat session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message mirrors a stored message. Messages that exist only locally carry
// a negative ephemeral ID.
type Message struct {
	ID      int64       `json:"id"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Ephemeral reports whether m was never persisted.
func (m Message) Ephemeral() bool { return m.ID < 0 }

// AppState is the client-side cache of server state for one application
// session. It is never authoritative; the Store reloads it from the server
// whenever an optimistic change has to be undone.
type AppState struct {
	Sessions       *Observable[[]Session]
	SelectedChatID *Observable[string]
	// Messages holds the messages of the selected chat only.
	Messages *Observable[[]Message]

	// loadedChat is the chat whose messages Messages holds. It is read and
	// written only inside Messages' update functions, so it always changes
	// together with the list.
	loadedChat string
}

// NewAppState returns an empty state.
func NewAppState() *AppState {
	return &AppState{
		Sessions:       NewObservable[[]Session](nil),
		SelectedChatID: NewObservable(""),
		Messages:       NewObservable[[]Message](nil),
	}
}

// newEphemeralID combines the current time with a random component and
// negates it, so it can never collide with a server-assigned ID.
func newEphemeralID() int64 {
	return -(time.Now().UnixMilli()<<12 | rand.Int64N(1<<12))
}

// ---- list helpers; all return fresh slices so observers never see a
// shared backing array mutate ----

func appendMessage(msgs []Message, m Message) []Message {
	return append(slices.Clip(msgs), m)
}

// putMessage puts m where the message with id was, or appends it when id is
// gone, e.g. after the list was reloaded. A copy of m.ID that the reload
// brought in is not duplicated.
func putMessage(msgs []Message, id int64, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	placed := false
	for _, x := range msgs {
		if x.ID == id || x.ID == m.ID {
			if !placed {
				out = append(out, m)
				placed = true
			}
			continue
		}
		out = append(out, x)
	}
	if !placed {
		out = append(out, m)
	}
	return out
}

func removeMessage(msgs []Message, id int64) []Message {
	return slices.DeleteFunc(slices.Clone(msgs), func(m Message) bool { return m.ID == id })
}

func indexOfSession(list []Session, id string) int {
	return slices.IndexFunc(list, func(s Session) bool { return s.ID == id })
}
