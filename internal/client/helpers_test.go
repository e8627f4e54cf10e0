package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

var errBoom = errors.New("boom")

// fakeAPI is an in-memory server. Setting one of the fail fields makes the
// matching call return that error without changing anything.
type fakeAPI struct {
	mu       sync.Mutex
	sessions []Session
	messages map[string][]Message
	nextID   int64
	calls    []string

	failCreate, failRename, failDeleteSession error
	failAppend, failDeleteMessage, failList     error

	// completion, when set, produces the reply body.
	completion func(ctx context.Context, message string) (io.ReadCloser, error)
}

func newFakeAPI(sessions ...Session) *fakeAPI {
	return &fakeAPI{sessions: sessions, messages: map[string][]Message{}}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.calls, call)
}

func (f *fakeAPI) ListSessions(context.Context) ([]Session, error) {
	f.record("ListSessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sessions), nil
}

func (f *fakeAPI) CreateSession(_ context.Context, title string) (*Session, error) {
	f.record("CreateSession")
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	s := Session{ID: "s-" + time.Now().Format("150405.000000000"), Title: title, CreatedAt: time.Now()}
	f.sessions = append([]Session{s}, f.sessions...)
	return &s, nil
}

func (f *fakeAPI) RenameSession(_ context.Context, id, title string) (*Session, error) {
	f.record("RenameSession")
	if f.failRename != nil {
		return nil, f.failRename
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			f.sessions[i].Title = title
			s := f.sessions[i]
			return &s, nil
		}
	}
	return nil, &APIError{Status: http.StatusNotFound, Code: "not_found"}
}

func (f *fakeAPI) DeleteSession(_ context.Context, id string) error {
	f.record("DeleteSession")
	if f.failDeleteSession != nil {
		return f.failDeleteSession
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = slices.DeleteFunc(f.sessions, func(s Session) bool { return s.ID == id })
	delete(f.messages, id)
	return nil
}

func (f *fakeAPI) ListMessages(_ context.Context, chatID string) ([]Message, error) {
	f.record("ListMessages")
	if f.failList != nil {
		return nil, f.failList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages[chatID]), nil
}

func (f *fakeAPI) AppendMessage(_ context.Context, chatID string, role domain.Role, content string) (*Message, error) {
	f.record("AppendMessage:" + string(role))
	if f.failAppend != nil {
		return nil, f.failAppend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := Message{ID: f.nextID, Role: role, Content: content}
	f.messages[chatID] = append(f.messages[chatID], m)
	return &m, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, chatID string, id int64) error {
	f.record("DeleteMessage")
	if f.failDeleteMessage != nil {
		return f.failDeleteMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.messages[chatID])
	f.messages[chatID] = slices.DeleteFunc(f.messages[chatID], func(m Message) bool { return m.ID == id })
	if len(f.messages[chatID]) == n {
		return &APIError{Status: http.StatusNotFound, Code: "not_found"}
	}
	return nil
}

func (f *fakeAPI) Completion(ctx context.Context, _, message string) (io.ReadCloser, error) {
	f.record("Completion")
	if f.completion == nil {
		return io.NopCloser(&emptyReader{}), nil
	}
	return f.completion(ctx, message)
}

// stored returns the server-side messages of chatID.
func (f *fakeAPI) stored(chatID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages[chatID])
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

// fragmentBody writes frags to a pipe with gap between them, then closes it
// with tail (nil for a clean end).
func fragmentBody(frags []string, gap time.Duration, tail error) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		for _, f := range frags {
			if gap > 0 {
				time.Sleep(gap)
			}
			if _, err := pw.Write([]byte(f)); err != nil {
				return
			}
		}
		pw.CloseWithError(tail)
	}()
	return pr
}

func newTestStore(api API) *Store {
	return NewStore(api, NewAppState(), zerolog.Nop())
}

func sessionIDs(list []Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
