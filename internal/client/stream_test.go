package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// placeholderLog records the content of the streaming placeholder on every
// notification in which it is present.
type placeholderLog struct {
	mu       sync.Mutex
	contents []string
}

func (p *placeholderLog) watch(s *Store) {
	s.State().Messages.Subscribe(func(msgs []Message) {
		for _, m := range msgs {
			if m.Role == domain.RoleAssistant && m.Ephemeral() {
				p.mu.Lock()
				p.contents = append(p.contents, m.Content)
				p.mu.Unlock()
			}
		}
	})
}

func (p *placeholderLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.contents...)
}

func streamingStore(t *testing.T, body func(ctx context.Context) (io.ReadCloser, error)) (*fakeAPI, *Store) {
	t.Helper()
	api := newFakeAPI(Session{ID: "chat", Title: "t"})
	api.completion = func(ctx context.Context, _ string) (io.ReadCloser, error) { return body(ctx) }
	s := newTestStore(api)
	if err := s.SelectChat(context.Background(), "chat"); err != nil {
		t.Fatalf("select: %v", err)
	}
	return api, s
}

func TestGetBotResponse_PersistsConcatenation(t *testing.T) {
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) {
		return fragmentBody([]string{"Hel", "lo, ", "world!"}, 0, nil), nil
	})

	state, err := s.GetBotResponse(context.Background(), "chat", "Say hello")
	if state != StreamCompleted || err != nil {
		t.Fatalf("state=%v err=%v", state, err)
	}

	stored := api.stored("chat")
	if len(stored) != 1 || stored[0].Role != domain.RoleAssistant || stored[0].Content != "Hello, world!" {
		t.Fatalf("stored %+v", stored)
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || msgs[0].ID != stored[0].ID || msgs[0].Content != "Hello, world!" {
		t.Fatalf("placeholder not swapped for the stored message: %+v", msgs)
	}
}

func TestGetBotResponse_DebouncesFlushes(t *testing.T) {
	frags := make([]string, 50)
	for i := range frags {
		frags[i] = "x"
	}
	_, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) {
		return fragmentBody(frags, time.Millisecond, nil), nil
	})
	var log placeholderLog
	log.watch(s)

	if state, err := s.GetBotResponse(context.Background(), "chat", "go"); state != StreamCompleted || err != nil {
		t.Fatalf("state=%v err=%v", state, err)
	}

	flushes := log.snapshot()
	if len(flushes) == 0 || len(flushes) >= 50 {
		t.Fatalf("flushes = %d, want between 1 and 49", len(flushes))
	}
	if last := flushes[len(flushes)-1]; last != strings.Repeat("x", 50) {
		t.Fatalf("last flush %q is not the full reply", last)
	}
}

func TestGetBotResponse_FlushesDuringPauses(t *testing.T) {
	pr, pw := io.Pipe()
	_, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) { return pr, nil })
	s.Debounce = 10 * time.Millisecond

	var log placeholderLog
	log.watch(s)

	go func() {
		_, _ = pw.Write([]byte("first "))
		time.Sleep(80 * time.Millisecond)
		_, _ = pw.Write([]byte("second"))
		_ = pw.Close()
	}()
	if state, _ := s.GetBotResponse(context.Background(), "chat", "go"); state != StreamCompleted {
		t.Fatalf("state = %v", state)
	}

	flushes := log.snapshot()
	if len(flushes) != 2 || flushes[0] != "first " || flushes[1] != "first second" {
		t.Fatalf("flushes = %q", flushes)
	}
	// Exactly one assistant bubble.
	if n := len(s.State().Messages.Get()); n != 1 {
		t.Fatalf("%d messages in view", n)
	}
}

func TestGetBotResponse_SplitRunesReassembled(t *testing.T) {
	word := "héllo wörld ✓"
	raw := []byte(word)
	var frags []string
	for _, b := range raw {
		frags = append(frags, string([]byte{b}))
	}
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) {
		return fragmentBody(frags, 0, nil), nil
	})

	if state, err := s.GetBotResponse(context.Background(), "chat", "x"); state != StreamCompleted || err != nil {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if got := api.stored("chat")[0].Content; got != word {
		t.Fatalf("stored %q, want %q", got, word)
	}
}

func TestGetBotResponse_RequestFailureShowsApology(t *testing.T) {
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) {
		return nil, &APIError{Status: 500, Code: "provider_error", Message: "completion provider failed"}
	})

	state, err := s.GetBotResponse(context.Background(), "chat", "x")
	if state != StreamFailed || err == nil {
		t.Fatalf("state=%v err=%v", state, err)
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, "Sorry, I encountered an error: ") ||
		!strings.Contains(msgs[0].Content, "completion provider failed") {
		t.Fatalf("messages %+v", msgs)
	}
	if len(api.stored("chat")) != 0 {
		t.Fatalf("failure was persisted")
	}
}

func TestGetBotResponse_TruncatedStreamReplacesPlaceholder(t *testing.T) {
	pr, pw := io.Pipe()
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) { return pr, nil })
	s.Debounce = 5 * time.Millisecond

	go func() {
		_, _ = pw.Write([]byte("partial"))
		time.Sleep(40 * time.Millisecond)
		pw.CloseWithError(io.ErrUnexpectedEOF)
	}()

	state, err := s.GetBotResponse(context.Background(), "chat", "x")
	if state != StreamFailed || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("state=%v err=%v", state, err)
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, errorReplyPrefix) {
		t.Fatalf("placeholder not replaced: %+v", msgs)
	}
	if len(api.stored("chat")) != 0 {
		t.Fatalf("partial reply was persisted")
	}
}

func TestGetBotResponse_CancelStopsWithoutPersisting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	api, s := streamingStore(t, func(ctx context.Context) (io.ReadCloser, error) {
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	})
	s.Debounce = 5 * time.Millisecond

	go func() {
		_, _ = pw.Write([]byte("shown "))
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	state, _ := s.GetBotResponse(ctx, "chat", "x")
	if state != StreamCancelled {
		t.Fatalf("state = %v", state)
	}
	if len(api.stored("chat")) != 0 {
		t.Fatalf("cancelled reply was persisted")
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || msgs[0].Content != "shown " {
		t.Fatalf("flushed text should stay as is: %+v", msgs)
	}
}

func TestGetBotResponse_EmptyStreamStoresNothing(t *testing.T) {
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) {
		return fragmentBody(nil, 0, nil), nil
	})
	if state, err := s.GetBotResponse(context.Background(), "chat", "x"); state != StreamCompleted || err != nil {
		t.Fatalf("state=%v err=%v", state, err)
	}
	if len(api.stored("chat")) != 0 || len(s.State().Messages.Get()) != 0 {
		t.Fatalf("empty reply produced output")
	}
}

func TestGetBotResponse_OtherChatSelectedMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) { return pr, nil })
	api.sessions = append(api.sessions, Session{ID: "other"})

	go func() {
		_, _ = pw.Write([]byte("reply"))
		_ = s.SelectChat(context.Background(), "other")
		_ = pw.Close()
	}()
	if state, _ := s.GetBotResponse(context.Background(), "chat", "x"); state != StreamCompleted {
		t.Fatalf("state = %v", state)
	}
	if len(s.State().Messages.Get()) != 0 {
		t.Fatalf("reply leaked into another chat's view")
	}
	if len(api.stored("chat")) != 1 {
		t.Fatalf("reply not stored for its own chat")
	}
}

func TestGetBotResponse_ChatReselectedMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	api, s := streamingStore(t, func(context.Context) (io.ReadCloser, error) { return pr, nil })
	api.sessions = append(api.sessions, Session{ID: "other"})
	s.Debounce = 5 * time.Millisecond

	flushed := make(chan struct{}, 1)
	s.State().Messages.Subscribe(func(msgs []Message) {
		for _, m := range msgs {
			if m.Role == domain.RoleAssistant && m.Ephemeral() {
				select {
				case flushed <- struct{}{}:
				default:
				}
			}
		}
	})

	go func() {
		_, _ = pw.Write([]byte("Hel"))
		<-flushed
		// Leaving and coming back reloads the chat without the placeholder.
		_ = s.SelectChat(context.Background(), "other")
		_ = s.SelectChat(context.Background(), "chat")
		_, _ = pw.Write([]byte("lo"))
		_ = pw.Close()
	}()

	if state, err := s.GetBotResponse(context.Background(), "chat", "x"); state != StreamCompleted || err != nil {
		t.Fatalf("state=%v err=%v", state, err)
	}
	stored := api.stored("chat")
	if len(stored) != 1 || stored[0].Content != "Hello" {
		t.Fatalf("stored %+v", stored)
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || msgs[0].ID != stored[0].ID || msgs[0].Content != "Hello" {
		t.Fatalf("reply missing from the reselected chat: %+v", msgs)
	}
}

func TestStreamState_String(t *testing.T) {
	for st, want := range map[StreamState]string{
		StreamIdle: "idle", StreamStreaming: "streaming", StreamCompleted: "completed",
		StreamFailed: "failed", StreamCancelled: "cancelled", StreamState(99): "unknown",
	} {
		if st.String() != want {
			t.Fatalf("%d.String() = %q", st, st.String())
		}
	}
}
