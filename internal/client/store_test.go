package client

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

func threeSessions() []Session {
	now := time.Now()
	return []Session{
		{ID: "a", Title: "A", CreatedAt: now},
		{ID: "b", Title: "B", CreatedAt: now.Add(-time.Minute)},
		{ID: "c", Title: "C", CreatedAt: now.Add(-2 * time.Minute)},
	}
}

func TestInit_SelectsNewestSession(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	api.messages["a"] = []Message{{ID: 1, Role: domain.RoleUser, Content: "hi"}}
	s := newTestStore(api)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.State().SelectedChatID.Get(); got != "a" {
		t.Fatalf("selected %q", got)
	}
	if msgs := s.State().Messages.Get(); len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("messages %+v", msgs)
	}
}

func TestSelectChat_EmptyClears(t *testing.T) {
	s := newTestStore(newFakeAPI())
	s.State().Messages.Set([]Message{{ID: 1}})
	if err := s.SelectChat(context.Background(), ""); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(s.State().Messages.Get()) != 0 || s.State().SelectedChatID.Get() != "" {
		t.Fatalf("state not cleared")
	}
}

func TestLoadMessages_FailureClears(t *testing.T) {
	api := newFakeAPI()
	api.failList = errBoom
	s := newTestStore(api)
	s.State().Messages.Set([]Message{{ID: 1}})
	if err := s.LoadMessages(context.Background(), "a"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if len(s.State().Messages.Get()) != 0 {
		t.Fatalf("stale messages kept")
	}
}

func TestCreateSession_SelectsNew(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)

	sess, err := s.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Title != domain.DefaultSessionTitle {
		t.Fatalf("title %q", sess.Title)
	}
	if list := s.State().Sessions.Get(); len(list) != 4 || list[0].ID != sess.ID {
		t.Fatalf("list %v", sessionIDs(list))
	}
	if s.State().SelectedChatID.Get() != sess.ID {
		t.Fatalf("new session not selected")
	}
}

func TestCreateSession_FailureShowsNothing(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	api.failCreate = errBoom
	s := newTestStore(api)
	_ = s.LoadSessions(context.Background())

	var notified int
	s.State().Sessions.Subscribe(func([]Session) { notified++ })
	if _, err := s.CreateSession(context.Background(), "x"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if notified != 0 || len(s.State().Sessions.Get()) != 3 {
		t.Fatalf("failed create touched the list (%d notifications)", notified)
	}
}

func TestDeleteSession_SelectsNeighbour(t *testing.T) {
	cases := []struct {
		deleted, selectedAfter string
	}{
		{"b", "a"}, // the one before
		{"a", "b"}, // first: the one after
		{"c", "b"},
	}
	for _, tc := range cases {
		api := newFakeAPI(threeSessions()...)
		s := newTestStore(api)
		_ = s.LoadSessions(context.Background())
		_ = s.SelectChat(context.Background(), tc.deleted)

		if err := s.DeleteSession(context.Background(), tc.deleted); err != nil {
			t.Fatalf("delete %s: %v", tc.deleted, err)
		}
		if got := s.State().SelectedChatID.Get(); got != tc.selectedAfter {
			t.Fatalf("delete %s: selected %q, want %q", tc.deleted, got, tc.selectedAfter)
		}
		if slices.Contains(sessionIDs(s.State().Sessions.Get()), tc.deleted) {
			t.Fatalf("delete %s: still listed", tc.deleted)
		}
	}
}

func TestDeleteSession_LastOneSelectsNothing(t *testing.T) {
	api := newFakeAPI(Session{ID: "only", Title: "x"})
	s := newTestStore(api)
	_ = s.Init(context.Background())

	if err := s.DeleteSession(context.Background(), "only"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.State().SelectedChatID.Get() != "" || len(s.State().Sessions.Get()) != 0 {
		t.Fatalf("state after delete: %q %v", s.State().SelectedChatID.Get(), s.State().Sessions.Get())
	}
}

func TestDeleteSession_NotSelectedKeepsSelection(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)
	_ = s.Init(context.Background())

	if err := s.DeleteSession(context.Background(), "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.State().SelectedChatID.Get() != "a" {
		t.Fatalf("selection moved")
	}
}

func TestDeleteSession_FailureRestores(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	api.failDeleteSession = errBoom
	s := newTestStore(api)
	_ = s.LoadSessions(context.Background())

	var seen [][]string
	s.State().Sessions.Subscribe(func(list []Session) { seen = append(seen, sessionIDs(list)) })

	if err := s.DeleteSession(context.Background(), "b"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if len(seen) == 0 || slices.Contains(seen[0], "b") {
		t.Fatalf("no optimistic removal observed: %v", seen)
	}
	if got := sessionIDs(s.State().Sessions.Get()); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("list not restored: %v", got)
	}
	if !api.called("ListSessions") {
		t.Fatalf("canonical list not reloaded")
	}
}

func TestRenameSession_BlankRejectedWithoutCall(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)
	_ = s.LoadSessions(context.Background())

	for _, title := range []string{"", "   ", "\t\n"} {
		if err := s.RenameSession(context.Background(), "a", title); !errors.Is(err, ErrBlankTitle) {
			t.Fatalf("rename %q: err = %v", title, err)
		}
	}
	if api.called("RenameSession") {
		t.Fatalf("blank title reached the server")
	}
	if s.State().Sessions.Get()[0].Title != "A" {
		t.Fatalf("local title changed")
	}
}

func TestRenameSession_OptimisticThenServerTitle(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)
	_ = s.LoadSessions(context.Background())

	var titles []string
	s.State().Sessions.Subscribe(func(list []Session) { titles = append(titles, list[1].Title) })

	if err := s.RenameSession(context.Background(), "b", "  Trip  "); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(titles) < 1 || titles[0] != "Trip" {
		t.Fatalf("optimistic title not shown first: %v", titles)
	}
	if s.State().Sessions.Get()[1].Title != "Trip" {
		t.Fatalf("final title %q", s.State().Sessions.Get()[1].Title)
	}
}

func TestRenameSession_FailureReverts(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	api.failRename = errBoom
	s := newTestStore(api)
	_ = s.LoadSessions(context.Background())

	if err := s.RenameSession(context.Background(), "b", "Trip"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if s.State().Sessions.Get()[1].Title != "B" {
		t.Fatalf("title not reverted: %q", s.State().Sessions.Get()[1].Title)
	}
}

func TestAddMessage_UserOptimisticThenCanonical(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)
	_ = s.SelectChat(context.Background(), "a")

	var sawEphemeral bool
	s.State().Messages.Subscribe(func(msgs []Message) {
		for _, m := range msgs {
			if m.Ephemeral() && m.Content == "hello" {
				sawEphemeral = true
			}
		}
	})

	saved, err := s.AddMessage(context.Background(), "a", domain.RoleUser, "hello")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !sawEphemeral {
		t.Fatalf("no optimistic insert observed")
	}
	msgs := s.State().Messages.Get()
	if len(msgs) != 1 || msgs[0].ID != saved.ID || msgs[0].Ephemeral() {
		t.Fatalf("messages %+v", msgs)
	}
}

func TestAddMessage_FailureRestoresPriorState(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	api.messages["a"] = []Message{{ID: 7, Role: domain.RoleUser, Content: "earlier"}}
	s := newTestStore(api)
	_ = s.SelectChat(context.Background(), "a")
	before := s.State().Messages.Get()

	api.failAppend = errBoom
	if _, err := s.AddMessage(context.Background(), "a", domain.RoleUser, "lost"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if got := s.State().Messages.Get(); !slices.Equal(got, before) {
		t.Fatalf("cache = %+v, want %+v", got, before)
	}
}

func TestAddMessage_AssistantNotOptimistic(t *testing.T) {
	api := newFakeAPI(threeSessions()...)
	s := newTestStore(api)
	_ = s.SelectChat(context.Background(), "a")

	var notified int
	s.State().Messages.Subscribe(func([]Message) { notified++ })
	if _, err := s.AddMessage(context.Background(), "a", domain.RoleAssistant, "reply"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if notified != 0 || len(s.State().Messages.Get()) != 0 {
		t.Fatalf("assistant message rendered by AddMessage")
	}
	if len(api.stored("a")) != 1 {
		t.Fatalf("assistant message not stored")
	}
}

func TestDeleteMessage_Outcomes(t *testing.T) {
	seed := func() (*fakeAPI, *Store) {
		api := newFakeAPI(threeSessions()...)
		api.messages["a"] = []Message{
			{ID: 1, Role: domain.RoleUser, Content: "one"},
			{ID: 2, Role: domain.RoleAssistant, Content: "two"},
		}
		s := newTestStore(api)
		_ = s.SelectChat(context.Background(), "a")
		return api, s
	}

	t.Run("success", func(t *testing.T) {
		api, s := seed()
		if err := s.DeleteMessage(context.Background(), "a", 2); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if len(s.State().Messages.Get()) != 1 || len(api.stored("a")) != 1 {
			t.Fatalf("not removed")
		}
	})

	t.Run("404 keeps removal", func(t *testing.T) {
		api, s := seed()
		api.failDeleteMessage = &APIError{Status: http.StatusNotFound}
		if err := s.DeleteMessage(context.Background(), "a", 2); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if msgs := s.State().Messages.Get(); len(msgs) != 1 || msgs[0].ID != 1 {
			t.Fatalf("messages %+v", msgs)
		}
	})

	t.Run("other failure reloads", func(t *testing.T) {
		api, s := seed()
		api.failDeleteMessage = &APIError{Status: http.StatusInternalServerError}
		if err := s.DeleteMessage(context.Background(), "a", 2); err == nil {
			t.Fatalf("expected error")
		}
		if msgs := s.State().Messages.Get(); len(msgs) != 2 {
			t.Fatalf("messages not reloaded: %+v", msgs)
		}
	})

	t.Run("ephemeral is local only", func(t *testing.T) {
		api, s := seed()
		s.State().Messages.Update(func(m []Message) []Message { return appendMessage(m, Message{ID: -5, Content: "temp"}) })
		if err := s.DeleteMessage(context.Background(), "a", -5); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if api.called("DeleteMessage") || len(s.State().Messages.Get()) != 2 {
			t.Fatalf("ephemeral delete hit the server or removed too much")
		}
	})
}

func TestEphemeralIDsAreNegativeAndDistinct(t *testing.T) {
	seen := map[int64]bool{}
	for range 100 {
		id := newEphemeralID()
		if id >= 0 {
			t.Fatalf("ephemeral id %d is not negative", id)
		}
		seen[id] = true
	}
	if len(seen) < 90 {
		t.Fatalf("too many collisions: %d distinct of 100", len(seen))
	}
}

func TestUpdateMessages_OnlyForLoadedSelectedChat(t *testing.T) {
	s := newTestStore(newFakeAPI(Session{ID: "a"}, Session{ID: "b"}))
	if err := s.SelectChat(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	// Selection moved on, but the list still belongs to "a".
	s.State().SelectedChatID.Set("b")

	notified := 0
	s.State().Messages.Subscribe(func([]Message) { notified++ })
	add := func(m []Message) []Message { return appendMessage(m, Message{ID: -1, Role: domain.RoleAssistant}) }

	s.updateMessages("a", add)
	s.updateMessages("b", add)
	if len(s.State().Messages.Get()) != 0 || notified != 0 {
		t.Fatalf("update applied to the wrong list: %+v (%d notifications)", s.State().Messages.Get(), notified)
	}

	if err := s.LoadMessages(context.Background(), "b"); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.updateMessages("b", add)
	if len(s.State().Messages.Get()) != 1 {
		t.Fatalf("update for the loaded chat dropped")
	}
}

func TestPutMessage(t *testing.T) {
	ph := Message{ID: -7, Content: "draft"}
	saved := Message{ID: 3, Content: "final"}
	cases := []struct {
		name string
		in   []Message
		want []int64
	}{
		{"replaces in place", []Message{{ID: 1}, ph, {ID: 2}}, []int64{1, 3, 2}},
		{"appends when gone", []Message{{ID: 1}}, []int64{1, 3}},
		{"no duplicate after reload", []Message{{ID: 1}, {ID: 3}}, []int64{1, 3}},
		{"both present", []Message{ph, {ID: 3}}, []int64{3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := putMessage(tc.in, ph.ID, saved)
			ids := make([]int64, len(out))
			for i, m := range out {
				ids[i] = m.ID
			}
			if !slices.Equal(ids, tc.want) {
				t.Fatalf("ids %v, want %v", ids, tc.want)
			}
		})
	}
}
