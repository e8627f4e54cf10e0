package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"), repo.Options{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testSessionRepo adapts the repo functions to services.SessionRepo, the same
// way the router does.
type testSessionRepo struct{}

func (testSessionRepo) CreateSession(ctx context.Context, db *gorm.DB, title string) (*domain.ChatSession, error) {
	return repo.CreateSession(ctx, db, title)
}

func (testSessionRepo) ListSessions(ctx context.Context, db *gorm.DB) ([]domain.ChatSession, error) {
	return repo.ListSessions(ctx, db)
}

func (testSessionRepo) GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	return repo.GetSession(ctx, db, id)
}

func (testSessionRepo) RenameSession(ctx context.Context, db *gorm.DB, id, title string) (*domain.ChatSession, error) {
	return repo.RenameSession(ctx, db, id, title)
}

func (testSessionRepo) DeleteSession(ctx context.Context, db *gorm.DB, id string) (string, error) {
	return repo.DeleteSession(ctx, db, id)
}

// ---------- relay fake ----------

// fakeRelay yields frags, then err (if any).
type fakeRelay struct {
	frags []string
	err   error

	gotChat, gotMessage string
}

func (f *fakeRelay) Stream(_ context.Context, chatID, message string) iter.Seq2[string, error] {
	f.gotChat, f.gotMessage = chatID, message
	return func(yield func(string, error) bool) {
		for _, s := range f.frags {
			if !yield(s, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

// ---------- router ----------

type testEnv struct {
	db     *gorm.DB
	sess   *services.SessionService
	msgs   *services.MessageService
	engine *gin.Engine
}

func newTestEnv(t *testing.T, relay CompletionRelay) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	sess := services.NewSessionService(db, testSessionRepo{})
	msgs := &services.MessageService{DB: db}
	h := New(sess, msgs, relay)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, func(ctx context.Context, chatID, key string) (bool, error) {
		return msgs.Replayed(ctx, chatID, key), nil
	}))
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.CreateSession)
	r.PUT("/sessions/:id", h.RenameSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.GET("/sessions/:id/messages", h.ListMessages)
	r.POST("/sessions/:id/messages", h.AppendMessage)
	r.DELETE("/sessions/:id/messages/:messageId", h.DeleteMessage)
	r.POST("/sessions/:id/completion", h.Completion)

	return &testEnv{db: db, sess: sess, msgs: msgs, engine: r}
}

func (e *testEnv) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) newSession(t *testing.T, title string) *domain.ChatSession {
	t.Helper()
	s, err := e.sess.Create(context.Background(), title)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, w.Body.String())
	}
	return er
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if er := decodeErr(t, w); er.Code != code || er.RequestID == "" {
		t.Fatalf("error = %+v, want code %q with request id", er, code)
	}
}

