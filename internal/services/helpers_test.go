package services

import (
	"context"
	"iter"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-stream/internal/events"
	"github.com/tbourn/go-chat-stream/internal/provider"
	"github.com/tbourn/go-chat-stream/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// scriptedProvider replays a fixed script. A nil script entry with a non-nil
// err is yielded as an error.
type scriptedProvider struct {
	frags []string
	err   error
	// block, when set, makes Stream wait for ctx cancellation after the frags.
	block bool

	gotHistory []provider.Turn
	gotMessage string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, history []provider.Turn, message string) iter.Seq2[string, error] {
	p.gotHistory, p.gotMessage = history, message
	return func(yield func(string, error) bool) {
		for _, f := range p.frags {
			if !yield(f, nil) {
				return
			}
		}
		if p.block {
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		if p.err != nil {
			yield("", p.err)
		}
	}
}
