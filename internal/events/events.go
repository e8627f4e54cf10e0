// Package events publishes conversation-store changes so other processes
// (search indexers, audit trails, live dashboards) can follow them without
// polling the database. Publishing is best-effort: a failed publish never
// fails the mutation that produced it.
package events

import (
	"context"
	"time"
)

// Type names a domain event. It is also the last segment of the subject.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionRenamed Type = "session.renamed"
	SessionDeleted Type = "session.deleted"
	MessageCreated Type = "message.created"
	MessageDeleted Type = "message.deleted"
)

// Event is the JSON payload published for every mutation.
type Event struct {
	Type      Type      `json:"type"`
	ChatID    string    `json:"chatId"`
	MessageID int64     `json:"messageId,omitempty"`
	Role      string    `json:"role,omitempty"`
	Title     string    `json:"title,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
