// Package domain defines the persistence models for chat sessions and their
// messages. These types are mapped with GORM and form the core data layer
// of the chat relay.
package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New Chat"

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole normalizes s and returns the matching Role. The second result is
// false when s names no known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// ChatSession is a named conversation container. Sessions are listed newest
// first and own their messages; deleting a session removes its messages.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Title: mutable display title, "New Chat" when none was given.
//   - CreatedAt: creation instant, serialized as RFC 3339.
//   - UpdatedAt: bumped on rename; feeds list ETags and is not exposed.
type ChatSession struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Title     string    `json:"title"     gorm:"type:varchar(255);not null;default:'New Chat'"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_sessions_created"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// Message is a single utterance within a session. Messages are immutable once
// stored; they can only be deleted.
//
// Fields:
//   - ID: server-assigned, monotonically increasing integer.
//   - ChatID: foreign key to the owning session (indexed with CreatedAt).
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Content: full text, may be empty for assistant turns.
//   - CreatedAt: insertion instant; ties are broken by ID.
type Message struct {
	ID        int64     `json:"id"      gorm:"primaryKey;autoIncrement"`
	ChatID    string    `json:"chatId"  gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role      Role      `json:"role"    gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_chat_msgs,priority:2"`

	// Session is the parent conversation. Messages are cascade-deleted
	// if their session is removed.
	Session ChatSession `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
