// Package services defines the business logic for chat sessions, messages
// and completion relaying. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-chat-stream/internal/repo"
)

// Validation errors.
var (
	// ErrBlankTitle is returned when a rename supplies an empty or
	// whitespace-only title. It is raised before any storage call.
	ErrBlankTitle = errors.New("title must not be blank")

	// ErrInvalidRole is returned when a message role is neither "user" nor
	// "assistant".
	ErrInvalidRole = errors.New("role must be user or assistant")

	// ErrEmptyMessage is returned when a completion is requested for an empty
	// message.
	ErrEmptyMessage = errors.New("message is empty")
)

// Lookup errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates that the message does not exist in the
	// given session.
	ErrMessageNotFound = errors.New("message not found")
)

// ErrInsertFailed reports an insert that wrote no row.
var ErrInsertFailed = repo.ErrInsertFailed

// ErrStreamIdle is the cancellation cause when the provider produced no
// fragment within the configured idle timeout.
var ErrStreamIdle = errors.New("completion stream idle timeout")
