package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

//
// Service contracts (context-aware)
//

// SessionService defines session lifecycle operations consumed by handlers.
type SessionService interface {
	List(ctx context.Context) ([]domain.ChatSession, error)
	Create(ctx context.Context, title string) (*domain.ChatSession, error)
	Rename(ctx context.Context, id, title string) (*domain.ChatSession, error)
	Delete(ctx context.Context, id string) (string, error)
}

// MessageService defines message persistence operations consumed by handlers.
type MessageService interface {
	List(ctx context.Context, chatID string) ([]domain.Message, error)
	// AppendIdempotent stores a message; a repeated key replays the stored one.
	AppendIdempotent(ctx context.Context, chatID, key string, role domain.Role, content string) (*domain.Message, bool, error)
	Delete(ctx context.Context, chatID string, id int64) error
}

// CompletionRelay streams the assistant reply to a message, fragment by
// fragment. Breaking out of the sequence cancels the upstream call.
type CompletionRelay interface {
	Stream(ctx context.Context, chatID, message string) iter.Seq2[string, error]
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for sessions, messages and completions.
type Handlers struct {
	sessSvc SessionService
	msgSvc  MessageService
	relay   CompletionRelay
}

// New constructs a Handlers bound to the given services.
func New(sessSvc SessionService, msgSvc MessageService, relay CompletionRelay) *Handlers {
	return &Handlers{sessSvc: sessSvc, msgSvc: msgSvc, relay: relay}
}

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeStrict decodes the JSON body into dst rejecting unknown fields and
// trailing data, then runs gin's struct validator. An empty body is accepted
// only when allowEmpty is set.
func decodeStrict(c *gin.Context, dst any, allowEmpty bool) error {
	if c.Request.Body == nil {
		if allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return binding.Validator.ValidateStruct(dst)
}

// failDecode maps a decodeStrict error to the right 4xx.
func failDecode(c *gin.Context, err error, validationMsg string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
	case isValidationError(err):
		fail(c, http.StatusBadRequest, ErrCodeValidation, validationMsg)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
	}
}

func isValidationError(err error) bool {
	var ve validator.ValidationErrors
	return errors.As(err, &ve)
}
