// Message HTTP handlers.
//
//   - GET    /sessions/{id}/messages              (list in conversation order, weak ETag)
//   - POST   /sessions/{id}/messages              (append, Idempotency-Key aware)
//   - DELETE /sessions/{id}/messages/{messageId}  (delete one message)
//
// Idempotency:
// When the request carries an Idempotency-Key already used for the same
// session, the originally stored message is returned with
// `Idempotency-Replayed: true` and nothing new is written.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

//
// DTOs
//

// AppendMessageRequest is the JSON payload for storing a message.
type AppendMessageRequest struct {
	// Role is the author of the message.
	Role string `json:"role" binding:"required,oneof=user assistant" example:"user"`
	// Content is the message text; it must be present but may be empty.
	Content *string `json:"content" example:"What should I pack for Lisbon in March?"`
}

// MessageView is the list representation of a message.
type MessageView struct {
	ID      int64       `json:"id" example:"42"`
	Role    domain.Role `json:"role" example:"assistant"`
	Content string      `json:"content" example:"Layers and a light rain jacket."`
}

func toViews(in []domain.Message) []MessageView {
	out := make([]MessageView, 0, len(in))
	for _, m := range in {
		out = append(out, MessageView{ID: m.ID, Role: m.Role, Content: m.Content})
	}
	return out
}

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a session
// @Description Returns the session's messages oldest first. An unknown session yields an empty list.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       id             path    string  true  "Session ID (UUID)"           format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {array}  handlers.MessageView
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	// ETag pre-check (best effort). Messages are immutable, so count and the
	// highest id identify the list.
	var db *gorm.DB
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxID, err := repo.MessagesStats(ctx, db, chatID)
		if err == nil {
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, chatID, count, maxID)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.msgSvc.List(ctx, chatID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, toViews(items))
}

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Store a message
// @Description Appends a user or assistant message to the session.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body             body    handlers.AppendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message
// @Header      201  {string}  Idempotency-Replayed  "true when the stored message was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid role or content"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := decodeStrict(c, &req, false); err != nil {
		failDecode(c, err, "role must be 'user' or 'assistant'")
		return
	}
	if req.Content == nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "content must be a string")
		return
	}

	chatID := c.Param("id")
	if !validSessionID(chatID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	m, replayed, err := h.msgSvc.AppendIdempotent(c.Request.Context(), chatID, key, domain.Role(req.Role), *req.Content)
	switch {
	case errors.Is(err, services.ErrInvalidRole):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "role must be 'user' or 'assistant'")
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, services.ErrMessageNotFound):
		// The key replays a message that has since been deleted.
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeStorage, err.Error())
	default:
		if replayed {
			c.Header("Idempotency-Replayed", "true")
		}
		ok(c, http.StatusCreated, m)
	}
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Deletes one message from the session.
// @Tags        Messages
//
// @Param       id         path  string  true  "Session ID (UUID)"  format(uuid)
// @Param       messageId  path  int     true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Message id is not an integer"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/messages/{messageId} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be an integer")
		return
	}
	chatID := c.Param("id")
	if !validSessionID(chatID) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		return
	}

	err = h.msgSvc.Delete(c.Request.Context(), chatID, id)
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeStorage, err.Error())
	default:
		noContent(c)
	}
}
