// Session HTTP handlers.
//
//   - GET    /sessions        (list, newest first, weak ETag)
//   - POST   /sessions        (create, optional title)
//   - PUT    /sessions/{id}   (rename)
//   - DELETE /sessions/{id}   (delete with messages)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

//
// DTOs
//

// CreateSessionRequest is the optional JSON payload for creating a session.
type CreateSessionRequest struct {
	// Title defaults to "New Chat" when empty or omitted.
	Title string `json:"title" example:"Trip planning"`
}

// RenameSessionRequest is the JSON payload for renaming a session.
type RenameSessionRequest struct {
	// Title must contain at least one non-whitespace character.
	Title *string `json:"title" example:"Trip planning (Lisbon)"`
}

// RenameSessionResponse echoes the stored title.
type RenameSessionResponse struct {
	ID    string `json:"id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Title string `json:"title" example:"Trip planning (Lisbon)"`
}

// DeleteSessionResponse confirms a deletion.
type DeleteSessionResponse struct {
	Success   bool   `json:"success" example:"true"`
	DeletedID string `json:"deletedId" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// validSessionID reports whether id can name a stored session. Ids are
// server-issued UUIDs, so anything else is answered with 404 without a query.
func validSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

//
// Handlers
//

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions
// @Description Returns every session, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"sessions:3:1700000000000000000\")
//
// @Success     200  {array}  domain.ChatSession
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.sessSvc.(*services.SessionService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.SessionsStats(ctx, db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"sessions:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.sessSvc.List(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// CreateSession godoc
// @ID          createSession
// @Summary     Create a session
// @Description Creates a session. The body is optional; a missing or blank title becomes "New Chat".
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateSessionRequest  false  "Create session payload"
//
// @Success     201  {object}  domain.ChatSession
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := decodeStrict(c, &req, true); err != nil {
		failDecode(c, err, "title must be a string")
		return
	}

	s, err := h.sessSvc.Create(c.Request.Context(), req.Title)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, s)
}

// RenameSession godoc
// @ID          renameSession
// @Summary     Rename a session
// @Description Replaces the title of a session. Blank titles are rejected.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                          true  "Session ID (UUID)"  format(uuid) example(141add05-4415-4938-b5a1-17e0d3171aff)
// @Param       body  body  handlers.RenameSessionRequest  true  "New title"
//
// @Success     200  {object} handlers.RenameSessionResponse
// @Failure     400  {object} handlers.ErrorResponse "Blank or missing title"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id} [put]
func (h *Handlers) RenameSession(c *gin.Context) {
	var req RenameSessionRequest
	if err := decodeStrict(c, &req, false); err != nil {
		failDecode(c, err, "title required")
		return
	}
	if req.Title == nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title required")
		return
	}

	id := c.Param("id")
	if !validSessionID(id) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	s, err := h.sessSvc.Rename(c.Request.Context(), id, *req.Title)
	switch {
	case errors.Is(err, services.ErrBlankTitle):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "title must not be blank")
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeStorage, err.Error())
	default:
		ok(c, http.StatusOK, RenameSessionResponse{ID: s.ID, Title: s.Title})
	}
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Deletes a session together with all of its messages.
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.DeleteSessionResponse
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !validSessionID(id) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}

	deleted, err := h.sessSvc.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeStorage, err.Error())
	default:
		ok(c, http.StatusOK, DeleteSessionResponse{Success: true, DeletedID: deleted})
	}
}
