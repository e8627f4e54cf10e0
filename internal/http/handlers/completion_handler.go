// Completion HTTP handler.
//
//   - POST /sessions/{id}/completion  (stream the assistant reply as plain text)
//
// The reply is written as raw UTF-8 fragments with no framing, flushed one by
// one. The first fragment is pulled before any header is committed, so an
// upstream failure that happens before output can still be reported as a
// JSON error. A failure after output has started aborts the connection and
// the client observes a truncated body. The reply is never persisted here.
package handlers

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/provider"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// CompletionRequest is the JSON payload for a completion.
type CompletionRequest struct {
	// Message is the new user turn, already stored by the caller.
	Message *string `json:"message" example:"What should I pack for Lisbon in March?"`
}

// Completion godoc
// @ID          streamCompletion
// @Summary     Stream an assistant reply
// @Description Streams the model's reply to message as text/plain chunks. The reply is not stored;
// @Description clients persist the accumulated text as an assistant message once the stream ends.
// @Tags        Completion
// @Accept      json
// @Produce     plain
//
// @Param       id    path  string                        true  "Session ID (UUID)"  format(uuid)
// @Param       body  body  handlers.CompletionRequest  true  "Prompt"
//
// @Success     200  {string}  string                  "Reply fragments"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing, non-string or empty message"
// @Failure     500  {object}  handlers.ErrorResponse  "Provider failed before output"
// @Router      /sessions/{id}/completion [post]
func (h *Handlers) Completion(c *gin.Context) {
	var req CompletionRequest
	if err := decodeStrict(c, &req, false); err != nil {
		failDecode(c, err, "message must be a non-empty string")
		return
	}
	if req.Message == nil || *req.Message == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "message must be a non-empty string")
		return
	}

	ctx := c.Request.Context()
	next, stop := iter.Pull2(h.relay.Stream(ctx, c.Param("id"), *req.Message))
	defer stop()

	frag, err, more := next()
	if err != nil {
		h.completionFailed(ctx, c, err)
		return
	}

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Del("Content-Length")
	// A reply may outlive the server's write timeout; lift it for this
	// response only. Writers that cannot do this keep the server default.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	for more {
		if _, werr := io.WriteString(c.Writer, frag); werr != nil {
			// Client went away; stop() cancels the upstream call.
			return
		}
		c.Writer.Flush()

		frag, err, more = next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			middleware.LoggerFrom(c).Error().Err(err).Msg("completion stream failed after output")
			panic(http.ErrAbortHandler)
		}
	}
}

// completionFailed reports an error raised before any output was written.
func (h *Handlers) completionFailed(ctx context.Context, c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeValidation, "message must be a non-empty string")
	case ctx.Err() != nil:
		// Client disconnected while waiting for the first fragment.
		c.Abort()
	case errors.Is(err, provider.ErrProvider):
		middleware.LoggerFrom(c).Error().Err(err).Msg("completion provider failed")
		fail(c, http.StatusInternalServerError, ErrCodeProvider, "completion provider failed")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
