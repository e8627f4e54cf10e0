package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// API is the server surface the Store depends on.
type API interface {
	ListSessions(ctx context.Context) ([]Session, error)
	CreateSession(ctx context.Context, title string) (*Session, error)
	RenameSession(ctx context.Context, id, title string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) (*Message, error)
	DeleteMessage(ctx context.Context, chatID string, id int64) error

	// Completion opens the reply stream. The caller closes the body.
	Completion(ctx context.Context, chatID, message string) (io.ReadCloser, error)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, msg)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// errorBody matches the server's error envelope.
type errorBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	// BaseURL includes the API prefix, e.g. http://localhost:8080/api/v1.
	BaseURL string
	// RetryCount applies to requests that are safe to repeat.
	RetryCount int
	// RetryWait is the initial backoff; it doubles up to RetryMaxWait.
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

// HTTPClient talks to the chat server over HTTP.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient builds a client. Reads, renames, deletes and keyed appends
// are retried on transport errors, 429 and 5xx; creates and completions are
// not, since repeating them is not safe.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.RetryWait <= 0 {
		opts.RetryWait = 200 * time.Millisecond
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = 2 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "go-chat-stream-client"
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryCondition(retryable)

	return &HTTPClient{rc: rc}
}

// retryable allows a retry only for requests that may be repeated.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	if ctx := resp.Request.Context(); ctx != nil && ctx.Err() != nil {
		return false
	}
	req := resp.Request
	switch req.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	case http.MethodPost:
		if req.Header.Get("Idempotency-Key") == "" {
			return false
		}
	default:
		return false
	}
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *HTTPClient) request(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx).SetError(&errorBody{})
}

// check turns a resty outcome into (nil | transport error | *APIError).
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), resp.Error())
	}
	return nil
}

func apiError(status int, body any) *APIError {
	ae := &APIError{Status: status}
	if eb, ok := body.(*errorBody); ok && eb != nil {
		ae.Code, ae.Message, ae.RequestID = eb.Code, eb.Message, eb.RequestID
	}
	return ae
}

// ListSessions returns all sessions, newest first.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	resp, err := c.request(ctx).SetResult(&out).Get("/sessions")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// CreateSession creates a session; an empty title gets the server default.
func (c *HTTPClient) CreateSession(ctx context.Context, title string) (*Session, error) {
	var out Session
	req := c.request(ctx).SetResult(&out)
	if title != "" {
		req.SetBody(map[string]string{"title": title})
	}
	resp, err := req.Post("/sessions")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &out, nil
}

// RenameSession sets the title of session id and returns the stored pair.
func (c *HTTPClient) RenameSession(ctx context.Context, id, title string) (*Session, error) {
	var out Session
	resp, err := c.request(ctx).
		SetPathParam("id", id).
		SetBody(map[string]string{"title": title}).
		SetResult(&out).
		Put("/sessions/{id}")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("rename session: %w", err)
	}
	return &out, nil
}

// DeleteSession removes session id and its messages.
func (c *HTTPClient) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.request(ctx).SetPathParam("id", id).Delete("/sessions/{id}")
	if err := check(resp, err); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListMessages returns the messages of chatID in conversation order.
func (c *HTTPClient) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var out []Message
	resp, err := c.request(ctx).
		SetPathParam("id", chatID).
		SetResult(&out).
		Get("/sessions/{id}/messages")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// AppendMessage stores a message. Each call carries a fresh Idempotency-Key
// so a retried request cannot store it twice.
func (c *HTTPClient) AppendMessage(ctx context.Context, chatID string, role domain.Role, content string) (*Message, error) {
	var out Message
	resp, err := c.request(ctx).
		SetPathParam("id", chatID).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetBody(map[string]string{"role": string(role), "content": content}).
		SetResult(&out).
		Post("/sessions/{id}/messages")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &out, nil
}

// DeleteMessage removes one message of chatID.
func (c *HTTPClient) DeleteMessage(ctx context.Context, chatID string, id int64) error {
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"id": chatID, "messageId": strconv.FormatInt(id, 10)}).
		Delete("/sessions/{id}/messages/{messageId}")
	if err := check(resp, err); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Completion asks for a reply to message and returns the raw body. A non-2xx
// status is read and returned as *APIError.
func (c *HTTPClient) Completion(ctx context.Context, chatID, message string) (io.ReadCloser, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/plain").
		SetPathParam("id", chatID).
		SetBody(map[string]string{"message": message}).
		Post("/sessions/{id}/completion")
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	body := resp.RawBody()
	if code := resp.StatusCode(); code < 200 || code > 299 {
		defer body.Close()
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		_ = json.Unmarshal(raw, &eb)
		return nil, fmt.Errorf("completion: %w", apiError(code, &eb))
	}
	return body, nil
}
