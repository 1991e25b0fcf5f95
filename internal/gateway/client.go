package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"support-console/internal/models"
	"support-console/internal/observability"
)

var ErrUnexpectedStatus = errors.New("unexpected gateway status")

// Client defines the REST boundary to the chat backend.
type Client interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	ChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	TimeoutStatus(ctx context.Context, chatID string) (models.TimeoutStatus, error)
	EndChat(ctx context.Context, chatID string) error
	CleanupSessions(ctx context.Context) error
}

// HTTPClient talks to the chat gateway over HTTP with bearer auth.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListSessions returns all support sessions known to the backend.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]models.Session, error) {
	var resp struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.do(ctx, "list_sessions", http.MethodGet, "/sessions", &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// ChatMessages returns the ordered message history for a session.
func (c *HTTPClient) ChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/chats/" + chatID + "/messages"
	if err := c.do(ctx, "chat_messages", http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead tells the backend the operator has read a session.
func (c *HTTPClient) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, "mark_read", http.MethodPost, "/chats/"+chatID+"/read", nil)
}

// TimeoutStatus fetches the backend's idle-timeout advisory for a session.
func (c *HTTPClient) TimeoutStatus(ctx context.Context, chatID string) (models.TimeoutStatus, error) {
	var status models.TimeoutStatus
	err := c.do(ctx, "timeout_status", http.MethodGet, "/chats/"+chatID+"/timeout", &status)
	return status, err
}

// EndChat force-closes an idle session.
func (c *HTTPClient) EndChat(ctx context.Context, chatID string) error {
	return c.do(ctx, "end_chat", http.MethodPost, "/chats/"+chatID+"/end", nil)
}

// CleanupSessions asks the backend to garbage-collect ended sessions.
func (c *HTTPClient) CleanupSessions(ctx context.Context) error {
	return c.do(ctx, "cleanup_sessions", http.MethodPost, "/sessions/cleanup", nil)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, out any) error {
	ctx, span := otel.Tracer("support-console/gateway").Start(ctx, "gateway."+op)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveGatewayRequest(op, "error", time.Since(start).Seconds())
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	observability.ObserveGatewayRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w: %d", op, ErrUnexpectedStatus, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
