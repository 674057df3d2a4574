package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// WireMessage is a message as the remote API represents it. Timestamps are
// Unix millis.
type WireMessage struct {
	ServerID       string `json:"id"`
	LocalID        string `json:"local_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
	Type           string `json:"type"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at,omitempty"`
	DeletedAt      int64  `json:"deleted_at,omitempty"`
}

// CreateMessageRequest is the payload for a message create call.
type CreateMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
	Type           string `json:"type"`
}

// API is the remote data API consumed by the sync core.
type API interface {
	CreateMessage(ctx context.Context, idempotencyKey string, req CreateMessageRequest) (*WireMessage, error)
	FetchMessages(ctx context.Context, conversationID string, limit int, before int64) ([]WireMessage, error)
	MarkRead(ctx context.Context, serverID, userID string) error
	UpsertTyping(ctx context.Context, conversationID, userID string) error
}

// Client is the HTTP implementation of the remote data API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a remote API client. Send timeouts live here, on the
// transport; callers treat a timeout like any other network failure.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// CreateMessage stores a message remotely. idempotencyKey is the client
// local id; the server either returns the canonical record or rejects a
// duplicate deterministically with 409.
func (c *Client) CreateMessage(ctx context.Context, idempotencyKey string, req CreateMessageRequest) (*WireMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	c.authorize(httpReq)

	var msg WireMessage
	if err := c.do(httpReq, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchMessages returns an authoritative ordered window of messages for a
// conversation, newest first. before is an exclusive Unix-milli upper bound;
// zero means now.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int, before int64) ([]WireMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages?%s", c.baseURL, url.PathEscape(conversationID), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	c.authorize(httpReq)

	var out struct {
		Messages []WireMessage `json:"messages"`
	}
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkRead records that userID has read the message. Idempotent server-side.
func (c *Client) MarkRead(ctx context.Context, serverID, userID string) error {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	endpoint := fmt.Sprintf("%s/v1/messages/%s/read", c.baseURL, url.PathEscape(serverID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mark-read request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	return c.do(httpReq, nil)
}

// UpsertTyping refreshes the caller's typing indicator for a conversation.
func (c *Client) UpsertTyping(ctx context.Context, conversationID, userID string) error {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/typing", c.baseURL, url.PathEscape(conversationID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build typing request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	return c.do(httpReq, nil)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do executes the request and maps the response onto the error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{Reason: readBody(resp.Body)}
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("server error (status %d)", resp.StatusCode)}
	default:
		return &RejectedError{Status: resp.StatusCode, Reason: readBody(resp.Body)}
	}
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(data)
}
