// Package chatsync keeps a per-user view of chat rooms and messages
// consistent across an authoritative backend, an asynchronous push channel,
// and a persistent local cache.
//
// Example:
//
//	client := chatsync.NewClient("https://api.example.com", chatsync.WithToken(token))
//	cache, _ := chatsync.NewSQLiteCache("chat.db")
//	store := chatsync.NewStore(cache, nil)
//	coord := chatsync.NewCoordinator(client, store, cache, chatsync.WithSession(userID, func() bool { return true }))
//
//	coord.InitialLoad(ctx)
//	coord.ActivateRoom(ctx, "room-123")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every backend call so a dead network surfaces as a
// retryable error instead of a stuck loading flag.
const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client is the request/response client for the authoritative chat backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a backend client. token may be empty for public
// surfaces; authenticated operations will then fail server-side.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or replaces the bearer token after sign-in.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result APIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do runs a request and converts a non-OK envelope into an error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	result, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("%s %s: request not ok", method, path)
	}
	return result, nil
}

// ============================================================================
// Chat operations
// ============================================================================

// ListChatRooms fetches the authoritative room list for the current user.
func (c *Client) ListChatRooms(ctx context.Context) ([]ChatRoom, error) {
	result, err := c.do(ctx, "GET", "/v1/chat/rooms", nil, nil)
	if err != nil {
		return nil, err
	}
	var rooms []ChatRoom
	if err := result.Decode(&rooms); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}
	return rooms, nil
}

// GetMessages fetches one page of a room's history. Pages count from 1;
// page 1 is the most recent window.
func (c *Client) GetMessages(ctx context.Context, roomID string, page, limit int) (*MessagesPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	result, err := c.do(ctx, "GET", "/v1/chat/rooms/"+roomID+"/messages", nil, map[string]string{
		"page":  fmt.Sprintf("%d", page),
		"limit": fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	var pageData MessagesPage
	if err := result.Decode(&pageData); err != nil {
		return nil, fmt.Errorf("failed to decode messages page: %w", err)
	}
	return &pageData, nil
}

// SendMessage posts a new message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, input SendMessageInput) (*Message, error) {
	result, err := c.do(ctx, "POST", "/v1/chat/rooms/"+input.ChatRoomID+"/messages", input, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// MarkMessageRead marks a single message read.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, "POST", "/v1/chat/messages/"+messageID+"/read", nil, nil)
	return err
}

// MarkRoomRead marks every unread message in a room read.
func (c *Client) MarkRoomRead(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, "POST", "/v1/chat/rooms/"+roomID+"/read", nil, nil)
	return err
}

// MuteRoom mutes a room for the current user.
func (c *Client) MuteRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, "POST", "/v1/chat/rooms/"+roomID+"/mute", nil, nil)
	return err
}

// UnmuteRoom unmutes a room for the current user.
func (c *Client) UnmuteRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, "DELETE", "/v1/chat/rooms/"+roomID+"/mute", nil, nil)
	return err
}

// PinRoom pins a room to the top of the user's list.
func (c *Client) PinRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, "POST", "/v1/chat/rooms/"+roomID+"/pin", nil, nil)
	return err
}

// UnpinRoom unpins a room.
func (c *Client) UnpinRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, "DELETE", "/v1/chat/rooms/"+roomID+"/pin", nil, nil)
	return err
}

// DeleteOrLeaveRoom deletes, hides or leaves a room depending on what the
// current user may do to it; the server decides.
func (c *Client) DeleteOrLeaveRoom(ctx context.Context, roomID string) (*DeleteRoomResult, error) {
	result, err := c.do(ctx, "DELETE", "/v1/chat/rooms/"+roomID, nil, nil)
	if err != nil {
		return nil, err
	}
	var dr DeleteRoomResult
	if err := result.Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode delete result: %w", err)
	}
	return &dr, nil
}
