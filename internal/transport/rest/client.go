// Package rest is the HTTP client for the chat backend's REST endpoints:
// room list, paginated message history, and the fallback paths for send and
// mark-as-read when the real-time channel cannot be trusted.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roomwire/chatsync/internal/domain"
)

const DefaultTimeout = 30 * time.Second

// APIError is the backend's error response body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Page is one page of message history plus the backend's page metadata.
type Page struct {
	Messages      []*domain.Message
	Number        int
	TotalPages    int
	TotalElements int
	HasNext       bool
}

type Client struct {
	baseURL    string
	token      string
	localUser  domain.UserID
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(baseURL, token string, localUser domain.UserID, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		localUser:  localUser,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRooms fetches the user's room list.
func (c *Client) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	var wire []domain.WireRoom
	if err := c.doRequest(ctx, http.MethodGet, "/api/rooms", nil, &wire); err != nil {
		return nil, err
	}
	rooms := make([]*domain.Room, len(wire))
	for i, w := range wire {
		rooms[i] = w.ToDomain()
	}
	return rooms, nil
}

type pageResponse struct {
	Content       []domain.WireMessage `json:"content"`
	Page          int                  `json:"page"`
	TotalPages    int                  `json:"totalPages"`
	TotalElements int                  `json:"totalElements"`
	HasNext       bool                 `json:"hasNext"`
}

// FetchMessages retrieves one history page for the room, newest pages first
// by page number, each page's content in server order.
func (c *Client) FetchMessages(ctx context.Context, roomID domain.RoomID, page, size int) (*Page, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages?page=%d&size=%d", roomID, page, size)
	var resp pageResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := &Page{
		Number:        resp.Page,
		TotalPages:    resp.TotalPages,
		TotalElements: resp.TotalElements,
		HasNext:       resp.HasNext,
	}
	for _, w := range resp.Content {
		out.Messages = append(out.Messages, w.ToDomain(c.localUser))
	}
	return out, nil
}

// SendMessage is the REST fallback for publishing a message. The response
// carries the server-confirmed record.
func (c *Client) SendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages", msg.RoomID)
	var wire domain.WireMessage
	if err := c.doRequest(ctx, http.MethodPost, path, msg.ToWire(), &wire); err != nil {
		return nil, err
	}
	return wire.ToDomain(c.localUser), nil
}

// MarkMessagesRead is the REST fallback for the mark-as-read command.
func (c *Client) MarkMessagesRead(ctx context.Context, roomID domain.RoomID) error {
	path := fmt.Sprintf("/api/rooms/%s/read", roomID)
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// AddParticipant and RemoveParticipant manage group membership.
func (c *Client) AddParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	path := fmt.Sprintf("/api/rooms/%s/participants", roomID)
	return c.doRequest(ctx, http.MethodPost, path, map[string]string{"userId": user.String()}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	path := fmt.Sprintf("/api/rooms/%s/participants/%s", roomID, user)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				return &domain.ServerRejection{Code: apiErr.Code, Message: apiErr.Message}
			}
			return &apiErr
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return &domain.ServerRejection{Code: fmt.Sprint(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
