// Package chat is the client core of the Soundwave chat: one live socket per
// logged-in user, a reconciled message store merging optimistic sends,
// history pages and live pushes, backward pagination, presence, and the
// active conversation.
//
// Example:
//
//	session, _ := chat.NewSession(chat.SessionOptions{
//		Self:   chat.User{ID: "u-1", Username: "ana"},
//		Client: chat.NewClient(chat.WithBaseURL("https://soundwave.example"), chat.WithToken(token)),
//	})
//	_ = session.Connect(ctx)
//	_ = session.SelectPeer(ctx, chat.User{ID: "u-2"})
//	session.Send(ctx, "hey")
//	for _, m := range session.Visible() { ... }
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST side of the chat backend: history pages, users and the
// activity fallback.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a REST client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = loggerOr(c.logger)
	return c
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token, if any.
func (c *Client) Token() string {
	return c.token
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
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
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("http request", "method", method, "path", path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func decodeAPIError(status int, data []byte) error {
	var envelope struct {
		Err *APIError `json:"error"`
		APIError
	}
	if json.Unmarshal(data, &envelope) == nil {
		if envelope.Err != nil && envelope.Err.Message != "" {
			return envelope.Err
		}
		if envelope.Message != "" {
			if envelope.Code == "" {
				envelope.Code = "HTTP_" + strconv.Itoa(status)
			}
			return &envelope.APIError
		}
	}
	return &APIError{Code: "HTTP_" + strconv.Itoa(status), Message: http.StatusText(status)}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// History
// ============================================================================

// FetchHistory fetches one page of history for conv. Direct conversations
// are addressed by the (selfID, peer) pair, rooms by room id.
func (c *Client) FetchHistory(ctx context.Context, selfID string, conv Conversation, page, limit int) (*HistoryPage, error) {
	var path string
	switch {
	case conv.RoomID != "" && conv.PeerID != "":
		return nil, ErrBothTargets
	case conv.RoomID != "":
		path = "/api/chat/rooms/" + url.PathEscape(conv.RoomID) + "/messages"
	case conv.PeerID != "":
		if selfID == "" {
			return nil, ErrMissingUserID
		}
		path = "/api/chat/messages/" + url.PathEscape(selfID) + "/" + url.PathEscape(conv.PeerID)
	default:
		return nil, ErrNoConversation
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	data, err := c.doRequest(ctx, http.MethodGet, path, nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[HistoryPage](data)
}

// ============================================================================
// Users
// ============================================================================

// GetUser fetches a user profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Following lists the users userID follows, i.e. the chat contact list.
func (c *Client) Following(ctx context.Context, userID string) ([]User, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/following", nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[struct {
		Users []User `json:"users"`
	}](data)
	if err != nil {
		return nil, err
	}
	return result.Users, nil
}

// NotifyActivity publishes the user's current activity over REST, for when
// no socket is open.
func (c *Client) NotifyActivity(ctx context.Context, userID, activity string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID)+"/activity",
		map[string]string{"activity": activity}, nil)
	return err
}
