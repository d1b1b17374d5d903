package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// newAPIServer serves handler and records every request.
func newAPIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	reqs := make(chan recordedRequest, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	var seen []recordedRequest
	return srv, func() []recordedRequest {
		for {
			select {
			case r := <-reqs:
				seen = append(seen, r)
			default:
				return seen
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Client
// ============================================================================

func TestNewClientDefaults(t *testing.T) {
	c := NewClient()
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if c.HTTPClient().Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v", c.HTTPClient().Timeout)
	}

	c = NewClient(WithBaseURL("https://chat.example.com/"), WithToken("tok"), WithTimeout(5*time.Second))
	if c.BaseURL() != "https://chat.example.com" {
		t.Errorf("trailing slash kept: %q", c.BaseURL())
	}
	if c.Token() != "tok" || c.HTTPClient().Timeout != 5*time.Second {
		t.Errorf("options not applied: token=%q timeout=%v", c.Token(), c.HTTPClient().Timeout)
	}
}

func TestFetchHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("direct conversation", func(t *testing.T) {
		srv, requests := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"messages": []map[string]any{
					{"id": "m1", "senderId": "A", "receiverId": "B", "content": "hi", "createdAt": "2026-03-01T12:00:00Z"},
				},
				"pagination": map[string]any{"page": 2, "limit": 20, "hasMore": true},
			})
		})
		c := NewClient(WithBaseURL(srv.URL), WithToken("tok"))

		page, err := c.FetchHistory(ctx, "A", Conversation{PeerID: "B"}, 2, 20)
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
			t.Fatalf("messages = %+v", page.Messages)
		}
		if page.Pagination == nil || !page.Pagination.HasMore {
			t.Errorf("pagination = %+v", page.Pagination)
		}

		reqs := requests()
		if len(reqs) != 1 {
			t.Fatalf("requests = %d", len(reqs))
		}
		r := reqs[0]
		if r.Method != http.MethodGet || r.Path != "/api/chat/messages/A/B" || r.Query != "limit=20&page=2" {
			t.Errorf("request = %+v", r)
		}
		if r.Auth != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Auth)
		}
	})

	t.Run("room conversation escapes the id", func(t *testing.T) {
		srv, requests := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"messages": []any{}})
		})
		c := NewClient(WithBaseURL(srv.URL))

		if _, err := c.FetchHistory(ctx, "A", Conversation{RoomID: "jazz fans"}, 0, 0); err != nil {
			t.Fatal(err)
		}
		r := requests()[0]
		if r.Path != "/api/chat/rooms/jazz%20fans/messages" || r.Query != "limit=50&page=1" {
			t.Errorf("request = %+v", r)
		}
		if r.Auth != "" {
			t.Errorf("unexpected Authorization %q", r.Auth)
		}
	})

	t.Run("contract errors", func(t *testing.T) {
		c := NewClient(WithBaseURL("http://127.0.0.1:1"))
		if _, err := c.FetchHistory(ctx, "A", Conversation{PeerID: "B", RoomID: "r"}, 1, 10); !errors.Is(err, ErrBothTargets) {
			t.Errorf("both: %v", err)
		}
		if _, err := c.FetchHistory(ctx, "A", Conversation{}, 1, 10); !errors.Is(err, ErrNoConversation) {
			t.Errorf("none: %v", err)
		}
		if _, err := c.FetchHistory(ctx, "", Conversation{PeerID: "B"}, 1, 10); !errors.Is(err, ErrMissingUserID) {
			t.Errorf("no self: %v", err)
		}
	})
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"nested error object", 403, `{"error":{"code":"FORBIDDEN","message":"not your chat"}}`, "FORBIDDEN", "not your chat"},
		{"flat error", 404, `{"code":"NOT_FOUND","message":"no such user"}`, "NOT_FOUND", "no such user"},
		{"message only", 400, `{"message":"bad page"}`, "HTTP_400", "bad page"},
		{"not json", 502, `<html>bad gateway</html>`, "HTTP_502", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			c := NewClient(WithBaseURL(srv.URL))

			_, err := c.GetUser(context.Background(), "B")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v (%T), want *APIError", err, err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("got %s/%q, want %s/%q", apiErr.Code, apiErr.Message, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	srv, requests := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/B":
			writeJSON(w, http.StatusOK, map[string]any{"id": "B", "username": "bob"})
		case "/api/users/A/following":
			writeJSON(w, http.StatusOK, map[string]any{"users": []map[string]any{
				{"id": "B", "username": "bob"},
				{"id": "C", "username": "cid", "displayName": "Cid"},
			}})
		case "/api/users/A/activity":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	c := NewClient(WithBaseURL(srv.URL))

	t.Run("GetUser", func(t *testing.T) {
		u, err := c.GetUser(ctx, "B")
		if err != nil {
			t.Fatal(err)
		}
		if u.ID != "B" || u.Name() != "bob" {
			t.Errorf("user = %+v", u)
		}
		if _, err := c.GetUser(ctx, ""); !errors.Is(err, ErrMissingUserID) {
			t.Errorf("empty id: %v", err)
		}
	})

	t.Run("Following", func(t *testing.T) {
		users, err := c.Following(ctx, "A")
		if err != nil {
			t.Fatal(err)
		}
		if len(users) != 2 || users[1].Name() != "Cid" {
			t.Errorf("users = %+v", users)
		}
		if !UserIDs(users).Has("C") {
			t.Error("following set missing C")
		}
	})

	t.Run("NotifyActivity", func(t *testing.T) {
		requests()
		if err := c.NotifyActivity(ctx, "A", "Listening to Blue in Green"); err != nil {
			t.Fatal(err)
		}
		reqs := requests()
		last := reqs[len(reqs)-1]
		if last.Method != http.MethodPost || last.Body != `{"activity":"Listening to Blue in Green"}` {
			t.Errorf("request = %+v", last)
		}
	})
}
