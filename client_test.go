package leadpilot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient("test-token", WithBaseURL(srv.URL))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Request helper
// ============================================================================

func TestClientRequests(t *testing.T) {
	t.Run("sends bearer token", func(t *testing.T) {
		var auth string
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			writeJSON(w, 200, []Folder{{ID: "f1", Name: "Hot"}})
		})

		folders, err := client.Folders.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer test-token", auth)
		require.Len(t, folders, 1)
		assert.Equal(t, "Hot", folders[0].Name)
	})

	t.Run("missing token fails before any request", func(t *testing.T) {
		called := false
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })
		client := NewClient("", WithBaseURL(srv.URL))

		_, err := client.Messages.Conversations(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.False(t, called)
	})

	t.Run("error field becomes the message", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 401, map[string]string{"error": "Invalid token", "message": "ignored"})
		})

		_, err := client.Folders.List(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 401, apiErr.Status)
		assert.Equal(t, "Invalid token", apiErr.Message)
	})

	t.Run("message field used without error", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 422, map[string]string{"message": "leadId is required"})
		})

		err := client.Messages.MarkRead(context.Background(), "l1")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "leadId is required", apiErr.Message)
	})

	t.Run("non-JSON body gets a generic message", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(502)
			_, _ = io.WriteString(w, "<html>bad gateway</html>")
		})

		_, err := client.Folders.List(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 502, apiErr.Status)
		assert.Contains(t, apiErr.Message, "Bad Gateway")
	})
}

func TestClientOptions(t *testing.T) {
	t.Run("timeout does not modify a shared http client", func(t *testing.T) {
		shared := &http.Client{Timeout: time.Minute}
		c := NewClient("tok", WithHTTPClient(shared), WithTimeout(5*time.Second))

		assert.Equal(t, time.Minute, shared.Timeout)
		assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
		assert.NotSame(t, shared, c.httpClient)
	})

	t.Run("timeout applies to the default client", func(t *testing.T) {
		c := NewClient("tok", WithTimeout(3*time.Second))
		assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
	})
}

func TestDecodeList(t *testing.T) {
	for name, body := range map[string]string{
		"bare array":    `[{"leadId":"a"},{"leadId":"b"}]`,
		"named wrapper": `{"conversations":[{"leadId":"a"},{"leadId":"b"}]}`,
		"data wrapper":  `{"data":[{"leadId":"a"},{"leadId":"b"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			list, err := decodeList[Conversation]([]byte(body), "conversations")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b", list[1].ID)
		})
	}

	t.Run("empty body", func(t *testing.T) {
		list, err := decodeList[Conversation](nil, "conversations")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("unknown wrapper", func(t *testing.T) {
		_, err := decodeList[Conversation]([]byte(`{"items":[]}`), "conversations")
		assert.Error(t, err)
	})
}

// ============================================================================
// Sub-clients
// ============================================================================

func TestAuthLogin(t *testing.T) {
	var body map[string]string
	var auth string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/mobile/login", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, 200, map[string]any{"token": "fresh", "user": map[string]string{"id": "u1", "email": "agent@example.com"}})
	})
	client.SetToken("")

	res, err := client.Auth.Login(context.Background(), " agent@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "", auth)
	assert.Equal(t, "agent@example.com", body["email"])
	assert.Equal(t, "fresh", res.Token)
	assert.Equal(t, "fresh", client.Token())

	_, err = client.Auth.Login(context.Background(), "", "secret")
	assert.Error(t, err)
}

func TestMessagesClient(t *testing.T) {
	t.Run("conversations decode both unread shapes", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/mobile/message/conversations", r.URL.Path)
			_, _ = io.WriteString(w, `{"conversations":[
				{"leadId":"a","name":"Unknown","phone":"+15550001111","unreadCount":3,"lastMessageDirection":"inbound","lastMessageDate":"2026-01-02T10:00:00Z"},
				{"leadId":"b","name":"Ann","unread":true,"lastMessageDate":1767348000000},
				{"leadId":"c","lastMessageDate":null}
			]}`)
		})

		convs, err := client.Messages.Conversations(context.Background())
		require.NoError(t, err)
		require.Len(t, convs, 3)
		assert.Equal(t, 3, convs[0].UnreadValue())
		assert.Equal(t, "+15550001111", convs[0].DisplayName())
		assert.Equal(t, 1, convs[1].UnreadValue())
		assert.Equal(t, "Ann", convs[1].DisplayName())
		assert.False(t, convs[1].LastMessageAt.IsZero())
		assert.Equal(t, 0, convs[2].UnreadValue())
		assert.True(t, convs[2].LastMessageAt.IsZero())
	})

	t.Run("history escapes the lead id", func(t *testing.T) {
		var path string
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.EscapedPath()
			writeJSON(w, 200, map[string]any{"messages": []Message{{ID: "m1", Text: "hi"}}})
		})

		msgs, err := client.Messages.History(context.Background(), "lead/1")
		require.NoError(t, err)
		assert.Equal(t, "/api/mobile/message/lead%2F1", path)
		require.Len(t, msgs, 1)
	})

	t.Run("send posts outbound direction", func(t *testing.T) {
		var body map[string]string
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, 200, map[string]any{"message": map[string]string{"id": "m9", "leadId": "l1", "text": "hello"}})
		})

		msg, err := client.Messages.Send(context.Background(), "l1", "hello")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"leadId": "l1", "text": "hello", "direction": "outbound"}, body)
		require.NotNil(t, msg)
		assert.Equal(t, "m9", msg.ID)
	})

	t.Run("send without echo returns nil message", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, map[string]bool{"success": true})
		})

		msg, err := client.Messages.Send(context.Background(), "l1", "hello")
		require.NoError(t, err)
		assert.Nil(t, msg)
	})
}

func TestLeadsAndNumbers(t *testing.T) {
	var query, path string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		switch r.URL.Path {
		case "/api/mobile/leads-by-folder":
			writeJSON(w, 200, map[string]any{"leads": []Lead{{ID: "l1"}}})
		case "/api/mobile/numbers/buy":
			writeJSON(w, 200, map[string]any{})
		default:
			writeJSON(w, 200, []PhoneNumber{})
		}
	})
	ctx := context.Background()

	leads, err := client.Leads.ByFolder(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "folderId=f1", query)
	assert.Len(t, leads, 1)

	num, err := client.Numbers.Buy(ctx, " +15551234567 ")
	require.NoError(t, err)
	assert.Equal(t, "/api/mobile/numbers/buy", path)
	assert.Equal(t, "+15551234567", num.PhoneNumber)

	path = ""
	_, err = client.Numbers.Buy(ctx, "  ")
	assert.ErrorIs(t, err, ErrMissingPhoneNumber)
	assert.ErrorIs(t, client.Numbers.Release(ctx, ""), ErrMissingPhoneNumber)
	assert.Empty(t, path)
}
