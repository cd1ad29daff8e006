package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
	"github.com/omnihubio/omnihub/internal/webhook"
)

func testInstance(apiURL string, timeoutSeconds int) instance.Instance {
	return instance.Instance{
		Name:                "bot-a",
		AgentAPIURL:         apiURL,
		AgentAPIKey:         "secret-key",
		AgentTimeoutSeconds: timeoutSeconds,
	}
}

func testMessage() webhook.InboundMessage {
	return webhook.InboundMessage{
		InstanceName: "bot-a",
		SenderID:     "5511999999999@s.whatsapp.net",
		SenderName:   "Alice",
		MessageType:  webhook.TypeText,
		Content:      "Hello",
	}
}

func TestBuildRequestAlwaysCarriesUserID(t *testing.T) {
	t.Parallel()

	res := identity.Derive("bot-a", "5511999999999@s.whatsapp.net")
	req := BuildRequest(testMessage(), res)
	assert.Equal(t, res.UserID, req.UserID)
	assert.NotEmpty(t, req.UserID)

	// Even with an empty resolution the field is filled.
	req = BuildRequest(testMessage(), identity.Resolution{})
	assert.NotEmpty(t, req.UserID)

	// The richer user object never replaces the top-level id.
	require.NotNil(t, req.User)
	assert.NotEmpty(t, req.UserID)
}

func TestCallSendsTopLevelUserID(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/agent/chat", r.URL.Path)
		require.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"message": "Hi there", "success": true})
	}))
	defer srv.Close()

	client := NewClient(slog.Default(), time.Minute)
	res := identity.Derive("bot-a", "5511999999999")
	reply, err := client.Call(context.Background(), testInstance(srv.URL, 0), BuildRequest(testMessage(), res))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply.Text)

	userID, ok := captured["user_id"].(string)
	require.True(t, ok, "user_id must be a top-level string field")
	assert.Equal(t, res.UserID, userID)
	assert.NotEmpty(t, userID)
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(slog.Default(), 50*time.Millisecond)
	_, err := client.Call(context.Background(), testInstance(srv.URL, 0), Request{Message: "hi", UserID: "u"})

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, FailureTimeout, callErr.Kind)
	assert.Equal(t, FallbackTimeout, callErr.Fallback())
}

func TestCallRemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(slog.Default(), time.Minute)
	_, err := client.Call(context.Background(), testInstance(srv.URL, 0), Request{Message: "hi", UserID: "u"})

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, FailureRemote, callErr.Kind)
	assert.Equal(t, http.StatusBadGateway, callErr.StatusCode)
	assert.Equal(t, FallbackRemote, callErr.Fallback())
}

func TestCallEmptyReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty message", body: `{"message":"","success":true}`},
		{name: "success false", body: `{"message":"ignored","success":false}`},
		{name: "whitespace only", body: `{"text":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(slog.Default(), time.Minute)
			_, err := client.Call(context.Background(), testInstance(srv.URL, 0), Request{Message: "hi", UserID: "u"})

			var callErr *CallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, FailureEmptyReply, callErr.Kind)
		})
	}
}

func TestCallConnectionError(t *testing.T) {
	t.Parallel()

	client := NewClient(slog.Default(), time.Minute)
	_, err := client.Call(context.Background(), testInstance("http://127.0.0.1:1", 0), Request{Message: "hi", UserID: "u"})

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, FailureConnection, callErr.Kind)
	assert.Equal(t, FallbackConnection, callErr.Fallback())
}

func TestCallAcceptsTextField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"alternate field","session_id":"s1"}`))
	}))
	defer srv.Close()

	client := NewClient(slog.Default(), time.Minute)
	reply, err := client.Call(context.Background(), testInstance(srv.URL, 0), Request{Message: "hi", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "alternate field", reply.Text)
	assert.Equal(t, "s1", reply.SessionID)
}

func TestCallUsesInstanceTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"message": "slow but fine"})
	}))
	defer srv.Close()

	// Instance timeout overrides the much shorter client default.
	client := NewClient(slog.Default(), time.Millisecond)
	reply, err := client.Call(context.Background(), testInstance(srv.URL, 5), Request{Message: "hi", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "slow but fine", reply.Text)
}
