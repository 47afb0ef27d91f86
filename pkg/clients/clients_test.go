package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "pong"}}]}`))
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "test-key")

	answer, err := client.Complete(context.Background(), "ping", "")
	require.NoError(t, err)
	assert.Equal(t, "pong", answer)
}

func TestChatClientRequiresAPIKey(t *testing.T) {
	client := NewChatClient("", "")

	_, err := client.Complete(context.Background(), "ping", "")
	assert.Error(t, err)
}

func TestChatClientSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "test-key")

	_, err := client.Complete(context.Background(), "ping", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestProxyClientDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := NewProxyClient()

	resp, err := client.Call(context.Background(), "post", server.URL,
		map[string]string{"X-Custom": "yes"}, map[string]any{"a": 1})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, resp.Body)
}

func TestProxyClientKeepsRawText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	client := NewProxyClient()

	resp, err := client.Call(context.Background(), "", server.URL, nil, nil)
	require.NoError(t, err)

	assert.Nil(t, resp.Body)
	assert.Equal(t, "plain text", resp.RawBody)
}
