package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSendsChatCompletion(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req completionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		assert.InDelta(t, 1.3, req.Temperature, 1e-9)
		assert.Equal(t, 2000, req.MaxTokens)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Contains(t, req.Messages[1].Content, "hello world")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" 你好，世界 \n"}}]}`))
	}))
	t.Cleanup(server.Close)

	d := New(Config{APIKey: "secret", BaseURL: server.URL + "/"}, nil)
	got, err := d.Translate(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, "你好，世界", got)
}

func TestTranslateShortCircuits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(server.Close)

	withKey := New(Config{APIKey: "k", BaseURL: server.URL}, nil)
	got, err := withKey.Translate(context.Background(), "   ")
	require.NoError(t, err)
	require.Empty(t, got)

	noKey := New(Config{BaseURL: server.URL}, nil)
	require.False(t, noKey.Enabled())
	_, err = noKey.Translate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrUnavailable)

	require.Zero(t, hits.Load())
}

func TestTranslateFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key","type":"auth"}}`, wantErr: "bad key"},
		{name: "bare error", status: http.StatusBadGateway, body: `oops`, wantErr: "status 502"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: "no choices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.body != "" && tc.body[0] == '{' {
					w.Header().Set("Content-Type", "application/json")
				} else {
					w.Header().Set("Content-Type", "text/plain")
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			_, err := New(Config{APIKey: "k", BaseURL: server.URL}, nil).Translate(context.Background(), "hi")
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	d := New(Config{APIKey: "k"}, nil)
	require.Equal(t, DefaultBaseURL, d.cfg.BaseURL)
	require.Equal(t, DefaultModel, d.cfg.Model)
	require.Equal(t, 2000, d.cfg.MaxTokens)
	require.True(t, d.Enabled())

	var nilClient *DeepSeek
	require.False(t, nilClient.Enabled())
}
