package llm

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClient_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"target\":\"Ash\"}"}}],"usage":{"total_tokens":17}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", time.Second, zap.NewNop())
	resp, err := c.Generate(context.Background(), Request{Prompt: "hi", Model: "m1", MaxTokens: 64, Temperature: 0.7, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"target":"Ash"}`, resp.Text)
	assert.Equal(t, 17, resp.TokensUsed)

	assert.Equal(t, "m1", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestHTTPClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second, zap.NewNop())
	_, err := c.Generate(context.Background(), Request{Prompt: "hi", Model: "m"})
	require.Error(t, err)

	_, err = c.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestBabbler_NamesAnOption(t *testing.T) {
	b := NewBabbler(rand.New(rand.NewPCG(1, 1)), 0)
	for range 20 {
		resp, err := b.Generate(context.Background(), Request{Prompt: "Vote now.\nOptions: Ash, Wren\n"})
		require.NoError(t, err)
		lower := strings.ToLower(resp.Text)
		assert.True(t, strings.Contains(lower, "ash") || strings.Contains(lower, "wren"), resp.Text)
	}
}

func TestBabbler_HonorsCancel(t *testing.T) {
	b := NewBabbler(rand.New(rand.NewPCG(1, 1)), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Generate(ctx, Request{Prompt: "x"})
	require.ErrorIs(t, err, context.Canceled)
}
