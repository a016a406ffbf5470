package ai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fiction-server/pkg/ai"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_GenerateText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "You step inside."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 5, "total_tokens": 45}
		}`)
	}))
	defer srv.Close()

	client, err := ai.NewClient(ai.Config{
		ClientType: ai.ClientOpenAI,
		BaseURL:    srv.URL + "/v1",
		APIKey:     "secret",
		Model:      "test-model",
		Timeout:    5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	maxTokens := 100
	text, usage, err := client.GenerateText(context.Background(), "system", "user", ai.GenerationParams{MaxTokens: &maxTokens})

	require.NoError(t, err)
	assert.Equal(t, "You step inside.", text)
	assert.Equal(t, ai.UsageInfo{PromptTokens: 40, CompletionTokens: 5, TotalTokens: 45}, usage)
	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, 100, got["max_tokens"])
	assert.Len(t, got["messages"], 2)
}

func TestOpenAIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
	}))
	defer srv.Close()

	client, err := ai.NewClient(ai.Config{ClientType: ai.ClientOpenAI, BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"}, zerolog.Nop())
	require.NoError(t, err)

	_, _, err = client.GenerateText(context.Background(), "system", "user", ai.GenerationParams{})
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)

	_, _, err = client.GenerateText(context.Background(), "  ", "user", ai.GenerationParams{})
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
}

func TestOllamaClient_GenerateText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"The torch flickers."},"done":true,"prompt_eval_count":30,"eval_count":4}`+"\n")
	}))
	defer srv.Close()

	client, err := ai.NewClient(ai.Config{
		ClientType: ai.ClientOllama,
		BaseURL:    srv.URL + "/v1/",
		Model:      "llama3",
		Timeout:    5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	temp := 0.5
	text, usage, err := client.GenerateText(context.Background(), "system", "user", ai.GenerationParams{Temperature: &temp})

	require.NoError(t, err)
	assert.Equal(t, "The torch flickers.", text)
	assert.Equal(t, 34, usage.TotalTokens)
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, map[string]any{"temperature": 0.5}, got["options"])
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := ai.NewClient(ai.Config{ClientType: "gemini"}, zerolog.Nop())
	assert.ErrorContains(t, err, `unknown AI client type "gemini"`)
}
