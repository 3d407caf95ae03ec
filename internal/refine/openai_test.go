package refine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, status int, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   XAIDefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
		})
	}))
}

func TestOpenAICompleter_RefinesThroughStage(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, http.StatusOK,
		"```json\n[{\"id\":\"sign-1-0\",\"code\":\"M4-8\",\"size\":\"18 X 24\",\"description\":\"DO NOT ENTER\",\"quantity\":\"3\"},"+
			"{\"id\":\"sign-1-1\",\"code\":\"R2-1\",\"size\":\"24 X 18\",\"description\":\"SPEED LIMIT\",\"quantity\":\"\"}]\n```",
		&seen)
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Temperature: DefaultTemperature})
	require.NoError(t, err)

	out, err := NewStage(c, Options{}).Refine(context.Background(), sample())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "M4-8", out[0].Code)

	assert.Equal(t, XAIDefaultModel, seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "user", seen.Messages[1].Role)
}

func TestOpenAICompleter_ServerErrorFailsOpen(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "", nil)
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	in := sample()
	out, err := NewStage(c, Options{}).Refine(context.Background(), in)
	assert.Equal(t, in, out)
	var rErr *Error
	assert.ErrorAs(t, err, &rErr)
}

func TestOpenAICompleter_MalformedReplyFailsOpen(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "Sure! The signs look correct.", nil)
	defer srv.Close()

	c, err := NewOpenAICompleter(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	in := sample()
	out, err := NewStage(c, Options{}).Refine(context.Background(), in)
	assert.Equal(t, in, out)
	assert.Error(t, err)
}

func TestNewOpenAICompleter_RequiresKey(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIConfig{})
	assert.Error(t, err)
}
