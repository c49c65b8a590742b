package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModelServer(t *testing.T, reply string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		choices := []map[string]interface{}{}
		if reply != "" {
			choices = append(choices, map[string]interface{}{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": reply},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": choices,
		})
	}))
}

func TestOpenAIClientComplete(t *testing.T) {
	var body map[string]interface{}
	server := newModelServer(t, "Plants make food from sunlight.", &body)
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL + "/", Model: "test-model"})
	reply, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: StudentSystemPrompt},
		{Role: RoleUser, Content: "What is photosynthesis?"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Plants make food from sunlight.", reply)
	assert.Equal(t, "test-model", body["model"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "What is photosynthesis?", messages[1].(map[string]interface{})["content"])
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	server := newModelServer(t, "", nil)
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test-model completion failed")
}

func TestOpenAIClientDescribeImageInlinesData(t *testing.T) {
	var body map[string]interface{}
	server := newModelServer(t, "A labelled leaf diagram.", &body)
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "vision-model"})
	analysis, err := client.DescribeImage(context.Background(), Image{
		URL:      "http://localhost/uploads/leaf.png",
		Data:     []byte("png-bytes"),
		MimeType: "image/png",
	}, ImageAnalysisPrompt)

	require.NoError(t, err)
	assert.Equal(t, "A labelled leaf diagram.", analysis)

	messages := body["messages"].([]interface{})
	parts := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]interface{})
	url := imagePart["image_url"].(map[string]interface{})["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestDescribeImageWithoutSource(t *testing.T) {
	client := NewOpenAIClient(Config{APIKey: "test-key", Model: "vision-model"})
	_, err := client.DescribeImage(context.Background(), Image{}, ImageAnalysisPrompt)
	assert.Error(t, err)
}
