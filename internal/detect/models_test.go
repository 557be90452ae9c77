package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
)

func TestModelConstructors_RequireAPIKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	_, err = NewOpenAIModel("", "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	_, err = NewAnthropicModel("", "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestModelNames(t *testing.T) {
	o, err := NewOpenAIModel("key", "")
	require.NoError(t, err)
	assert.Equal(t, "openai/"+DefaultOpenAIModel, o.Name())

	a, err := NewAnthropicModel("key", "claude-custom")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-custom", a.Name())
}

func TestOpenAIModel_Analyze(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-test",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"has_subtitles\": false}"}}]
}`))
	}))
	defer server.Close()

	model, err := NewOpenAIModel("test-key", "gpt-test",
		openaioption.WithBaseURL(server.URL+"/"),
		openaioption.WithMaxRetries(0),
	)
	require.NoError(t, err)

	text, err := model.Analyze(context.Background(), "find subtitles", []Image{{FrameNo: 0, Data: []byte("jpeg")}})
	require.NoError(t, err)
	assert.Equal(t, `{"has_subtitles": false}`, text)

	assert.Equal(t, "gpt-test", body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,anBlZw==", image["url"])
}

func TestOpenAIModel_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	}))
	defer server.Close()

	model, err := NewOpenAIModel("k", "m", openaioption.WithBaseURL(server.URL+"/"), openaioption.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = model.Analyze(context.Background(), "p", nil)
	assert.Error(t, err)
}

func TestAnthropicModel_Analyze(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{"type": "text", "text": "{\"timed_regions\": "}, {"type": "text", "text": "[]}"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`))
	}))
	defer server.Close()

	model, err := NewAnthropicModel("test-key", "claude-test",
		anthropicoption.WithBaseURL(server.URL+"/"),
		anthropicoption.WithMaxRetries(0),
	)
	require.NoError(t, err)

	text, err := model.Analyze(context.Background(), "find subtitles", []Image{{Data: []byte("jpeg")}})
	require.NoError(t, err)
	assert.Equal(t, `{"timed_regions": []}`, text)

	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, 4096, body["max_tokens"])
	messages := body["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	source := content[1].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/jpeg", source["media_type"])
	assert.Equal(t, "anBlZw==", source["data"])
}
