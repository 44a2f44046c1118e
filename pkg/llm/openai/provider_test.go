package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbedModel, req.Model)

		// 倒序返回，验证按 index 归位。
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float64{float64(i), 0.5}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list", "data": data, "model": req.Model,
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Model == "overloaded" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
			return
		}
		last := req.Messages[len(req.Messages)-1]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": req.Model,
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": req.Messages[0].Role + ":" + last.Content},
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProviderRequiresKey(t *testing.T) {
	_, err := llm.NewProvider(ProviderName, llm.Config{})
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t)
	p, err := NewProvider(llm.Config{APIKey: testAPIKey, BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 0.5}, vectors[0])
	assert.Equal(t, []float32{2, 0.5}, vectors[2])
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t)
	p, err := NewProvider(llm.Config{APIKey: testAPIKey, BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	out, err := p.Generate(context.Background(), "question", "system prompt")
	require.NoError(t, err)
	assert.Equal(t, "system:question", out)
}

func TestRateLimitBecomesStatusError(t *testing.T) {
	srv := newTestServer(t)
	p, err := NewProvider(llm.Config{APIKey: testAPIKey, BaseURL: srv.URL + "/v1", ChatModel: "overloaded"})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "q", "")
	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, statusErr.Temporary())
}
