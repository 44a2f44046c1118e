package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider 模拟供应商实现，用于测试。
type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockProvider) Chat(_ context.Context, _ []Message) (string, error) {
	return "mock response", nil
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ string) (string, error) {
	return "mock generated text", nil
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test-provider", func(cfg Config) (Provider, error) {
		return &mockProvider{name: cfg.ChatModel}, nil
	})

	provider, err := NewProvider("test-provider", Config{ChatModel: "custom-name"})
	require.NoError(t, err)
	assert.Equal(t, "custom-name", provider.Name())

	embedder, err := NewEmbeddingProvider("test-provider", Config{ChatModel: "e"})
	require.NoError(t, err)
	assert.Equal(t, "e", embedder.Name())

	chat, err := NewChatProvider("test-provider", Config{ChatModel: "c"})
	require.NoError(t, err)
	assert.Equal(t, "c", chat.Name())

	assert.Contains(t, ListProviders(), "test-provider")
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("unknown-provider", Config{})
	assert.Error(t, err)
}

func TestStatusErrorTemporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := &StatusError{Provider: "p", StatusCode: tt.code}
		assert.Equal(t, tt.want, err.Temporary(), "status %d", tt.code)
		assert.Contains(t, err.Error(), "status code")
	}
}
