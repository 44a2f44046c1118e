// Package ollama 提供 Ollama 供应商实现。
package ollama

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// 未配置时使用的默认值。
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultEmbedModel = "nomic-embed-text"
	DefaultChatModel  = "llama3"
)

// Provider Ollama 供应商实现。重试与超时由 resilience 包负责，这里只发起单次请求。
type Provider struct {
	config llm.Config
	client *httpclient.Client
}

// NewProvider 创建 Ollama 供应商。
func NewProvider(cfg llm.Config) (llm.Provider, error) {
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 补齐默认值后创建 Ollama 供应商。
func NewProviderWithConfig(cfg llm.Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Provider{
		config: cfg,
		client: httpclient.New(cfg.Timeout),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	if err := p.post(ctx, "/api/embed", embedRequest{Model: p.config.EmbedModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	chatMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	var resp chatResponse
	req := chatRequest{Model: p.config.ChatModel, Messages: chatMessages}
	if err := p.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	System string `json:"system,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	var resp generateResponse
	req := generateRequest{Model: p.config.ChatModel, Prompt: prompt, System: systemPrompt}
	if err := p.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (p *Provider) post(ctx context.Context, path string, in, out any) error {
	err := p.client.PostJSON(ctx, p.config.BaseURL+path, in, out)
	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) {
		return &llm.StatusError{Provider: ProviderName, StatusCode: statusErr.StatusCode, Body: statusErr.Body}
	}
	return err
}

// Ping 检查 Ollama 服务是否可用。
func (p *Provider) Ping(ctx context.Context) error {
	resp, err := p.client.Get(ctx, p.config.BaseURL+"/api/tags")
	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) {
		return &llm.StatusError{Provider: ProviderName, StatusCode: statusErr.StatusCode, Body: statusErr.Body}
	}
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
