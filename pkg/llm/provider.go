// Package llm 提供统一的模型服务抽象层。
// 向量化与生成可以使用不同供应商，核心只把它们当作可失败的外部函数。
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EmbeddingProvider 定义 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入，结果与输入一一对应。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string
}

// ChatProvider 定义生成供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话。
	Chat(ctx context.Context, messages []Message) (string, error)

	// Generate 根据提示生成文本（单轮）。
	Generate(ctx context.Context, prompt string, systemPrompt string) (string, error)

	// Name 返回供应商名称。
	Name() string
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider 同时支持 Embedding 和 Chat 的完整供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// Config 供应商配置，字段含义由各供应商解释，未使用的字段被忽略。
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base-url"`
	APIKey     string        `json:"-" mapstructure:"api-key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed-model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat-model"`
	Dimension  int           `json:"dimension" mapstructure:"dimension"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Factory 供应商工厂函数类型。
type Factory func(cfg Config) (Provider, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// RegisterProvider 注册供应商工厂，重复注册以后者为准。
func RegisterProvider(name string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// NewProvider 根据名称创建供应商实例。
func NewProvider(name string, cfg Config) (Provider, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return factory(cfg)
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, cfg Config) (EmbeddingProvider, error) {
	return NewProvider(name, cfg)
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, cfg Config) (ChatProvider, error) {
	return NewProvider(name, cfg)
}

// ListProviders 按名称排序列出已注册的供应商。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusError 供应商返回的非 2xx HTTP 响应。
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status code %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary 报告该状态码是否值得重试（408、429 与 5xx）。
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}
