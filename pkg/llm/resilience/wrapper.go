package resilience

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// ResilientEmbeddingProvider 带韧性功能的 Embedding Provider 包装器。
// 终止错误统一映射为 ErrEmbeddingService、ErrLLMTimeout 或 ErrCircuitOpen。
type ResilientEmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// NewResilientEmbeddingProvider 创建带韧性功能的 Embedding Provider。
func NewResilientEmbeddingProvider(
	provider llm.EmbeddingProvider,
	retryConfig *RetryConfig,
	cbConfig *CircuitBreakerConfig,
) *ResilientEmbeddingProvider {
	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
	}
	return &ResilientEmbeddingProvider{
		provider: provider,
		retry:    retryConfig,
		cb:       newOptionalBreaker(cbConfig),
	}
}

// Embed 为多个文本生成向量嵌入（带超时、重试和熔断）。
func (r *ResilientEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := Do(ctx, r.retry, func(ctx context.Context) ([][]float32, error) {
		var out [][]float32
		err := r.cb.Execute(func() error {
			var err error
			out, err = r.provider.Embed(ctx, texts)
			if err == nil && len(out) != len(texts) {
				err = &llm.StatusError{Provider: r.provider.Name(), StatusCode: 502, Body: "embedding count mismatch"}
			}
			return err
		})
		return out, err
	})
	return result, terminal(err, errors.ErrEmbeddingService)
}

// EmbedSingle 为单个文本生成向量嵌入（带超时、重试和熔断）。
func (r *ResilientEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Name 返回供应商名称。
func (r *ResilientEmbeddingProvider) Name() string {
	return r.provider.Name() + "-resilient"
}

// CircuitBreaker 获取熔断器实例（用于监控），未启用熔断时为 nil。
func (r *ResilientEmbeddingProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// ResilientChatProvider 带韧性功能的 Chat Provider 包装器。
type ResilientChatProvider struct {
	provider llm.ChatProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// NewResilientChatProvider 创建带韧性功能的 Chat Provider。
func NewResilientChatProvider(
	provider llm.ChatProvider,
	retryConfig *RetryConfig,
	cbConfig *CircuitBreakerConfig,
) *ResilientChatProvider {
	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
	}
	return &ResilientChatProvider{
		provider: provider,
		retry:    retryConfig,
		cb:       newOptionalBreaker(cbConfig),
	}
}

// Chat 进行多轮对话（带超时、重试和熔断）。
func (r *ResilientChatProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	result, err := Do(ctx, r.retry, func(ctx context.Context) (string, error) {
		var out string
		err := r.cb.Execute(func() error {
			var err error
			out, err = r.provider.Chat(ctx, messages)
			return err
		})
		return out, err
	})
	return result, terminal(err, errors.ErrGenerationService)
}

// Generate 根据提示生成文本（带超时、重试和熔断）。
func (r *ResilientChatProvider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	result, err := Do(ctx, r.retry, func(ctx context.Context) (string, error) {
		var out string
		err := r.cb.Execute(func() error {
			var err error
			out, err = r.provider.Generate(ctx, prompt, systemPrompt)
			return err
		})
		return out, err
	})
	return result, terminal(err, errors.ErrGenerationService)
}

// Name 返回供应商名称。
func (r *ResilientChatProvider) Name() string {
	return r.provider.Name() + "-resilient"
}

// CircuitBreaker 获取熔断器实例（用于监控），未启用熔断时为 nil。
func (r *ResilientChatProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// terminal 把终止错误映射为错误码，调用方的取消原样返回。
func terminal(err error, service *errors.Errno) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), isParentDeadline(err):
		return err
	case stderrors.Is(err, ErrCircuitBreakerOpen):
		return errors.ErrCircuitOpen.WithCause(err)
	case stderrors.Is(err, ErrAttemptTimeout):
		return errors.ErrLLMTimeout.WithCause(err)
	default:
		return service.WithCause(err)
	}
}

func isParentDeadline(err error) bool {
	return err == context.DeadlineExceeded
}

// IsRetryableError 判断错误是否可重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if stderrors.Is(err, ErrCircuitBreakerOpen) {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, ErrAttemptTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *llm.StatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		logger.Debugw("network error, retryable", "error", err.Error())
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "EOF") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		logger.Debugw("connection error, retryable", "error", msg)
		return true
	}

	logger.Debugw("error not retryable", "error", msg)
	return false
}

// newOptionalBreaker 配置为 nil 时不启用熔断。
func newOptionalBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		return nil
	}
	return NewCircuitBreaker(config)
}
