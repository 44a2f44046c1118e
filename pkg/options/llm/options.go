// Package llm provides embedding and chat provider options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义一个 LLM 供应商（embedding 或 chat）的配置。
type ProviderOptions struct {
	// Provider 供应商名称（local, ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，为空时使用供应商默认值。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（openai 需要），为空时从 OPENAI_API_KEY 读取。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Dimension 向量维度，仅 local 供应商使用。
	Dimension int `json:"dimension" mapstructure:"dimension"`

	// Timeout 单次调用超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxAttempts 含首次调用在内的最大尝试次数。
	MaxAttempts int `json:"max-attempts" mapstructure:"max-attempts"`

	// InitialBackoff 首次重试前的等待，此后指数增长直到 MaxBackoff。
	InitialBackoff time.Duration `json:"initial-backoff" mapstructure:"initial-backoff"`
	MaxBackoff     time.Duration `json:"max-backoff" mapstructure:"max-backoff"`

	// BreakerFailures 连续失败多少次后熔断，0 表示不启用熔断。
	BreakerFailures int `json:"breaker-failures" mapstructure:"breaker-failures"`
	// BreakerCooldown 熔断后进入半开前的等待。
	BreakerCooldown time.Duration `json:"breaker-cooldown" mapstructure:"breaker-cooldown"`
}

// NewProviderOptions 创建默认配置，默认使用无需外部服务的 local 供应商。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:        "local",
		Dimension:       256,
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 60 * time.Second,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	return NewProviderOptions()
}

// NewChatOptions 创建默认 Chat 供应商配置，生成调用允许更长的超时。
func NewChatOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Timeout = 120 * time.Second
	return opts
}

// Config 转换为供应商工厂使用的配置。同一份配置同时填充 embedding 与 chat 模型名。
func (o *ProviderOptions) Config() llm.Config {
	return llm.Config{
		BaseURL:    o.BaseURL,
		APIKey:     o.APIKey,
		EmbedModel: o.Model,
		ChatModel:  o.Model,
		Dimension:  o.Dimension,
		Timeout:    o.Timeout,
	}
}

// RetryConfig 转换为 resilience 重试配置。
func (o *ProviderOptions) RetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = o.MaxAttempts
	cfg.AttemptTimeout = o.Timeout
	cfg.InitialDelay = o.InitialBackoff
	cfg.MaxDelay = o.MaxBackoff
	return cfg
}

// CircuitBreakerConfig 转换为熔断配置，未启用时返回 nil。
func (o *ProviderOptions) CircuitBreakerConfig(onStateChange func(from, to resilience.CircuitBreakerState)) *resilience.CircuitBreakerConfig {
	if o.BreakerFailures <= 0 {
		return nil
	}
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = o.BreakerFailures
	cfg.Timeout = o.BreakerCooldown
	cfg.OnStateChange = onStateChange
	return cfg
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name (local, ollama, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "API base URL, empty uses the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "API key (prefer the OPENAI_API_KEY env var).")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name, empty uses the provider default.")
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Vector dimension of the local provider.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Per-attempt timeout.")
	fs.IntVar(&o.MaxAttempts, p+"max-attempts", o.MaxAttempts, "Maximum attempts including the first call.")
	fs.DurationVar(&o.InitialBackoff, p+"initial-backoff", o.InitialBackoff, "Backoff before the first retry.")
	fs.DurationVar(&o.MaxBackoff, p+"max-backoff", o.MaxBackoff, "Upper bound of the retry backoff.")
	fs.IntVar(&o.BreakerFailures, p+"breaker-failures", o.BreakerFailures, "Consecutive failures that open the circuit breaker, 0 disables it.")
	fs.DurationVar(&o.BreakerCooldown, p+"breaker-cooldown", o.BreakerCooldown, "Time the circuit stays open before a probe.")
}

// Complete 从环境变量补全 openai 密钥。
func (o *ProviderOptions) Complete() error {
	if o.Provider == "openai" && o.APIKey == "" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Provider {
	case "":
		errs = append(errs, fmt.Errorf("provider is required"))
	case "openai":
		if o.APIKey == "" {
			errs = append(errs, fmt.Errorf("api-key is required for openai provider"))
		}
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max-attempts must be at least 1"))
	}
	if o.InitialBackoff < 0 || o.MaxBackoff < o.InitialBackoff {
		errs = append(errs, fmt.Errorf("backoff must satisfy 0 <= initial-backoff <= max-backoff"))
	}
	if o.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker-failures must not be negative"))
	}
	return errs
}
