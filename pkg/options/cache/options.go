// Package cache provides Redis-backed query and embedding cache options.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

var _ options.IOptions = (*Options)(nil)

// Options 查询结果缓存与查询向量缓存配置。两者共用同一个 Redis。
type Options struct {
	// Enabled 是否启用 Redis 缓存，Redis 不可达时服务降级为无缓存运行。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// QueryTTL 问答结果的缓存时间。
	QueryTTL time.Duration `json:"query-ttl" mapstructure:"query-ttl"`
	// QueryKeyPrefix 问答结果的键前缀。
	QueryKeyPrefix string `json:"query-key-prefix" mapstructure:"query-key-prefix"`

	// EmbeddingTTL 查询向量的缓存时间，0 表示不缓存查询向量。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	// EmbeddingKeyPrefix 查询向量的键前缀。
	EmbeddingKeyPrefix string `json:"embedding-key-prefix" mapstructure:"embedding-key-prefix"`

	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions 创建默认缓存配置，默认关闭以便单机无依赖启动。
func NewOptions() *Options {
	return &Options{
		QueryTTL:           time.Hour,
		QueryKeyPrefix:     "rag:query:",
		EmbeddingTTL:       24 * time.Hour,
		EmbeddingKeyPrefix: "rag:emb:",
		Redis:              redisopts.NewOptions(),
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the Redis query and embedding caches.")
	fs.DurationVar(&o.QueryTTL, p+"query-ttl", o.QueryTTL, "TTL of cached answers.")
	fs.StringVar(&o.QueryKeyPrefix, p+"query-key-prefix", o.QueryKeyPrefix, "Key prefix of cached answers.")
	fs.DurationVar(&o.EmbeddingTTL, p+"embedding-ttl", o.EmbeddingTTL, "TTL of cached query embeddings, 0 disables them.")
	fs.StringVar(&o.EmbeddingKeyPrefix, p+"embedding-key-prefix", o.EmbeddingKeyPrefix, "Key prefix of cached query embeddings.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs, prefixes...)
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	return o.Redis.Complete()
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.QueryTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.query-ttl must be positive"))
	}
	if o.EmbeddingTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.embedding-ttl must not be negative"))
	}
	if o.QueryKeyPrefix == "" || o.EmbeddingKeyPrefix == "" || o.QueryKeyPrefix == o.EmbeddingKeyPrefix {
		errs = append(errs, fmt.Errorf("cache key prefixes must be non-empty and distinct"))
	}
	if o.Redis != nil {
		errs = append(errs, o.Redis.Validate()...)
	}
	return errs
}
