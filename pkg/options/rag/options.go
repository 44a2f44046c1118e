// Package rag provides the validated configuration of the retrieval-augmented generation service.
package rag

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 取值范围。知识库分块参数的范围与产品约束一致。
const (
	minMaxTokens  = 100
	maxMaxTokens  = 2048
	maxMaxOverlap = 500
	maxSearchCap  = 100
)

// ChunkingOptions 自动创建知识库时使用的分块默认值。
type ChunkingOptions struct {
	// Strategy 分块策略（auto|whitespace|semantic|fixed）。
	Strategy string `json:"strategy" mapstructure:"strategy"`
	// MaxTokens 单个分块的最大 token 数。
	MaxTokens int `json:"max-tokens" mapstructure:"max-tokens"`
	// MaxOverlap 相邻分块共享的最大 token 数。
	MaxOverlap int `json:"max-overlap" mapstructure:"max-overlap"`
}

// GroundingOptions 置信度公式中两项的权重，加载后归一化为和 1。
type GroundingOptions struct {
	OverlapWeight    float64 `json:"overlap-weight" mapstructure:"overlap-weight"`
	SimilarityWeight float64 `json:"similarity-weight" mapstructure:"similarity-weight"`
	// MinConfidence 低于该值的答案标记为未落地。
	MinConfidence float64 `json:"min-confidence" mapstructure:"min-confidence"`
}

// Options 是 RAG 服务的固定配置结构，所有字段在启动时一次性校验。
type Options struct {
	Chunking *ChunkingOptions `json:"chunking" mapstructure:"chunking"`

	// DefaultQuotaBytes 自动创建的知识库的配额。
	DefaultQuotaBytes int64 `json:"default-quota-bytes" mapstructure:"default-quota-bytes"`
	// OverheadFactor 预留配额 = 原文字节数 * OverheadFactor。
	OverheadFactor float64 `json:"overhead-factor" mapstructure:"overhead-factor"`

	// SearchLimit 检索未指定 limit 时返回的条数，MaxSearchLimit 为硬上限。
	SearchLimit    int `json:"search-limit" mapstructure:"search-limit"`
	MaxSearchLimit int `json:"max-search-limit" mapstructure:"max-search-limit"`

	// MaxSources 问答未指定 max_sources 时使用的条数，MaxSourcesLimit 为硬上限。
	MaxSources      int `json:"max-sources" mapstructure:"max-sources"`
	MaxSourcesLimit int `json:"max-sources-limit" mapstructure:"max-sources-limit"`

	Grounding *GroundingOptions `json:"grounding" mapstructure:"grounding"`

	// PromptTemplate 生成提示模板，需包含 {{context}} 与 {{question}}，为空时使用内置模板。
	PromptTemplate string `json:"prompt-template" mapstructure:"prompt-template"`
	// SnippetRunes 来源摘要的最大字符数。
	SnippetRunes int `json:"snippet-runes" mapstructure:"snippet-runes"`

	// EmbedBatchSize 单次嵌入请求的最大文本数。
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`
	// BatchConcurrency 上传批次并发索引的文档数。
	BatchConcurrency int `json:"batch-concurrency" mapstructure:"batch-concurrency"`

	// StoreCacheTTL 知识库配置的进程内缓存时间。
	StoreCacheTTL time.Duration `json:"store-cache-ttl" mapstructure:"store-cache-ttl"`

	// RequestTimeout HTTP 接口单个请求的处理时限。
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Chunking: &ChunkingOptions{
			Strategy:   "auto",
			MaxTokens:  512,
			MaxOverlap: 50,
		},
		DefaultQuotaBytes: 1 << 30,
		OverheadFactor:    3.0,
		SearchLimit:       10,
		MaxSearchLimit:    maxSearchCap,
		MaxSources:        5,
		MaxSourcesLimit:   20,
		Grounding: &GroundingOptions{
			OverlapWeight:    0.5,
			SimilarityWeight: 0.5,
		},
		SnippetRunes:     200,
		EmbedBatchSize:   32,
		BatchConcurrency: 4,
		StoreCacheTTL:    300 * time.Second,
		RequestTimeout:   5 * time.Minute,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Chunking.Strategy, p+"chunking.strategy", o.Chunking.Strategy, "Default chunking strategy (auto|whitespace|semantic|fixed).")
	fs.IntVar(&o.Chunking.MaxTokens, p+"chunking.max-tokens", o.Chunking.MaxTokens, "Default maximum tokens per chunk.")
	fs.IntVar(&o.Chunking.MaxOverlap, p+"chunking.max-overlap", o.Chunking.MaxOverlap, "Default maximum overlap tokens between chunks.")
	fs.Int64Var(&o.DefaultQuotaBytes, p+"default-quota-bytes", o.DefaultQuotaBytes, "Quota of stores created on first use.")
	fs.Float64Var(&o.OverheadFactor, p+"overhead-factor", o.OverheadFactor, "Storage overhead multiplier applied to raw text bytes.")
	fs.IntVar(&o.SearchLimit, p+"search-limit", o.SearchLimit, "Default number of search hits.")
	fs.IntVar(&o.MaxSearchLimit, p+"max-search-limit", o.MaxSearchLimit, "Upper bound of the search limit.")
	fs.IntVar(&o.MaxSources, p+"max-sources", o.MaxSources, "Default number of sources used to answer a question.")
	fs.IntVar(&o.MaxSourcesLimit, p+"max-sources-limit", o.MaxSourcesLimit, "Upper bound of max_sources.")
	fs.Float64Var(&o.Grounding.OverlapWeight, p+"grounding.overlap-weight", o.Grounding.OverlapWeight, "Confidence weight of answer/context term overlap.")
	fs.Float64Var(&o.Grounding.SimilarityWeight, p+"grounding.similarity-weight", o.Grounding.SimilarityWeight, "Confidence weight of mean source similarity.")
	fs.Float64Var(&o.Grounding.MinConfidence, p+"grounding.min-confidence", o.Grounding.MinConfidence, "Answers below this confidence are reported as ungrounded.")
	fs.StringVar(&o.PromptTemplate, p+"prompt-template", o.PromptTemplate, "Generation prompt template with {{context}} and {{question}} placeholders.")
	fs.IntVar(&o.SnippetRunes, p+"snippet-runes", o.SnippetRunes, "Maximum characters of a source snippet.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Maximum texts per embedding request.")
	fs.IntVar(&o.BatchConcurrency, p+"batch-concurrency", o.BatchConcurrency, "Documents of an upload batch indexed concurrently.")
	fs.DurationVar(&o.StoreCacheTTL, p+"store-cache-ttl", o.StoreCacheTTL, "In-process cache TTL of store configurations.")
	fs.DurationVar(&o.RequestTimeout, p+"request-timeout", o.RequestTimeout, "Processing deadline of a single API request.")
}

// Complete 补全缺失的子配置。
func (o *Options) Complete() error {
	defaults := NewOptions()
	if o.Chunking == nil {
		o.Chunking = defaults.Chunking
	}
	if o.Grounding == nil {
		o.Grounding = defaults.Grounding
	}
	return nil
}

// Validate 校验所有取值范围，一次返回全部错误。
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Chunking != nil {
		switch o.Chunking.Strategy {
		case "auto", "whitespace", "semantic", "fixed":
		default:
			errs = append(errs, fmt.Errorf("rag.chunking.strategy %q is not one of auto, whitespace, semantic, fixed", o.Chunking.Strategy))
		}
		if o.Chunking.MaxTokens < minMaxTokens || o.Chunking.MaxTokens > maxMaxTokens {
			errs = append(errs, fmt.Errorf("rag.chunking.max-tokens must be within [%d, %d]", minMaxTokens, maxMaxTokens))
		}
		if o.Chunking.MaxOverlap < 0 || o.Chunking.MaxOverlap > maxMaxOverlap {
			errs = append(errs, fmt.Errorf("rag.chunking.max-overlap must be within [0, %d]", maxMaxOverlap))
		}
		if o.Chunking.MaxOverlap >= o.Chunking.MaxTokens {
			errs = append(errs, fmt.Errorf("rag.chunking.max-overlap must be less than max-tokens"))
		}
	}
	if o.DefaultQuotaBytes <= 0 {
		errs = append(errs, fmt.Errorf("rag.default-quota-bytes must be positive"))
	}
	if o.OverheadFactor < 1 || math.IsInf(o.OverheadFactor, 0) || math.IsNaN(o.OverheadFactor) {
		errs = append(errs, fmt.Errorf("rag.overhead-factor must be a finite number >= 1"))
	}
	if o.MaxSearchLimit < 1 || o.MaxSearchLimit > maxSearchCap {
		errs = append(errs, fmt.Errorf("rag.max-search-limit must be within [1, %d]", maxSearchCap))
	}
	if o.SearchLimit < 1 || o.SearchLimit > o.MaxSearchLimit {
		errs = append(errs, fmt.Errorf("rag.search-limit must be within [1, max-search-limit]"))
	}
	if o.MaxSourcesLimit < 1 {
		errs = append(errs, fmt.Errorf("rag.max-sources-limit must be positive"))
	}
	if o.MaxSources < 1 || o.MaxSources > o.MaxSourcesLimit {
		errs = append(errs, fmt.Errorf("rag.max-sources must be within [1, max-sources-limit]"))
	}
	if g := o.Grounding; g != nil {
		if g.OverlapWeight < 0 || g.SimilarityWeight < 0 || g.OverlapWeight+g.SimilarityWeight <= 0 {
			errs = append(errs, fmt.Errorf("rag.grounding weights must be non-negative with a positive sum"))
		}
		if g.MinConfidence < 0 || g.MinConfidence > 1 {
			errs = append(errs, fmt.Errorf("rag.grounding.min-confidence must be within [0, 1]"))
		}
	}
	if o.SnippetRunes < 0 {
		errs = append(errs, fmt.Errorf("rag.snippet-runes must not be negative"))
	}
	if o.EmbedBatchSize < 1 {
		errs = append(errs, fmt.Errorf("rag.embed-batch-size must be positive"))
	}
	if o.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("rag.batch-concurrency must be positive"))
	}
	if o.StoreCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("rag.store-cache-ttl must be positive"))
	}
	if o.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag.request-timeout must be positive"))
	}
	return errs
}
