// Package ragsvc assembles the RAG service: it turns validated options into
// storage, model providers, the business service and the HTTP server.
package ragsvc

import (
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	dbopts "github.com/kart-io/sentinel-rag/pkg/options/database"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	vectoropts "github.com/kart-io/sentinel-rag/pkg/options/vector"
)

// Name is the name of the application.
const Name = "sentinel-rag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	TracingOptions   *tracing.Options
	DatabaseOptions  *dbopts.Options
	VectorOptions    *vectoropts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
}

// ServiceConfig 把 rag 选项映射为业务层配置。
func (cfg *Config) ServiceConfig(m *metrics.RAGMetrics) *biz.ServiceConfig {
	o := cfg.RAGOptions
	assembler := biz.DefaultAssemblerConfig()
	assembler.OverlapWeight = o.Grounding.OverlapWeight
	assembler.SimilarityWeight = o.Grounding.SimilarityWeight
	assembler.MinConfidence = o.Grounding.MinConfidence
	assembler.DefaultMaxSources = o.MaxSources
	assembler.MaxSources = o.MaxSourcesLimit
	assembler.SnippetRunes = o.SnippetRunes
	if o.PromptTemplate != "" {
		assembler.PromptTemplate = o.PromptTemplate
	}

	return &biz.ServiceConfig{
		Catalog: biz.CatalogConfig{
			DefaultChunking: model.ChunkingConfig{
				Strategy:   model.ChunkingStrategy(o.Chunking.Strategy),
				MaxTokens:  o.Chunking.MaxTokens,
				MaxOverlap: o.Chunking.MaxOverlap,
			},
			DefaultQuotaBytes: o.DefaultQuotaBytes,
			CacheTTL:          o.StoreCacheTTL,
		},
		Indexer: biz.IndexerConfig{EmbedBatchSize: o.EmbedBatchSize},
		Ranker: biz.RankerConfig{
			DefaultLimit: o.SearchLimit,
			MaxLimit:     o.MaxSearchLimit,
		},
		Assembler:        assembler,
		OverheadFactor:   o.OverheadFactor,
		BatchConcurrency: o.BatchConcurrency,
		Metrics:          m,
	}
}
