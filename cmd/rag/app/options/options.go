// Package options contains flags and options for initializing the RAG server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/app/cliflag"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/options"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	dbopts "github.com/kart-io/sentinel-rag/pkg/options/database"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	vectoropts "github.com/kart-io/sentinel-rag/pkg/options/vector"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracing.Options `json:"tracing" mapstructure:"tracing"`

	// DatabaseOptions contains the metadata database configuration.
	DatabaseOptions *dbopts.Options `json:"database" mapstructure:"database"`

	// VectorOptions selects and configures the chunk vector store.
	VectorOptions *vectoropts.Options `json:"vector" mapstructure:"vector"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains RAG-specific configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// CacheOptions contains cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		TracingOptions:   tracing.NewOptions(),
		DatabaseOptions:  dbopts.NewOptions(),
		VectorOptions:    vectoropts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.DatabaseOptions.AddFlags(fss.FlagSet("database"))
	o.VectorOptions.AddFlags(fss.FlagSet("vector"), "vector")
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.RAGOptions.AddFlags(fss.FlagSet("rag"), "rag")
	o.CacheOptions.AddFlags(fss.FlagSet("cache"), "cache")
	return fss
}

func (o *ServerOptions) sections() []options.Section {
	return []options.Section{
		{Name: "http", Complete: o.HTTPOptions.Complete, Validate: o.HTTPOptions.Validate},
		{Name: "log", Complete: o.LogOptions.Complete, Validate: o.LogOptions.Validate},
		{Name: "tracing", Complete: o.TracingOptions.Complete, Validate: o.TracingOptions.Validate},
		{Name: "database", Complete: o.DatabaseOptions.Complete, Validate: o.DatabaseOptions.Validate},
		{Name: "vector", Complete: o.VectorOptions.Complete, Validate: o.VectorOptions.Validate},
		{Name: "embedding", Complete: o.EmbeddingOptions.Complete, Validate: o.EmbeddingOptions.Validate},
		{Name: "chat", Complete: o.ChatOptions.Complete, Validate: o.ChatOptions.Validate},
		{Name: "rag", Complete: o.RAGOptions.Complete, Validate: o.RAGOptions.Validate},
		{Name: "cache", Complete: o.CacheOptions.Complete, Validate: o.CacheOptions.Validate},
	}
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	return options.CompleteAll(o.sections()...)
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := options.ValidateAll(o.sections()...)

	// milvus 集合维度必须与嵌入维度一致
	if o.VectorOptions.Backend == vectoropts.BackendMilvus && o.VectorOptions.Milvus != nil &&
		o.EmbeddingOptions.Dimension > 0 && o.VectorOptions.Milvus.Dimension != o.EmbeddingOptions.Dimension {
		errs = append(errs, fmt.Errorf("vector.milvus.dimension (%d) must equal embedding.dimension (%d)",
			o.VectorOptions.Milvus.Dimension, o.EmbeddingOptions.Dimension))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		TracingOptions:   o.TracingOptions,
		DatabaseOptions:  o.DatabaseOptions,
		VectorOptions:    o.VectorOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		CacheOptions:     o.CacheOptions,
	}, nil
}
