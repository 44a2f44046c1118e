package ragsvc

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/component/database"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/component/redis"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	vectoropts "github.com/kart-io/sentinel-rag/pkg/options/vector"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/sentinel-rag/pkg/llm/local"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/openai"
)

// Components 已装配好的运行时依赖，HTTP 服务与命令行子命令共用。
type Components struct {
	Service *biz.RAGService
	Metrics *metrics.RAGMetrics
	// Checks 按依赖名称登记的健康检查。
	Checks map[string]func(ctx context.Context) error

	tracer  *tracing.Provider
	closers []func(ctx context.Context) error
}

// NewComponents 按配置依次初始化日志、追踪、元数据库、向量存储、缓存与模型供应商。
// 任一步失败时已创建的资源会被释放。
func (cfg *Config) NewComponents(ctx context.Context) (*Components, error) {
	c := &Components{
		Metrics: metrics.GetRAGMetrics(),
		Checks:  make(map[string]func(ctx context.Context) error),
	}
	ready := false
	defer func() {
		if !ready {
			_ = c.Close(context.Background())
		}
	}()

	var err error

	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 2. 初始化追踪
	if cfg.TracingOptions.ServiceVersion == "" {
		cfg.TracingOptions.ServiceVersion = app.GetVersion()
	}
	c.tracer, err = tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// 3. 初始化元数据库
	db, err := database.New(ctx, cfg.DatabaseOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.onClose(func(context.Context) error { return db.Close() })
	c.Checks["database"] = db.Ping

	meta := store.NewMetaRepository(db.DB())
	if err := meta.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata schema: %w", err)
	}
	logger.Infow("Metadata database initialized", "driver", db.Driver())

	// 4. 初始化向量存储
	vectors, err := cfg.newVectorStore(ctx)
	if err != nil {
		return nil, err
	}
	// 服务创建后由 Service.Close 负责停止批次并关闭向量存储
	c.onClose(func(context.Context) error {
		if c.Service != nil {
			return c.Service.Close()
		}
		return vectors.Close()
	})
	c.Checks["vector"] = func(ctx context.Context) error {
		_, err := vectors.Count(ctx, "")
		return err
	}
	logger.Infow("Vector store initialized", "backend", cfg.VectorOptions.Backend)

	// 5. 初始化 Redis 缓存，连接失败时降级为无缓存
	var rdb goredis.UniversalClient
	if cfg.CacheOptions.Enabled {
		client, rerr := redis.New(ctx, cfg.CacheOptions.Redis)
		if rerr != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "error", rerr.Error())
		} else {
			rdb = client.Client()
			c.onClose(func(context.Context) error { return client.Close() })
			c.Checks["redis"] = client.Ping
			logger.Infow("Redis cache initialized",
				"addr", cfg.CacheOptions.Redis.Addr(),
				"query_ttl", cfg.CacheOptions.QueryTTL,
			)
		}
	} else {
		logger.Info("Cache is disabled")
	}

	// 6. 初始化 LLM 供应商
	embedder, chat, err := cfg.newProviders(rdb, c.Metrics)
	if err != nil {
		return nil, err
	}

	// 7. 初始化 Biz 层
	var queryCache *biz.QueryCache
	if rdb != nil {
		queryCache = biz.NewQueryCache(rdb, &biz.QueryCacheConfig{
			Enabled:   true,
			TTL:       cfg.CacheOptions.QueryTTL,
			KeyPrefix: cfg.CacheOptions.QueryKeyPrefix,
		})
	}
	svc, err := biz.NewRAGService(vectors, meta, embedder, chat, queryCache, cfg.ServiceConfig(c.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rag service: %w", err)
	}
	c.Service = svc

	logger.Infow("RAG service initialized",
		"embedding.provider", cfg.EmbeddingOptions.Provider,
		"chat.provider", cfg.ChatOptions.Provider,
		"cache.enabled", queryCache != nil,
	)
	ready = true
	return c, nil
}

func (cfg *Config) newVectorStore(ctx context.Context) (store.VectorStore, error) {
	switch cfg.VectorOptions.Backend {
	case vectoropts.BackendMemory:
		return store.NewMemoryStore(), nil
	case vectoropts.BackendBolt:
		s, err := store.NewBoltStore(cfg.VectorOptions.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt vector store: %w", err)
		}
		return s, nil
	case vectoropts.BackendMilvus:
		client, err := milvus.New(cfg.VectorOptions.Milvus)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		s, err := store.NewMilvusStore(ctx, client)
		if err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported vector backend %q", cfg.VectorOptions.Backend)
	}
}

// newProviders 创建供应商并依次包装查询向量缓存与超时、重试、熔断。
// 熔断状态变化记录到指标中。
func (cfg *Config) newProviders(rdb goredis.UniversalClient, m *metrics.RAGMetrics) (llm.EmbeddingProvider, llm.ChatProvider, error) {
	onStateChange := func(from, to resilience.CircuitBreakerState) {
		m.RecordCircuitBreakerState(to.String())
		logger.Warnw("model circuit breaker state changed", "from", from.String(), "to", to.String())
	}

	rawEmbedder, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Config())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	var embedder llm.EmbeddingProvider = resilience.NewResilientEmbeddingProvider(
		rawEmbedder,
		cfg.EmbeddingOptions.RetryConfig(),
		cfg.EmbeddingOptions.CircuitBreakerConfig(onStateChange),
	)
	if rdb != nil && cfg.CacheOptions.EmbeddingTTL > 0 {
		embedder = llm.NewCachedEmbeddingProvider(embedder, rdb, &llm.EmbeddingCacheConfig{
			TTL:       cfg.CacheOptions.EmbeddingTTL,
			KeyPrefix: cfg.CacheOptions.EmbeddingKeyPrefix,
		})
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	rawChat, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.Config())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	chat := resilience.NewResilientChatProvider(
		rawChat,
		cfg.ChatOptions.RetryConfig(),
		cfg.ChatOptions.CircuitBreakerConfig(onStateChange),
	)
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)
	return embedder, chat, nil
}

func (c *Components) onClose(fn func(ctx context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close 按创建的逆序释放资源并刷新追踪数据，返回所有关闭错误的聚合。
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.tracer != nil {
		if err := c.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		c.tracer = nil
	}
	return utilerrors.NewAggregate(errs)
}
