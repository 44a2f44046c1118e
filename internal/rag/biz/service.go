package biz

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	pkgstore "github.com/kart-io/sentinel-rag/pkg/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const tracerName = "sentinel-rag/biz"

// Service 定义 RAG 服务接口。
type Service interface {
	// CreateStore 创建知识库。
	CreateStore(ctx context.Context, s *model.Store) (*model.Store, error)
	// GetStore 读取知识库。
	GetStore(ctx context.Context, storeID string) (*model.Store, error)
	// ListStores 分页列出知识库。
	ListStores(ctx context.Context, offset, limit int64) (int64, []*model.Store, error)
	// SetQuota 调整知识库配额。
	SetQuota(ctx context.Context, storeID string, quotaBytes int64) (*model.Store, error)
	// DeleteStore 删除知识库及其全部分块。
	DeleteStore(ctx context.Context, storeID string) error

	// Index 索引单个文档。
	Index(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error)
	// IndexBatch 提交一组文档在后台索引。
	IndexBatch(ctx context.Context, storeID string, docs []*model.IndexRequest) (*model.UploadBatch, error)
	// GetBatch 读取批次进度。
	GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error)
	// WaitBatch 等待批次完成。
	WaitBatch(ctx context.Context, batchID string) (*model.UploadBatch, error)
	// Reindex 重建单个文档的索引。
	Reindex(ctx context.Context, req *model.ReindexRequest) (*model.IndexResult, error)
	// ReindexStore 重建知识库中所有文档的索引。
	ReindexStore(ctx context.Context, storeID string, opts ReindexStoreOptions) (*ReindexStoreResult, error)
	// GetDocument 读取文档元数据。
	GetDocument(ctx context.Context, storeID, documentID string) (*model.Document, error)
	// ListDocuments 分页列出知识库中的文档。
	ListDocuments(ctx context.Context, storeID string, offset, limit int64) ([]*model.Document, error)
	// DeleteDocument 删除文档。
	DeleteDocument(ctx context.Context, storeID, documentID string) error

	// Search 相似度检索。
	Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResult, error)
	// Query 执行 RAG 问答。
	Query(ctx context.Context, req *model.QueryRequest) (*model.RAGResponse, error)
	// ResolveCitation 解析引用标识。
	ResolveCitation(ctx context.Context, citationID string) (*model.Citation, error)

	// QuotaStatus 返回知识库的配额状态。
	QuotaStatus(ctx context.Context, storeID string) (*model.QuotaStatus, error)
	// QuotaStatuses 返回所有知识库的配额状态。
	QuotaStatuses(ctx context.Context) ([]*model.QuotaStatus, error)
	// GetStats 获取服务统计信息。
	GetStats(ctx context.Context) (*ServiceStats, error)
}

// ServiceConfig RAG 服务配置。
type ServiceConfig struct {
	Catalog          CatalogConfig
	Indexer          IndexerConfig
	Ranker           RankerConfig
	Assembler        AssemblerConfig
	OverheadFactor   float64
	BatchConcurrency int
	// Metrics 为 nil 时使用进程级的指标收集器。
	Metrics *metrics.RAGMetrics
}

// RAGService 组合知识库目录、Indexer、Ranker 与 Assembler 提供完整的 RAG 服务。
type RAGService struct {
	catalog   *StoreCatalog
	indexer   *Indexer
	ranker    *Ranker
	assembler *Assembler
	citations *CitationTracker
	batches   *BatchRunner
	cache     *QueryCache
	vectors   store.VectorStore
	meta      *store.MetaRepository
	embedder  llm.EmbeddingProvider
	chat      llm.ChatProvider
	metrics   *metrics.RAGMetrics
}

// NewRAGService 创建 RAG 服务实例，queryCache 可为 nil。
func NewRAGService(
	vectors store.VectorStore,
	meta *store.MetaRepository,
	embedder llm.EmbeddingProvider,
	chat llm.ChatProvider,
	queryCache *QueryCache,
	config *ServiceConfig,
) (*RAGService, error) {
	if config == nil {
		config = &ServiceConfig{Assembler: DefaultAssemblerConfig()}
	}
	if queryCache == nil {
		queryCache = NewQueryCache(nil, nil)
	}

	citations := NewCitationTracker(meta)
	catalog := NewStoreCatalog(meta, NewQuotaTracker(config.OverheadFactor), config.Catalog)

	s := &RAGService{
		catalog:   catalog,
		indexer:   NewIndexer(catalog, vectors, meta, embedder, citations, config.Indexer),
		ranker:    NewRanker(vectors, embedder, citations, config.Ranker),
		assembler: NewAssembler(chat, config.Assembler),
		citations: citations,
		cache:     queryCache,
		vectors:   vectors,
		meta:      meta,
		embedder:  embedder,
		chat:      chat,
		metrics:   config.Metrics,
	}
	if s.metrics == nil {
		s.metrics = metrics.GetRAGMetrics()
	}

	batches, err := NewBatchRunner(s.Index, meta, config.BatchConcurrency)
	if err != nil {
		return nil, err
	}
	s.batches = batches
	return s, nil
}

// Metrics 返回业务指标收集器。
func (s *RAGService) Metrics() *metrics.RAGMetrics {
	return s.metrics
}

// Close 停止后台批次并释放向量存储。
func (s *RAGService) Close() error {
	err := s.batches.Close()
	if cerr := s.vectors.Close(); err == nil {
		err = cerr
	}
	return err
}

// CreateStore 创建知识库。
func (s *RAGService) CreateStore(ctx context.Context, st *model.Store) (*model.Store, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.CreateStore")
	defer span.End()

	created, err := s.catalog.Create(ctx, st)
	tracing.RecordError(ctx, err)
	return created, err
}

// GetStore 读取知识库。
func (s *RAGService) GetStore(ctx context.Context, storeID string) (*model.Store, error) {
	return s.catalog.Get(ctx, storeID)
}

// ListStores 分页列出知识库。
func (s *RAGService) ListStores(ctx context.Context, offset, limit int64) (int64, []*model.Store, error) {
	return s.catalog.List(ctx, offset, limit)
}

// SetQuota 调整知识库配额。
func (s *RAGService) SetQuota(ctx context.Context, storeID string, quotaBytes int64) (*model.Store, error) {
	return s.catalog.SetQuota(ctx, storeID, quotaBytes)
}

// DeleteStore 删除知识库及其全部分块。
func (s *RAGService) DeleteStore(ctx context.Context, storeID string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.DeleteStore", tracing.WithStore(storeID))
	defer span.End()

	err := s.indexer.DeleteStore(ctx, storeID)
	tracing.RecordError(ctx, err)
	if err == nil {
		s.invalidate(ctx, storeID)
	}
	return err
}

// Index 索引单个文档。
func (s *RAGService) Index(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.Index",
		tracing.WithStore(req.StoreID), tracing.WithDocument(req.DocumentID))
	defer span.End()

	start := time.Now()
	res, err := s.indexer.IndexDocument(ctx, req)
	s.recordIndexing(ctx, start, res, err)
	return res, err
}

// IndexBatch 提交一组文档在后台索引，立即返回批次。
func (s *RAGService) IndexBatch(ctx context.Context, storeID string, docs []*model.IndexRequest) (*model.UploadBatch, error) {
	if _, err := s.catalog.Ensure(ctx, storeID); err != nil {
		return nil, err
	}
	return s.batches.Submit(ctx, storeID, docs)
}

// GetBatch 读取批次进度。
func (s *RAGService) GetBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	return s.batches.Get(ctx, batchID)
}

// WaitBatch 等待批次完成。
func (s *RAGService) WaitBatch(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	return s.batches.Wait(ctx, batchID)
}

// Reindex 重建单个文档的索引。
func (s *RAGService) Reindex(ctx context.Context, req *model.ReindexRequest) (*model.IndexResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.Reindex",
		tracing.WithStore(req.StoreID), tracing.WithDocument(req.DocumentID))
	defer span.End()

	start := time.Now()
	res, err := s.indexer.Reindex(ctx, req)
	s.recordIndexing(ctx, start, res, err)
	return res, err
}

// ReindexStore 重建知识库中所有文档的索引。
func (s *RAGService) ReindexStore(ctx context.Context, storeID string, opts ReindexStoreOptions) (*ReindexStoreResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.ReindexStore", tracing.WithStore(storeID))
	defer span.End()

	res, err := s.indexer.ReindexStore(ctx, storeID, opts)
	tracing.RecordError(ctx, err)
	if res != nil && res.Reindexed > 0 {
		s.invalidate(ctx, storeID)
	}
	return res, err
}

// GetDocument 读取文档元数据。
func (s *RAGService) GetDocument(ctx context.Context, storeID, documentID string) (*model.Document, error) {
	return s.meta.GetDocument(ctx, storeID, documentID)
}

// ListDocuments 分页列出知识库中的文档。
func (s *RAGService) ListDocuments(ctx context.Context, storeID string, offset, limit int64) ([]*model.Document, error) {
	if _, err := s.catalog.Get(ctx, storeID); err != nil {
		return nil, err
	}
	return s.meta.ListDocuments(ctx, storeID, pkgstore.WithOffset(offset), pkgstore.WithLimit(limit))
}

// DeleteDocument 删除文档。
func (s *RAGService) DeleteDocument(ctx context.Context, storeID, documentID string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.DeleteDocument",
		tracing.WithStore(storeID), tracing.WithDocument(documentID))
	defer span.End()

	err := s.indexer.DeleteDocument(ctx, storeID, documentID)
	tracing.RecordError(ctx, err)
	if err == nil {
		s.invalidate(ctx, storeID)
	}
	return err
}

// Search 相似度检索。
func (s *RAGService) Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.Search",
		tracing.WithStores(req.StoreIDs))
	defer span.End()

	start := time.Now()
	res, err := s.ranker.Search(ctx, req)
	hits := 0
	if res != nil {
		hits = len(res.Hits)
	}
	s.metrics.RecordSearch(time.Since(start), hits, err)
	tracing.RecordError(ctx, err)
	tracing.AddSpanAttributes(ctx, tracing.HitsKey.Int(hits))
	return res, err
}

// Query 执行 RAG 问答：检索、生成答案并计算置信度。
// 没有检索到分块时不调用生成服务，返回 Grounded 为 false 的响应。
func (s *RAGService) Query(ctx context.Context, req *model.QueryRequest) (resp *model.RAGResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rag.Query",
		tracing.WithStores(req.StoreIDs))
	defer span.End()

	cacheHit := false
	defer func() {
		grounded := resp != nil && resp.Grounded
		s.metrics.RecordQuery(cacheHit, grounded, err)
		tracing.RecordError(ctx, err)
	}()

	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.ErrRAGEmptyQuery
	}
	maxSources := s.assembler.MaxSources(req.MaxSources)

	if cached, cerr := s.cache.Get(ctx, req, maxSources); cerr == nil && cached != nil {
		cacheHit = true
		return cached, nil
	}

	searchStart := time.Now()
	ranked, err := s.ranker.Rank(ctx, req.Question, req.Filter(), maxSources)
	s.metrics.RecordSearch(time.Since(searchStart), len(ranked), err)
	if err != nil {
		return nil, err
	}

	if len(ranked) > 0 {
		genStart := time.Now()
		resp, err = s.assembler.Answer(ctx, req.Question, ranked, maxSources)
		s.metrics.RecordGeneration(time.Since(genStart), err)
	} else {
		resp, err = s.assembler.Answer(ctx, req.Question, nil, maxSources)
	}
	if err != nil {
		return nil, err
	}

	tracing.AddSpanAttributes(ctx,
		tracing.SourcesUsedKey.Int(resp.SourcesUsed),
		tracing.ConfidenceKey.Float64(resp.Confidence),
		tracing.GroundedKey.Bool(resp.Grounded),
	)
	_ = s.cache.Set(ctx, req, maxSources, resp)
	return resp, nil
}

// ResolveCitation 解析引用标识。
func (s *RAGService) ResolveCitation(ctx context.Context, citationID string) (*model.Citation, error) {
	return s.citations.Resolve(ctx, citationID)
}

// QuotaStatus 返回知识库的配额状态。
func (s *RAGService) QuotaStatus(ctx context.Context, storeID string) (*model.QuotaStatus, error) {
	if _, err := s.catalog.Get(ctx, storeID); err != nil {
		return nil, err
	}
	return s.catalog.Quota().Status(storeID)
}

// QuotaStatuses 返回所有知识库的配额状态，按 store_id 排序。
func (s *RAGService) QuotaStatuses(ctx context.Context) ([]*model.QuotaStatus, error) {
	const page = 500
	for offset := int64(0); ; offset += page {
		_, stores, err := s.catalog.List(ctx, offset, page)
		if err != nil {
			return nil, err
		}
		for _, st := range stores {
			if !s.catalog.Quota().Has(st.ID) {
				s.catalog.Quota().Register(st.ID, st.QuotaBytes, st.ConsumedBytes)
			}
		}
		if len(stores) < page {
			break
		}
	}
	return s.catalog.Quota().Statuses(), nil
}

// ServiceStats 服务统计信息。
type ServiceStats struct {
	ChunkCount      int              `json:"chunk_count"`
	CitationCount   int              `json:"citation_count"`
	EmbedProvider   string           `json:"embed_provider"`
	ChatProvider    string           `json:"chat_provider"`
	QueryCache      *QueryCacheStats `json:"query_cache"`
	StoreCache      cache.Stats      `json:"store_cache"`
	BatchPool       pool.Stats       `json:"batch_pool"`
	Metrics         *metrics.Stats   `json:"metrics"`
	OverheadFactor  float64          `json:"overhead_factor"`
	GroundingWeight struct {
		Overlap    float64 `json:"overlap"`
		Similarity float64 `json:"similarity"`
	} `json:"grounding_weight"`
}

// GetStats 获取服务统计信息。
func (s *RAGService) GetStats(ctx context.Context) (*ServiceStats, error) {
	count, err := s.vectors.Count(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := &ServiceStats{
		ChunkCount:     count,
		CitationCount:  s.citations.Len(),
		EmbedProvider:  s.embedder.Name(),
		ChatProvider:   s.chat.Name(),
		StoreCache:     s.catalog.CacheStats(),
		BatchPool:      s.batches.Stats(),
		Metrics:        s.metrics.Stats(),
		OverheadFactor: s.catalog.Quota().OverheadFactor(),
	}
	cfg := s.assembler.Config()
	stats.GroundingWeight.Overlap = cfg.OverlapWeight
	stats.GroundingWeight.Similarity = cfg.SimilarityWeight

	if cacheStats, err := s.cache.GetStats(ctx); err == nil {
		stats.QueryCache = cacheStats
	}
	return stats, nil
}

func (s *RAGService) recordIndexing(ctx context.Context, start time.Time, res *model.IndexResult, err error) {
	var quotaErr *QuotaError
	quotaRejected := stderrors.As(err, &quotaErr)

	chunks, bytes, unchanged := 0, int64(0), false
	if res != nil {
		chunks, bytes, unchanged = res.ChunksCreated, res.BytesCommitted, res.Unchanged
	}
	s.metrics.RecordIndexing(time.Since(start), chunks, bytes, unchanged, quotaRejected, err)
	tracing.RecordError(ctx, err)

	if res != nil && !unchanged {
		s.invalidate(ctx, res.StoreID)
		tracing.AddSpanAttributes(ctx, tracing.ChunksKey.Int(chunks), tracing.BytesKey.Int64(bytes))
	}
}

// invalidate 使涉及知识库的查询缓存失效，失败只记录日志。
func (s *RAGService) invalidate(ctx context.Context, storeID string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), storeID); err != nil {
		logger.Warnw("failed to invalidate query cache", "store_id", storeID, "error", err.Error())
	}
}

var _ Service = (*RAGService)(nil)
