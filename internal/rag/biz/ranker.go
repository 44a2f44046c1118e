package biz

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// 检索条数的默认值与上限。
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// RankerConfig 检索排序配置。
type RankerConfig struct {
	// DefaultLimit 请求未指定 limit 时使用的条数。
	DefaultLimit int
	// MaxLimit limit 的硬上限。
	MaxLimit int
}

// Ranker 把查询文本向量化后在指定知识库中做相似度检索。
// 嵌入服务失败时检索直接失败，不会返回一个看似正常的空结果。
type Ranker struct {
	store     store.VectorStore
	embedder  llm.EmbeddingProvider
	citations *CitationTracker
	config    RankerConfig
}

// NewRanker 创建检索器，citations 可为 nil。
func NewRanker(vectorStore store.VectorStore, embedder llm.EmbeddingProvider, citations *CitationTracker, config RankerConfig) *Ranker {
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxSearchLimit
	}
	if config.DefaultLimit <= 0 || config.DefaultLimit > config.MaxLimit {
		config.DefaultLimit = min(DefaultSearchLimit, config.MaxLimit)
	}
	return &Ranker{
		store:     vectorStore,
		embedder:  embedder,
		citations: citations,
		config:    config,
	}
}

// Limit 把请求的条数规整到 [1, MaxLimit]，非正数取默认值。
func (r *Ranker) Limit(requested int) int {
	if requested <= 0 {
		return r.config.DefaultLimit
	}
	return min(requested, r.config.MaxLimit)
}

// Search 检索与查询最相关的分块。没有命中时返回 Empty 为 true 的结果而不是错误。
func (r *Ranker) Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResult, error) {
	hits, err := r.Rank(ctx, req.Query, req.Filter(), req.Limit)
	if err != nil {
		return nil, err
	}

	result := &model.SearchResult{
		Query: req.Query,
		Hits:  make([]*model.SearchHit, 0, len(hits)),
		Empty: len(hits) == 0,
	}
	for _, h := range hits {
		result.Hits = append(result.Hits, &model.SearchHit{
			ChunkID:    h.Chunk.ID,
			CitationID: h.Chunk.CitationID,
			DocumentID: h.Chunk.DocumentID,
			StoreID:    h.Chunk.StoreID,
			Ordinal:    h.Chunk.Ordinal,
			Text:       h.Chunk.Text,
			Score:      h.Score,
		})
	}
	return result, nil
}

// Rank 返回按得分降序排列的命中分块，过滤条件先于 top-k 生效。
func (r *Ranker) Rank(ctx context.Context, query string, filter model.Filter, limit int) ([]model.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.ErrRAGEmptyQuery
	}
	limit = r.Limit(limit)

	start := time.Now()
	vector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		logger.Warnw("query embedding failed", "error", err.Error(), "store_ids", filter.StoreIDs)
		return nil, serviceFailure(err, errors.ErrEmbeddingService)
	}

	hits, err := r.store.Search(ctx, vector, limit, filter)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.ErrSearchFailed.WithCause(err)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if r.citations != nil {
		chunks := make([]*model.Chunk, len(hits))
		for i, h := range hits {
			chunks[i] = h.Chunk
		}
		r.citations.Register(chunks...)
	}

	logger.Debugw("search completed",
		"store_ids", filter.StoreIDs,
		"limit", limit,
		"hits", len(hits),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return hits, nil
}

// serviceFailure 保留调用方取消与已分类的模型服务错误，其余归为 fallback。
func serviceFailure(err error, fallback *errors.Errno) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var errno *errors.Errno
	if stderrors.As(err, &errno) {
		if service, _, _ := errors.ParseCode(errno.Code); service == errors.ServiceLLM {
			return errno
		}
	}
	return fallback.WithCause(err)
}
