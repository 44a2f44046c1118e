package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	pkgstore "github.com/kart-io/sentinel-rag/pkg/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// DefaultEmbedBatchSize 单次嵌入请求的最大文本数。
const DefaultEmbedBatchSize = 32

// cleanupTimeout 取消或失败后清理已写入分块的时间上限。
const cleanupTimeout = 30 * time.Second

// IndexerConfig 索引器配置。
type IndexerConfig struct {
	// EmbedBatchSize 单次嵌入请求的最大文本数。
	EmbedBatchSize int
}

// Indexer 负责文档的分块、向量化、写入与配额记账。
//
// 同一文档的索引、重建与删除互斥：第二个请求直接返回 ErrReindexInProgress。
// 任何阶段失败或上下文取消时，预留的配额被回滚，已写入的分块被删除。
type Indexer struct {
	chunker   *Chunker
	catalog   *StoreCatalog
	quota     *QuotaTracker
	store     store.VectorStore
	meta      *store.MetaRepository
	embedder  llm.EmbeddingProvider
	citations *CitationTracker
	locks     *docLocks
	config    IndexerConfig
	now       func() time.Time
}

// NewIndexer 创建索引器实例。
func NewIndexer(
	catalog *StoreCatalog,
	vectorStore store.VectorStore,
	meta *store.MetaRepository,
	embedder llm.EmbeddingProvider,
	citations *CitationTracker,
	config IndexerConfig,
) *Indexer {
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = DefaultEmbedBatchSize
	}
	return &Indexer{
		chunker:   NewChunker(),
		catalog:   catalog,
		quota:     catalog.Quota(),
		store:     vectorStore,
		meta:      meta,
		embedder:  embedder,
		citations: citations,
		locks:     newDocLocks(),
		config:    config,
		now:       time.Now,
	}
}

// indexJob 一次索引任务的完整输入。
type indexJob struct {
	documentID  string
	storeID     string
	text        string
	filename    string
	contentType string
	metadata    map[string]string
	chunking    *model.ChunkingConfig
	force       bool
}

// IndexDocument 索引文档；文档已存在时替换其分块。
// 配置错误与配额不足同步返回，嵌入或存储失败返回 *IndexingError。
func (ix *Indexer) IndexDocument(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error) {
	job := &indexJob{
		documentID:  strings.TrimSpace(req.DocumentID),
		storeID:     strings.TrimSpace(req.StoreID),
		text:        req.Text,
		filename:    req.Filename,
		contentType: req.ContentType,
		metadata:    req.Metadata,
		chunking:    req.Chunking,
	}
	if err := job.validate(); err != nil {
		return nil, err
	}

	unlock, err := ix.lock(job.storeID, job.documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return ix.index(ctx, job, nil)
}

// Reindex 重建单个文档的索引。输入与配置都未变化时直接返回已有结果，不触碰向量存储。
func (ix *Indexer) Reindex(ctx context.Context, req *model.ReindexRequest) (*model.IndexResult, error) {
	unlock, err := ix.lock(req.StoreID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := ix.meta.GetDocument(ctx, req.StoreID, req.DocumentID)
	if err != nil {
		return nil, err
	}

	job := &indexJob{
		documentID:  existing.ID,
		storeID:     existing.StoreID,
		text:        existing.Content,
		filename:    existing.Filename,
		contentType: existing.ContentType,
		metadata:    existing.Metadata,
		chunking:    req.Chunking,
		force:       req.Force,
	}
	if req.Text != "" {
		job.text = req.Text
	}
	if job.chunking == nil && existing.Status == model.DocumentIndexed {
		cfg := existing.Chunking
		job.chunking = &cfg
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return ix.index(ctx, job, existing)
}

// ReindexStoreOptions 知识库重建选项。
type ReindexStoreOptions struct {
	// ClearExisting 即使内容未变化也重新分块。
	ClearExisting bool
	// BatchSize 每次从元数据读取的文档数。
	BatchSize int
}

// ReindexStoreResult 知识库重建的汇总结果。
type ReindexStoreResult struct {
	StoreID   string   `json:"store_id"`
	Total     int      `json:"total_documents"`
	Reindexed int      `json:"reindexed"`
	Unchanged int      `json:"unchanged"`
	Failed    int      `json:"failed"`
	Chunks    int      `json:"chunks"`
	Errors    []string `json:"errors,omitempty"`
}

// ReindexStore 使用知识库当前的分块配置重建其中所有文档。
// 单个文档失败不会中断整个过程，上下文取消时立即返回已完成的部分。
func (ix *Indexer) ReindexStore(ctx context.Context, storeID string, opts ReindexStoreOptions) (*ReindexStoreResult, error) {
	st, err := ix.catalog.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	result := &ReindexStoreResult{StoreID: storeID}
	for offset := 0; ; offset += opts.BatchSize {
		docs, err := ix.meta.ListDocuments(ctx, storeID,
			pkgstore.WithOffset(int64(offset)), pkgstore.WithLimit(int64(opts.BatchSize)))
		if err != nil {
			return result, err
		}
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Total++
			cfg := st.Chunking
			res, err := ix.Reindex(ctx, &model.ReindexRequest{
				StoreID:    storeID,
				DocumentID: doc.ID,
				Chunking:   &cfg,
				Force:      opts.ClearExisting,
			})
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.ID, err))
				logger.Warnw("document reindex failed", "store_id", storeID, "document_id", doc.ID, "error", err.Error())
			case res.Unchanged:
				result.Unchanged++
				result.Chunks += res.ChunksCreated
			default:
				result.Reindexed++
				result.Chunks += res.ChunksCreated
			}
		}
		if len(docs) < opts.BatchSize {
			break
		}
	}

	logger.Infow("store reindexed",
		"store_id", storeID,
		"total", result.Total,
		"reindexed", result.Reindexed,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
	)
	return result, nil
}

// DeleteDocument 删除文档的分块、引用与元数据，并归还配额。
func (ix *Indexer) DeleteDocument(ctx context.Context, storeID, documentID string) error {
	unlock, err := ix.lock(storeID, documentID)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := ix.meta.GetDocument(ctx, storeID, documentID)
	if err != nil {
		return err
	}
	removed, err := ix.store.DeleteByDocument(ctx, storeID, documentID)
	if err != nil {
		return err
	}
	if err := ix.meta.DeleteDocument(ctx, storeID, documentID); err != nil {
		return err
	}
	if doc.Status == model.DocumentIndexed {
		ix.quota.Release(storeID, doc.Bytes)
	}
	ix.citations.ForgetDocument(storeID, documentID)
	_ = ix.catalog.RefreshUsage(ctx, storeID)

	logger.Infow("document deleted",
		"store_id", storeID,
		"document_id", documentID,
		"chunks_removed", removed,
		"bytes_released", doc.Bytes,
	)
	return nil
}

// DeleteStore 删除知识库及其全部分块。
func (ix *Indexer) DeleteStore(ctx context.Context, storeID string) error {
	if _, err := ix.catalog.Get(ctx, storeID); err != nil {
		return err
	}
	removed, err := ix.store.DeleteByStore(ctx, storeID)
	if err != nil {
		return err
	}
	if err := ix.catalog.Delete(ctx, storeID); err != nil {
		return err
	}
	ix.citations.ForgetStore(storeID)

	logger.Infow("store deleted", "store_id", storeID, "chunks_removed", removed)
	return nil
}

func (ix *Indexer) lock(storeID, documentID string) (func(), error) {
	key := ownerKey(storeID, documentID)
	if !ix.locks.tryLock(key) {
		return nil, errors.ErrReindexInProgress.WithMessagef(
			"document %s in store %s is being indexed by another request", documentID, storeID)
	}
	return func() { ix.locks.unlock(key) }, nil
}

func (j *indexJob) validate() error {
	switch {
	case j.storeID == "":
		return errors.ErrRAGInvalidRequest.WithMessage("store_id is required")
	case j.documentID == "":
		return errors.ErrRAGInvalidRequest.WithMessage("document_id is required")
	case strings.TrimSpace(j.text) == "":
		return errors.ErrRAGEmptyDocument.WithMessagef("document %s has no text", j.documentID)
	}
	return nil
}

// index 执行一次完整的索引。调用方持有文档锁。
func (ix *Indexer) index(ctx context.Context, job *indexJob, existing *model.Document) (*model.IndexResult, error) {
	start := time.Now()

	st, err := ix.catalog.Ensure(ctx, job.storeID)
	if err != nil {
		return nil, err
	}
	cfg := st.Chunking
	if job.chunking != nil {
		cfg = job.chunking.WithDefaults()
	}

	if existing == nil {
		existing, err = ix.meta.GetDocument(ctx, job.storeID, job.documentID)
		if err != nil && !errors.IsCode(err, errors.ErrDocumentNotFound.Code) {
			return nil, err
		}
	}
	hash := textutil.HashString(job.text)
	if existing != nil && !job.force && existing.Status == model.DocumentIndexed &&
		existing.Hash == hash && existing.Chunking == cfg {
		logger.Debugw("document unchanged, skipping", "store_id", job.storeID, "document_id", job.documentID)
		return ix.unchangedResult(existing), nil
	}

	drafts, err := ix.chunker.Chunk(job.text, cfg)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, errors.ErrRAGEmptyDocument.WithMessagef("document %s has no tokens", job.documentID)
	}

	var replacing int64
	if existing != nil && existing.Status == model.DocumentIndexed {
		replacing = existing.Bytes
	}
	reservation, err := ix.quota.Reserve(job.storeID, ix.quota.EstimateBytes(len(job.text)), Replacing(replacing))
	if err != nil {
		return nil, err
	}
	defer reservation.Rollback()

	previous, err := ix.store.ListByDocument(ctx, job.storeID, job.documentID)
	if err != nil {
		return nil, ix.fail(ctx, job, existing, StageInsert, err, nil)
	}

	chunks := ix.buildChunks(job, drafts)
	if err := ix.embed(ctx, chunks); err != nil {
		return nil, ix.fail(ctx, job, existing, StageEmbed, err, nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, ix.fail(ctx, job, existing, StageInsert, err, nil)
	}
	if err := ix.store.Insert(ctx, chunks); err != nil {
		return nil, ix.fail(ctx, job, existing, StageInsert, err, chunks)
	}
	if err := ctx.Err(); err != nil {
		return nil, ix.fail(ctx, job, existing, StageInsert, err, chunks)
	}

	actual := int64(0)
	if spans := model.SpanBytes(drafts); spans > 0 {
		actual = ix.quota.EstimateBytes(spans)
	}
	doc := ix.documentOf(job, existing, cfg, hash, drafts, actual)

	refs := make([]*model.Citation, len(chunks))
	for i, c := range chunks {
		refs[i] = citationOf(c)
	}
	if err := ix.meta.SaveCitations(ctx, refs); err != nil {
		return nil, ix.fail(ctx, job, existing, StagePersist, err, chunks)
	}
	if err := ix.meta.SaveDocument(ctx, doc); err != nil {
		return nil, ix.fail(ctx, job, existing, StagePersist, err, chunks)
	}

	if err := reservation.Commit(actual); err != nil {
		if existing != nil {
			_ = ix.meta.SaveDocument(context.WithoutCancel(ctx), existing)
		}
		return nil, ix.fail(ctx, job, existing, StageCommit, err, chunks)
	}
	ix.citations.Register(chunks...)

	result := &model.IndexResult{
		DocumentID:     job.documentID,
		StoreID:        job.storeID,
		Strategy:       ResolveStrategy(job.text, cfg.Strategy),
		ChunksCreated:  len(chunks),
		TotalTokens:    doc.TokenNum,
		BytesCommitted: actual,
		QuotaWarning:   ix.quotaWarning(job.storeID),
	}

	if err := ix.dropPrevious(ctx, job, previous); err != nil {
		return result, err
	}
	_ = ix.catalog.RefreshUsage(ctx, job.storeID)

	logger.Infow("document indexed",
		"store_id", job.storeID,
		"document_id", job.documentID,
		"strategy", result.Strategy,
		"chunks", result.ChunksCreated,
		"tokens", result.TotalTokens,
		"bytes", actual,
		"replaced_chunks", len(previous),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (ix *Indexer) buildChunks(job *indexJob, drafts []model.ChunkDraft) []*model.Chunk {
	metadata := make(map[string]string, len(job.metadata)+2)
	for k, v := range job.metadata {
		metadata[k] = v
	}
	if job.filename != "" {
		metadata["filename"] = job.filename
	}
	if job.contentType != "" {
		metadata["content_type"] = job.contentType
	}

	now := ix.now()
	chunks := make([]*model.Chunk, len(drafts))
	for i, d := range drafts {
		c := &model.Chunk{
			ID:            id.NewULID(),
			CitationID:    NewCitationID(),
			StoreID:       job.storeID,
			DocumentID:    job.documentID,
			Ordinal:       d.Ordinal,
			Text:          d.Text,
			TokenCount:    d.TokenCount,
			OverlapTokens: d.OverlapTokens,
			Metadata:      metadata,
			CreatedAt:     now,
		}
		if i > 0 && d.OverlapTokens > 0 {
			c.PredecessorCitationID = chunks[i-1].CitationID
		}
		chunks[i] = c
	}
	return chunks
}

// embed 分批获取向量。嵌入服务已在 resilience 层重试，这里的错误都是终态。
func (ix *Indexer) embed(ctx context.Context, chunks []*model.Chunk) error {
	for lo := 0; lo < len(chunks); lo += ix.config.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := min(lo+ix.config.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Text)
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return serviceFailure(err, errors.ErrEmbeddingService)
		}
		if len(vectors) != len(texts) {
			return errors.ErrEmbeddingService.WithMessagef("expected %d embeddings, got %d", len(texts), len(vectors))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return errors.ErrEmbeddingService.WithMessagef("empty embedding for chunk %d", lo+i)
			}
			chunks[lo+i].Embedding = v
		}
	}
	return nil
}

// fail 清理已写入的分块并记录失败状态。预留由 index 的 defer 回滚。
func (ix *Indexer) fail(ctx context.Context, job *indexJob, existing *model.Document, stage string, cause error, inserted []*model.Chunk) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if len(inserted) > 0 {
		ids := make([]string, len(inserted))
		citationIDs := make([]string, len(inserted))
		for i, c := range inserted {
			ids[i] = c.ID
			citationIDs[i] = c.CitationID
		}
		if _, err := ix.store.Delete(cleanupCtx, ids); err != nil {
			logger.Errorw("failed to remove partially indexed chunks",
				"store_id", job.storeID,
				"document_id", job.documentID,
				"chunks", len(ids),
				"error", err.Error(),
			)
		}
		if err := ix.meta.DeleteCitations(cleanupCtx, citationIDs); err != nil {
			logger.Warnw("failed to remove citations", "document_id", job.documentID, "error", err.Error())
		}
	}

	if existing == nil {
		failed := &model.Document{
			ID:          job.documentID,
			StoreID:     job.storeID,
			Filename:    job.filename,
			ContentType: job.contentType,
			Content:     job.text,
			Hash:        textutil.HashString(job.text),
			Metadata:    job.metadata,
			Status:      model.DocumentFailed,
			Error:       cause.Error(),
		}
		if err := ix.meta.SaveDocument(cleanupCtx, failed); err != nil {
			logger.Warnw("failed to record document failure", "document_id", job.documentID, "error", err.Error())
		}
	}

	err := indexingFailed(job, stage, cause)
	if stderrors.Is(cause, context.Canceled) || stderrors.Is(cause, context.DeadlineExceeded) {
		logger.Warnw("indexing cancelled, rolled back",
			"store_id", job.storeID, "document_id", job.documentID, "stage", stage)
	} else {
		logger.Errorw("indexing failed",
			"store_id", job.storeID, "document_id", job.documentID, "stage", stage, "error", cause.Error())
	}
	return err
}

// dropPrevious 删除被替换的旧分块及其引用。
func (ix *Indexer) dropPrevious(ctx context.Context, job *indexJob, previous []*model.Chunk) error {
	if len(previous) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	ids := make([]string, len(previous))
	citationIDs := make([]string, len(previous))
	for i, c := range previous {
		ids[i] = c.ID
		citationIDs[i] = c.CitationID
	}
	ix.citations.Forget(citationIDs...)
	if _, err := ix.store.Delete(ctx, ids); err != nil {
		return indexingFailed(job, StageCleanup, err)
	}
	if err := ix.meta.DeleteCitations(ctx, citationIDs); err != nil {
		return indexingFailed(job, StageCleanup, err)
	}
	return nil
}

func (ix *Indexer) documentOf(job *indexJob, existing *model.Document, cfg model.ChunkingConfig, hash string, drafts []model.ChunkDraft, bytes int64) *model.Document {
	tokens := 0
	for _, d := range drafts {
		tokens += d.TokenCount - d.OverlapTokens
	}
	doc := &model.Document{
		ID:          job.documentID,
		StoreID:     job.storeID,
		Filename:    job.filename,
		ContentType: job.contentType,
		Content:     job.text,
		Hash:        hash,
		Chunking:    cfg,
		Metadata:    job.metadata,
		ChunkNum:    len(drafts),
		TokenNum:    tokens,
		Bytes:       bytes,
		Status:      model.DocumentIndexed,
	}
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
	}
	return doc
}

func (ix *Indexer) unchangedResult(doc *model.Document) *model.IndexResult {
	return &model.IndexResult{
		DocumentID:     doc.ID,
		StoreID:        doc.StoreID,
		Strategy:       ResolveStrategy(doc.Content, doc.Chunking.Strategy),
		ChunksCreated:  doc.ChunkNum,
		TotalTokens:    doc.TokenNum,
		BytesCommitted: doc.Bytes,
		QuotaWarning:   ix.quotaWarning(doc.StoreID),
		Unchanged:      true,
	}
}

func (ix *Indexer) quotaWarning(storeID string) string {
	status, err := ix.quota.Status(storeID)
	if err != nil || status.Level == model.QuotaOK {
		return ""
	}
	return fmt.Sprintf("store %s has used %.2f%% of its quota (%s)", storeID, status.PercentUsed, status.Level)
}

// docLocks 按文档加锁，只支持非阻塞获取。
type docLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newDocLocks() *docLocks {
	return &docLocks{held: make(map[string]struct{})}
}

func (l *docLocks) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *docLocks) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
