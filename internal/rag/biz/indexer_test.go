package biz

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const sampleText = "alpha beta gamma delta epsilon zeta eta theta iota kappa"

func indexReq(storeID, docID, text string) *model.IndexRequest {
	return &model.IndexRequest{StoreID: storeID, DocumentID: docID, Text: text, Chunking: smallChunks()}
}

func TestIndexDocument(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	req := indexReq("kb", "doc-1", sampleText)
	req.Filename = "greek.txt"
	req.Metadata = map[string]string{"lang": "el"}

	res, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Equal(t, model.StrategyWhitespace, res.Strategy)
	assert.Greater(t, res.ChunksCreated, 1)
	assert.Equal(t, 10, res.TotalTokens)

	// 首次使用时自动创建知识库
	st, err := f.catalog.Get(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultQuotaBytes, st.QuotaBytes)

	// 提交的字节数按实际覆盖的文本计算
	assert.Equal(t, f.catalog.Quota().EstimateBytes(len(sampleText)), res.BytesCommitted)
	assert.Equal(t, res.BytesCommitted, f.catalog.Quota().Consumed("kb"))

	count, err := f.vectors.Count(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, res.ChunksCreated, count)

	chunks, err := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "greek.txt", c.Metadata["filename"])
		assert.Equal(t, "el", c.Metadata["lang"])
		if i == 0 {
			assert.Empty(t, c.PredecessorCitationID)
		} else {
			assert.Equal(t, chunks[i-1].CitationID, c.PredecessorCitationID)
		}

		ref, err := f.citations.Resolve(ctx, c.CitationID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, ref.ChunkID)
	}

	doc, err := f.meta.GetDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentIndexed, doc.Status)
	assert.Equal(t, res.ChunksCreated, doc.ChunkNum)
	assert.Equal(t, sampleText, doc.Content)
}

func TestIndexDocumentValidation(t *testing.T) {
	f := newIndexerFixture(t, nil)
	ctx := context.Background()

	_, err := f.indexer.IndexDocument(ctx, indexReq("", "doc", "text"))
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", " ", "text"))
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", "doc", " \n\t"))
	assert.True(t, errors.IsCode(err, errors.ErrRAGEmptyDocument.Code))

	req := indexReq("kb", "doc", sampleText)
	req.Chunking = &model.ChunkingConfig{Strategy: model.StrategyFixed, MaxTokens: 4, MaxOverlap: 4}
	_, err = f.indexer.IndexDocument(ctx, req)
	assert.True(t, errors.IsCode(err, errors.ErrChunkConfigInvalid.Code))

	// 校验失败不应留下任何分块或用量
	count, _ := f.vectors.Count(ctx, "")
	assert.Zero(t, count)
	assert.Zero(t, f.catalog.Quota().Consumed("kb"))
}

func TestIndexDocumentReplacesPreviousChunks(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	first, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)
	old, err := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)

	second, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", "one two three"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.ChunksCreated)
	assert.Less(t, second.BytesCommitted, first.BytesCommitted)

	current, err := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "one two three", current[0].Text)

	// 旧引用随旧分块失效，配额只计当前版本
	for _, c := range old {
		_, err := f.citations.Resolve(ctx, c.CitationID)
		assert.True(t, errors.IsCode(err, errors.ErrCitationNotFound.Code))
	}
	assert.Equal(t, second.BytesCommitted, f.catalog.Quota().Consumed("kb"))
}

func TestIndexDocumentUnchanged(t *testing.T) {
	ctx := context.Background()
	embedder := newScriptedEmbedder()
	f := newIndexerFixture(t, embedder)

	first, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)
	before, _ := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	calls := embedder.calls.Load()

	again, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, first.ChunksCreated, again.ChunksCreated)
	assert.Equal(t, first.BytesCommitted, again.BytesCommitted)
	assert.Equal(t, calls, embedder.calls.Load(), "unchanged input must not be re-embedded")

	after, _ := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	first, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)

	// 未指定配置时沿用文档记录的配置，内容相同即为未变化
	res, err := f.indexer.Reindex(ctx, &model.ReindexRequest{StoreID: "kb", DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.True(t, res.Unchanged)

	res, err = f.indexer.Reindex(ctx, &model.ReindexRequest{StoreID: "kb", DocumentID: "doc-1", Force: true})
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Equal(t, first.ChunksCreated, res.ChunksCreated)

	bigger := &model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 100, MaxOverlap: 0}
	res, err = f.indexer.Reindex(ctx, &model.ReindexRequest{StoreID: "kb", DocumentID: "doc-1", Chunking: bigger})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	count, _ := f.vectors.Count(ctx, "kb")
	assert.Equal(t, 1, count)

	_, err = f.indexer.Reindex(ctx, &model.ReindexRequest{StoreID: "kb", DocumentID: "missing"})
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))
}

func TestReindexStore(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	_, err := f.catalog.Create(ctx, &model.Store{ID: "kb",
		Chunking: model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 100, MaxOverlap: 10}})
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.indexer.IndexDocument(ctx, indexReq("kb", id, sampleText+" "+id))
		require.NoError(t, err)
	}
	before, _ := f.vectors.Count(ctx, "kb")

	res, err := f.indexer.ReindexStore(ctx, "kb", ReindexStoreOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Reindexed)
	assert.Zero(t, res.Failed)

	// 使用知识库配置后每个文档只剩一个分块
	after, _ := f.vectors.Count(ctx, "kb")
	assert.Greater(t, before, after)
	assert.Equal(t, 3, after)

	res, err = f.indexer.ReindexStore(ctx, "kb", ReindexStoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Unchanged)

	res, err = f.indexer.ReindexStore(ctx, "kb", ReindexStoreOptions{ClearExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reindexed)

	_, err = f.indexer.ReindexStore(ctx, "missing", ReindexStoreOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrStoreNotFound.Code))
}

func TestIndexDocumentQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	_, err := f.catalog.Create(ctx, &model.Store{ID: "kb", QuotaBytes: 100})
	require.NoError(t, err)

	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	var qe *QuotaError
	require.True(t, stderrors.As(err, &qe))
	assert.Equal(t, int64(100), qe.Remaining)
	assert.True(t, errors.IsCode(err, errors.ErrQuotaExceeded.Code))

	count, _ := f.vectors.Count(ctx, "kb")
	assert.Zero(t, count)
	status, err := f.catalog.Quota().Status("kb")
	require.NoError(t, err)
	assert.Zero(t, status.ConsumedBytes)
	assert.Zero(t, status.ReservedBytes)
}

func TestIndexDocumentEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	embedder := newScriptedEmbedder()
	embedder.failAt = 2
	embedder.err = stderrors.New("upstream unavailable")
	f := newIndexerFixture(t, embedder)

	_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	var ie *IndexingError
	require.True(t, stderrors.As(err, &ie))
	assert.Equal(t, StageEmbed, ie.Stage)
	assert.True(t, stderrors.Is(err, errors.ErrIndexingFailed))
	assert.True(t, stderrors.Is(err, errors.ErrEmbeddingService))

	count, _ := f.vectors.Count(ctx, "kb")
	assert.Zero(t, count)
	assert.Zero(t, f.catalog.Quota().Consumed("kb"))

	doc, err := f.meta.GetDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, doc.Status)
	assert.Contains(t, doc.Error, "upstream unavailable")
}

func TestIndexDocumentFailureKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	embedder := newScriptedEmbedder()
	f := newIndexerFixture(t, embedder)

	first, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)

	embedder.failAt = embedder.calls.Load() + 1
	embedder.err = stderrors.New("boom")
	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", "completely different words here"))
	require.Error(t, err)

	chunks, _ := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	assert.Len(t, chunks, first.ChunksCreated)
	assert.Equal(t, first.BytesCommitted, f.catalog.Quota().Consumed("kb"))

	doc, err := f.meta.GetDocument(ctx, "kb", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentIndexed, doc.Status)
	assert.Equal(t, sampleText, doc.Content)
}

// cancelOnInsert 在写入成功后取消上下文，模拟写入与提交之间的取消。
type cancelOnInsert struct {
	*store.MemoryStore
	cancel context.CancelFunc
}

func (s *cancelOnInsert) Insert(ctx context.Context, chunks []*model.Chunk) error {
	if err := s.MemoryStore.Insert(ctx, chunks); err != nil {
		return err
	}
	s.cancel()
	return nil
}

func TestIndexDocumentCancellationRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newIndexerFixture(t, nil)
	vectors := &cancelOnInsert{MemoryStore: f.vectors, cancel: cancel}
	ix := NewIndexer(f.catalog, vectors, f.meta, newScriptedEmbedder(), f.citations, IndexerConfig{})

	_, err := ix.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))

	count, _ := f.vectors.Count(context.Background(), "kb")
	assert.Zero(t, count, "inserted chunks must be removed")

	status, err := f.catalog.Quota().Status("kb")
	require.NoError(t, err)
	assert.Zero(t, status.ConsumedBytes)
	assert.Zero(t, status.ReservedBytes)
	assert.Zero(t, f.citations.Len())
}

func TestIndexDocumentCancelledDuringEmbedding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := newScriptedEmbedder()
	embedder.onEmbed = func(call int32) {
		if call == 2 {
			cancel()
		}
	}
	f := newIndexerFixture(t, embedder)

	_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))

	count, _ := f.vectors.Count(context.Background(), "kb")
	assert.Zero(t, count)
	assert.Zero(t, f.catalog.Quota().Consumed("kb"))
}

func TestIndexDocumentConcurrentSameDocument(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	embedder := newScriptedEmbedder()
	embedder.onEmbed = func(call int32) {
		if call == 1 {
			close(entered)
			<-release
		}
	}
	f := newIndexerFixture(t, embedder)

	done := make(chan error, 1)
	go func() {
		_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
		done <- err
	}()
	<-entered

	_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	assert.True(t, errors.IsCode(err, errors.ErrReindexInProgress.Code))
	err = f.indexer.DeleteDocument(ctx, "kb", "doc-1")
	assert.True(t, errors.IsCode(err, errors.ErrReindexInProgress.Code))

	close(release)
	require.NoError(t, <-done)

	// 锁释放后可以再次索引
	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", strings.ToUpper(sampleText)))
	assert.NoError(t, err)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)
	_, err = f.indexer.IndexDocument(ctx, indexReq("kb", "doc-2", "other text"))
	require.NoError(t, err)
	chunks, _ := f.vectors.ListByDocument(ctx, "kb", "doc-1")

	require.NoError(t, f.indexer.DeleteDocument(ctx, "kb", "doc-1"))

	remaining, _ := f.vectors.ListByDocument(ctx, "kb", "doc-1")
	assert.Empty(t, remaining)
	count, _ := f.vectors.Count(ctx, "kb")
	assert.Equal(t, 1, count)
	assert.Equal(t, f.catalog.Quota().EstimateBytes(len("other text")), f.catalog.Quota().Consumed("kb"))

	for _, c := range chunks {
		_, err := f.citations.Resolve(ctx, c.CitationID)
		assert.True(t, errors.IsCode(err, errors.ErrCitationNotFound.Code))
	}

	err = f.indexer.DeleteDocument(ctx, "kb", "doc-1")
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))
}

func TestDeleteStore(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, nil)

	_, err := f.indexer.IndexDocument(ctx, indexReq("kb", "doc-1", sampleText))
	require.NoError(t, err)
	_, err = f.indexer.IndexDocument(ctx, indexReq("other", "doc-1", sampleText))
	require.NoError(t, err)

	require.NoError(t, f.indexer.DeleteStore(ctx, "kb"))

	count, _ := f.vectors.Count(ctx, "kb")
	assert.Zero(t, count)
	count, _ = f.vectors.Count(ctx, "other")
	assert.NotZero(t, count)
	assert.False(t, f.catalog.Quota().Has("kb"))

	_, err = f.catalog.Get(ctx, "kb")
	assert.True(t, errors.IsCode(err, errors.ErrStoreNotFound.Code))
	assert.True(t, errors.IsCode(f.indexer.DeleteStore(ctx, "kb"), errors.ErrStoreNotFound.Code))
}
