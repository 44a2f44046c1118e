package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm/local"
)

func newTestService(t *testing.T, chat *recordingChat) *RAGService {
	t.Helper()
	cfg := &ServiceConfig{
		Assembler: DefaultAssemblerConfig(),
		Metrics:   metrics.New(),
	}
	var svc *RAGService
	var err error
	if chat == nil {
		svc, err = NewRAGService(store.NewMemoryStore(), newTestMeta(t), local.New(testDim), local.New(testDim), nil, cfg)
	} else {
		svc, err = NewRAGService(store.NewMemoryStore(), newTestMeta(t), local.New(testDim), chat, nil, cfg)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestServiceIndexAndQuery(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.CreateStore(ctx, &model.Store{ID: "kb"})
	require.NoError(t, err)

	for id, text := range map[string]string{
		"go":   "Goroutines are lightweight threads managed by the Go runtime.",
		"bake": "Sourdough bread needs a long fermentation before baking.",
	} {
		res, err := svc.Index(ctx, &model.IndexRequest{StoreID: "kb", DocumentID: id, Text: text})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunksCreated)
	}

	resp, err := svc.Query(ctx, &model.QueryRequest{Question: "What are goroutines?", StoreIDs: []string{"kb"}, MaxSources: 1})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "go", resp.Sources[0].DocumentID)
	assert.True(t, resp.Grounded)
	assert.Greater(t, resp.Confidence, 0.5)
	assert.Contains(t, resp.Answer, "Goroutines")

	ref, err := svc.ResolveCitation(ctx, resp.Sources[0].CitationID)
	require.NoError(t, err)
	assert.Equal(t, "go", ref.DocumentID)

	stats := svc.Metrics().Stats()
	assert.Equal(t, uint64(2), stats.Indexing.Documents)
	assert.Equal(t, uint64(1), stats.Queries.Total)
	assert.Equal(t, uint64(1), stats.Generation.Total)
}

func TestServiceQueryWithoutHitsSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	chat := &recordingChat{answer: "invented"}
	svc := newTestService(t, chat)

	_, err := svc.Index(ctx, &model.IndexRequest{StoreID: "kb", DocumentID: "d", Text: "some text"})
	require.NoError(t, err)

	resp, err := svc.Query(ctx, &model.QueryRequest{Question: "anything", StoreIDs: []string{"empty"}})
	require.NoError(t, err)
	assert.Zero(t, chat.calls())
	assert.False(t, resp.Grounded)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, NoGroundedAnswer, resp.Answer)

	stats := svc.Metrics().Stats()
	assert.Equal(t, uint64(1), stats.Queries.Ungrounded)
	assert.Zero(t, stats.Generation.Total)
	assert.Equal(t, uint64(1), stats.Search.Empty)
}

func TestServiceQuotaStatuses(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.CreateStore(ctx, &model.Store{ID: "small", QuotaBytes: 1000})
	require.NoError(t, err)
	_, err = svc.CreateStore(ctx, &model.Store{ID: "big"})
	require.NoError(t, err)

	// 300 字节原文按 3 倍估算占用 900 字节，达到 90% 的 CRITICAL 等级
	text := ""
	for len(text) < 300 {
		text += "word "
	}
	text = text[:299] + "x"
	res, err := svc.Index(ctx, &model.IndexRequest{StoreID: "small", DocumentID: "d", Text: text})
	require.NoError(t, err)
	assert.NotEmpty(t, res.QuotaWarning)

	status, err := svc.QuotaStatus(ctx, "small")
	require.NoError(t, err)
	assert.Equal(t, int64(900), status.ConsumedBytes)
	assert.Equal(t, model.QuotaCritical, status.Level)

	statuses, err := svc.QuotaStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "big", statuses[0].StoreID)
	assert.Equal(t, "small", statuses[1].StoreID)

	_, err = svc.Index(ctx, &model.IndexRequest{StoreID: "small", DocumentID: "e", Text: "another document that will not fit in the remaining quota"})
	require.Error(t, err)
	assert.Equal(t, uint64(1), svc.Metrics().Stats().Indexing.QuotaRejections)

	st, err := svc.GetStore(ctx, "small")
	require.NoError(t, err)
	assert.Equal(t, int64(900), st.ConsumedBytes)
	assert.Equal(t, 1, st.DocumentCount)
}

func TestServiceBatchAndDocuments(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	batch, err := svc.IndexBatch(ctx, "kb", []*model.IndexRequest{
		{DocumentID: "a", Text: "first document"},
		{DocumentID: "b", Text: "second document"},
		{DocumentID: "c", Text: "   "},
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := svc.WaitBatch(waitCtx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, done.Processed)
	assert.Equal(t, 1, done.Failed)

	docs, err := svc.ListDocuments(ctx, "kb", 0, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, svc.DeleteDocument(ctx, "kb", "a"))
	docs, err = svc.ListDocuments(ctx, "kb", 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.Equal(t, local.ProviderName, stats.EmbedProvider)
	assert.Equal(t, int64(3), stats.BatchPool.SubmittedTasks)

	require.NoError(t, svc.DeleteStore(ctx, "kb"))
	_, err = svc.GetStore(ctx, "kb")
	assert.Error(t, err)
}

func TestServiceReindexStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	_, err := svc.Index(ctx, &model.IndexRequest{StoreID: "kb", DocumentID: "a", Text: "alpha beta", Chunking: smallChunks()})
	require.NoError(t, err)

	res, err := svc.ReindexStore(ctx, "kb", ReindexStoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reindexed)

	again, err := svc.Reindex(ctx, &model.ReindexRequest{StoreID: "kb", DocumentID: "a"})
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
}
