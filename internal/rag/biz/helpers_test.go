package biz

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/local"
)

const testDim = 64

func newTestMeta(t *testing.T) *store.MetaRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 共享缓存的内存库在并发写入时会返回 SQLITE_LOCKED
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := store.NewMetaRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

type indexerFixture struct {
	meta      *store.MetaRepository
	vectors   *store.MemoryStore
	catalog   *StoreCatalog
	citations *CitationTracker
	indexer   *Indexer
}

func newIndexerFixture(t *testing.T, embedder llm.EmbeddingProvider) *indexerFixture {
	t.Helper()
	if embedder == nil {
		embedder = local.New(testDim)
	}
	f := &indexerFixture{meta: newTestMeta(t), vectors: store.NewMemoryStore()}
	f.catalog = NewStoreCatalog(f.meta, NewQuotaTracker(0), CatalogConfig{})
	f.citations = NewCitationTracker(f.meta)
	f.indexer = NewIndexer(f.catalog, f.vectors, f.meta, embedder, f.citations, IndexerConfig{EmbedBatchSize: 2})
	return f
}

// smallChunks 让短文本也能切出多个分块。
func smallChunks() *model.ChunkingConfig {
	return &model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 4, MaxOverlap: 1}
}

// scriptedEmbedder 包装本地供应商，可以在指定调用时失败、阻塞或取消上下文。
type scriptedEmbedder struct {
	inner   *local.Provider
	calls   atomic.Int32
	failAt  int32
	err     error
	onEmbed func(call int32)
}

func newScriptedEmbedder() *scriptedEmbedder {
	return &scriptedEmbedder{inner: local.New(testDim)}
}

func (e *scriptedEmbedder) Name() string { return "scripted" }

func (e *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	call := e.calls.Add(1)
	if e.onEmbed != nil {
		e.onEmbed(call)
	}
	if e.failAt > 0 && call >= e.failAt {
		return nil, e.err
	}
	return e.inner.Embed(ctx, texts)
}

func (e *scriptedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// recordingChat 记录生成调用。
type recordingChat struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (c *recordingChat) Name() string { return "recording" }

func (c *recordingChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return c.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (c *recordingChat) Generate(_ context.Context, prompt string, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	return c.answer, c.err
}

func (c *recordingChat) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}
