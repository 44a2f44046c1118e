package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm/local"
)

func newTestService(t *testing.T, suffix ...string) *biz.RAGService {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + strings.Join(suffix, "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	meta := store.NewMetaRepository(db)
	require.NoError(t, meta.AutoMigrate())

	svc, err := biz.NewRAGService(store.NewMemoryStore(), meta, local.New(64), local.New(64), nil, &biz.ServiceConfig{
		Assembler: biz.DefaultAssemblerConfig(),
		Metrics:   metrics.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestIndexAndQueryCommands(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.md"), []byte("# Go\n\nChannels connect concurrent goroutines."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bread.txt"), []byte("Sourdough needs a long fermentation."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	var out bytes.Buffer
	idx := &indexOptions{store: "kb", metadata: map[string]string{"team": "docs"}}
	require.NoError(t, idx.run(ctx, &out, svc, []string{dir}))
	assert.Contains(t, out.String(), `2 documents indexed into "kb"`)
	assert.Contains(t, out.String(), "quota:")

	out.Reset()
	q := &queryOptions{stores: []string{"kb"}, maxSources: 1}
	require.NoError(t, q.run(ctx, &out, svc, "How do goroutines communicate?"))
	assert.Contains(t, out.String(), "Channels")
	assert.Contains(t, out.String(), "grounded: true")

	out.Reset()
	q = &queryOptions{stores: []string{"kb"}, searchOnly: true}
	require.NoError(t, q.run(ctx, &out, svc, "sourdough"))
	assert.Contains(t, out.String(), "[1]")

	out.Reset()
	q = &queryOptions{stores: []string{"missing"}, asJSON: true}
	require.NoError(t, q.run(ctx, &out, svc, "anything"))
	assert.Contains(t, out.String(), `"grounded":false`)
}

func TestIndexCommandRejectsEmptyInput(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{1, 2, 3}, 0o644))

	idx := &indexOptions{store: "kb"}
	err := idx.run(context.Background(), &bytes.Buffer{}, svc, []string{dir})
	assert.ErrorContains(t, err, "no indexable documents")
}

func TestQuotaCommand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateStore(ctx, &model.Store{ID: "roomy", QuotaBytes: 1 << 30})
	require.NoError(t, err)
	_, err = svc.CreateStore(ctx, &model.Store{ID: "tight", QuotaBytes: 2000})
	require.NoError(t, err)
	_, err = svc.Index(ctx, &model.IndexRequest{StoreID: "tight", DocumentID: "d", Text: strings.Repeat("word ", 100)})
	require.NoError(t, err)

	status, err := svc.QuotaStatus(ctx, "tight")
	require.NoError(t, err)
	require.NotEqual(t, model.QuotaOK, status.Level)

	var out bytes.Buffer
	require.NoError(t, (&quotaOptions{}).run(ctx, &out, svc))
	assert.Contains(t, out.String(), "roomy")
	assert.Contains(t, out.String(), "tight")

	out.Reset()
	require.NoError(t, (&quotaOptions{warnOnly: true}).run(ctx, &out, svc))
	assert.NotContains(t, out.String(), "roomy")
	assert.Contains(t, out.String(), "tight")

	err = (&quotaOptions{failOn: string(model.QuotaWarning)}).run(ctx, &bytes.Buffer{}, svc)
	assert.ErrorContains(t, err, "tight")
}

func TestReindexCommand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Index(ctx, &model.IndexRequest{StoreID: "kb", DocumentID: "a", Text: "alpha text"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&reindexOptions{store: "kb", document: "a"}).run(ctx, &out, svc))
	assert.Contains(t, out.String(), "a unchanged")

	out.Reset()
	require.NoError(t, (&reindexOptions{store: "kb", clearExisting: true, batchSize: 10}).run(ctx, &out, svc))
	assert.Contains(t, out.String(), "1 reindexed")
}

func TestStoresExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestService(t, "src")
	_, err := src.CreateStore(ctx, &model.Store{
		ID:         "handbook",
		Name:       "Handbook",
		QuotaBytes: 4 << 20,
		Chunking:   model.ChunkingConfig{Strategy: model.StrategySemantic, MaxTokens: 256, MaxOverlap: 32},
	})
	require.NoError(t, err)

	var manifest bytes.Buffer
	require.NoError(t, exportStores(ctx, &manifest, src))
	assert.Contains(t, manifest.String(), "id: handbook")
	assert.Contains(t, manifest.String(), "max_tokens_per_chunk: 256")

	dst := newTestService(t, "dst")
	raw := manifest.String()
	var out bytes.Buffer
	require.NoError(t, importStores(ctx, strings.NewReader(raw), &out, dst, false))
	assert.Contains(t, out.String(), "1 created")

	st, err := dst.GetStore(ctx, "handbook")
	require.NoError(t, err)
	assert.Equal(t, model.StrategySemantic, st.Chunking.Strategy)
	assert.Equal(t, int64(4<<20), st.QuotaBytes)

	out.Reset()
	bigger := strings.Replace(raw, "quota_bytes: 4194304", "quota_bytes: 8388608", 1)
	require.NoError(t, importStores(ctx, strings.NewReader(bigger), &out, dst, true))
	assert.Contains(t, out.String(), "1 updated")

	st, err = dst.GetStore(ctx, "handbook")
	require.NoError(t, err)
	assert.Equal(t, int64(8<<20), st.QuotaBytes)
}
