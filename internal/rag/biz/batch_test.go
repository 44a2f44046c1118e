package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func newTestBatchRunner(t *testing.T, index IndexFunc) *BatchRunner {
	t.Helper()
	r, err := NewBatchRunner(index, newTestMeta(t), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitBatch(t *testing.T, r *BatchRunner, id string) *model.UploadBatch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return b
}

func TestBatchRunnerCompletes(t *testing.T) {
	var indexed atomic.Int32
	r := newTestBatchRunner(t, func(_ context.Context, req *model.IndexRequest) (*model.IndexResult, error) {
		indexed.Add(1)
		if req.DocumentID == "bad" {
			return nil, stderrors.New("embedding unavailable")
		}
		return &model.IndexResult{DocumentID: req.DocumentID, StoreID: req.StoreID, ChunksCreated: 2}, nil
	})

	docs := []*model.IndexRequest{
		{DocumentID: "a", Text: "x"},
		{DocumentID: "bad", Text: "y"},
		{DocumentID: "c", Text: "z", StoreID: "kb"},
	}
	batch, err := r.Submit(context.Background(), "kb", docs)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Total)
	assert.NotEmpty(t, batch.ID)

	done := waitBatch(t, r, batch.ID)
	assert.Equal(t, int32(3), indexed.Load())
	assert.Equal(t, model.BatchCompleted, done.Status)
	assert.Equal(t, 2, done.Processed)
	assert.Equal(t, 1, done.Failed)
	assert.NotNil(t, done.CompletedAt)
	assert.Len(t, done.Items, 3)
	assert.Equal(t, float64(100), done.Progress())

	for _, item := range done.Items {
		if item.DocumentID == "bad" {
			assert.Equal(t, string(model.DocumentFailed), item.Status)
			assert.Contains(t, item.Error, "embedding unavailable")
		} else {
			assert.Equal(t, 2, item.ChunksCreated)
		}
	}

	// 进程内状态丢弃后从元数据读取
	r.Forget(batch.ID)
	persisted, err := r.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, persisted.Status)
	assert.Equal(t, 2, persisted.Processed)
}

func TestBatchRunnerAllFailed(t *testing.T) {
	r := newTestBatchRunner(t, func(context.Context, *model.IndexRequest) (*model.IndexResult, error) {
		return nil, errors.ErrQuotaExceeded
	})
	batch, err := r.Submit(context.Background(), "kb", []*model.IndexRequest{{DocumentID: "a"}, {DocumentID: "b"}})
	require.NoError(t, err)

	done := waitBatch(t, r, batch.ID)
	assert.Equal(t, model.BatchFailed, done.Status)
	assert.Equal(t, 2, done.Failed)
}

func TestBatchRunnerRecoversPanics(t *testing.T) {
	r := newTestBatchRunner(t, func(context.Context, *model.IndexRequest) (*model.IndexResult, error) {
		panic("boom")
	})
	batch, err := r.Submit(context.Background(), "kb", []*model.IndexRequest{{DocumentID: "a"}})
	require.NoError(t, err)

	done := waitBatch(t, r, batch.ID)
	assert.Equal(t, 1, done.Failed)
	assert.Contains(t, done.Items[0].Error, "panic")
}

func TestBatchRunnerValidation(t *testing.T) {
	r := newTestBatchRunner(t, func(context.Context, *model.IndexRequest) (*model.IndexResult, error) {
		return &model.IndexResult{}, nil
	})
	ctx := context.Background()

	_, err := r.Submit(ctx, "", []*model.IndexRequest{{DocumentID: "a"}})
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	_, err = r.Submit(ctx, "kb", nil)
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	_, err = r.Submit(ctx, "kb", []*model.IndexRequest{{DocumentID: "a", StoreID: "other"}})
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	tooMany := make([]*model.IndexRequest, MaxBatchDocuments+1)
	for i := range tooMany {
		tooMany[i] = &model.IndexRequest{DocumentID: fmt.Sprintf("d%d", i)}
	}
	_, err = r.Submit(ctx, "kb", tooMany)
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))

	_, err = r.Get(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrBatchNotFound.Code))
}

func TestBatchRunnerCloseCancelsIndexing(t *testing.T) {
	started := make(chan struct{})
	r := newTestBatchRunner(t, func(ctx context.Context, _ *model.IndexRequest) (*model.IndexResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	batch, err := r.Submit(context.Background(), "kb", []*model.IndexRequest{{DocumentID: "a"}})
	require.NoError(t, err)

	<-started
	require.NoError(t, r.Close())

	done, err := r.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Failed)
	assert.Contains(t, done.Items[0].Error, context.Canceled.Error())
}
