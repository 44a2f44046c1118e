package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// DefaultBatchConcurrency 批量上传时同时索引的文档数。
const DefaultBatchConcurrency = 4

// MaxBatchDocuments 单个批次的文档数上限。
const MaxBatchDocuments = 1000

// IndexFunc 索引单个文档。
type IndexFunc func(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error)

// BatchRunner 在工作池上并发索引一组文档，并维护批次的聚合进度。
// 批次只记录各文档的结果，分块的写入与删除全部由 index 完成。
type BatchRunner struct {
	index   IndexFunc
	meta    *store.MetaRepository
	workers *pool.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	batches map[string]*batchState
	now     func() time.Time
}

type batchState struct {
	batch *model.UploadBatch
	done  chan struct{}
	// persist 保证进度快照按记录顺序写入
	persist sync.Mutex
}

// NewBatchRunner 创建批量索引器，concurrency <= 0 时使用 DefaultBatchConcurrency。
func NewBatchRunner(index IndexFunc, meta *store.MetaRepository, concurrency int) (*BatchRunner, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	workers, err := pool.New("rag-batch", pool.BlockingConfig(concurrency))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BatchRunner{
		index:   index,
		meta:    meta,
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		batches: make(map[string]*batchState),
		now:     time.Now,
	}, nil
}

// Submit 登记批次并在后台索引其中的文档，立即返回处于 processing 状态的批次。
// 批次的生命周期独立于调用方的 ctx，只在 Close 时取消。
func (r *BatchRunner) Submit(ctx context.Context, storeID string, docs []*model.IndexRequest) (*model.UploadBatch, error) {
	if storeID == "" {
		return nil, errors.ErrRAGInvalidRequest.WithMessage("store_id is required")
	}
	if len(docs) == 0 {
		return nil, errors.ErrRAGInvalidRequest.WithMessage("batch has no documents")
	}
	if len(docs) > MaxBatchDocuments {
		return nil, errors.ErrRAGInvalidRequest.WithMessagef("batch has %d documents, limit is %d", len(docs), MaxBatchDocuments)
	}
	for _, doc := range docs {
		if doc.StoreID == "" {
			doc.StoreID = storeID
		}
		if doc.StoreID != storeID {
			return nil, errors.ErrRAGInvalidRequest.WithMessagef("document %s targets store %s, batch is for %s", doc.DocumentID, doc.StoreID, storeID)
		}
	}

	batch := &model.UploadBatch{
		ID:        id.NewULID(),
		StoreID:   storeID,
		Total:     len(docs),
		Status:    model.BatchProcessing,
		Items:     []*model.BatchItem{},
		CreatedAt: r.now(),
	}
	if err := r.meta.SaveBatch(ctx, batch); err != nil {
		return nil, err
	}

	state := &batchState{batch: batch, done: make(chan struct{})}
	r.mu.Lock()
	r.batches[batch.ID] = state
	snapshot := snapshotOf(batch)
	r.mu.Unlock()

	logger.Infow("upload batch submitted", "batch_id", batch.ID, "store_id", storeID, "documents", len(docs))

	go r.dispatch(state, docs)
	return snapshot, nil
}

// dispatch 把文档逐个交给工作池，池满时阻塞等待空闲 worker。
// 已排队的文档在 Close 之后仍会执行，index 看到已取消的 r.ctx 后记为失败，批次因此总能结束。
func (r *BatchRunner) dispatch(state *batchState, docs []*model.IndexRequest) {
	for _, doc := range docs {
		doc := doc
		if err := r.workers.Submit(context.Background(), func() { r.run(state, doc) }); err != nil {
			r.record(state, &model.BatchItem{
				DocumentID: doc.DocumentID,
				Status:     string(model.DocumentFailed),
				Error:      fmt.Sprintf("not scheduled: %v", err),
			}, true)
		}
	}
}

func (r *BatchRunner) run(state *batchState, doc *model.IndexRequest) {
	item := &model.BatchItem{DocumentID: doc.DocumentID}
	failed := true
	defer func() {
		if p := recover(); p != nil {
			item.Status = string(model.DocumentFailed)
			item.Error = fmt.Sprintf("panic: %v", p)
			logger.Errorw("batch document panicked", "batch_id", state.batch.ID, "document_id", doc.DocumentID, "panic", p)
		}
		r.record(state, item, failed)
	}()

	res, err := r.index(r.ctx, doc)
	if err != nil {
		item.Status = string(model.DocumentFailed)
		item.Error = err.Error()
		return
	}
	item.Status = string(model.DocumentIndexed)
	item.ChunksCreated = res.ChunksCreated
	failed = false
}

func (r *BatchRunner) record(state *batchState, item *model.BatchItem, failed bool) {
	state.persist.Lock()
	defer state.persist.Unlock()

	r.mu.Lock()
	if state.batch.Done() {
		r.mu.Unlock()
		return
	}
	state.batch.Record(item, failed, r.now())
	done := state.batch.Done()
	snapshot := snapshotOf(state.batch)
	if done {
		close(state.done)
	}
	r.mu.Unlock()

	if err := r.meta.SaveBatch(context.WithoutCancel(r.ctx), snapshot); err != nil {
		logger.Warnw("failed to persist batch progress", "batch_id", snapshot.ID, "error", err.Error())
	}
	if done {
		logger.Infow("upload batch finished",
			"batch_id", snapshot.ID,
			"status", snapshot.Status,
			"processed", snapshot.Processed,
			"failed", snapshot.Failed,
		)
	}
}

// Get 返回批次进度，进程内没有时从元数据读取。
func (r *BatchRunner) Get(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	r.mu.Lock()
	state, ok := r.batches[batchID]
	var snapshot *model.UploadBatch
	if ok {
		snapshot = snapshotOf(state.batch)
	}
	r.mu.Unlock()

	if ok {
		return snapshot, nil
	}
	return r.meta.GetBatch(ctx, batchID)
}

// Wait 阻塞到批次完成或 ctx 结束。
func (r *BatchRunner) Wait(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	r.mu.Lock()
	state, ok := r.batches[batchID]
	r.mu.Unlock()
	if !ok {
		return r.meta.GetBatch(ctx, batchID)
	}

	select {
	case <-state.done:
		return r.Get(ctx, batchID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget 丢弃已完成批次的进程内状态。
func (r *BatchRunner) Forget(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.batches[batchID]; ok && state.batch.Done() {
		delete(r.batches, batchID)
	}
}

// Stats 返回工作池统计。
func (r *BatchRunner) Stats() pool.Stats {
	return r.workers.Stats()
}

// Close 取消进行中的索引并释放工作池。
func (r *BatchRunner) Close() error {
	r.cancel()
	return r.workers.Close(cleanupTimeout)
}

func snapshotOf(b *model.UploadBatch) *model.UploadBatch {
	c := *b
	c.Items = append([]*model.BatchItem(nil), b.Items...)
	return &c
}
