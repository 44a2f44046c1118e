package biz

import (
	"fmt"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// 索引流程的阶段，出现在 IndexingError 中用于定位失败位置。
const (
	StageChunk   = "chunk"
	StageReserve = "reserve"
	StageEmbed   = "embed"
	StageInsert  = "insert"
	StageCommit  = "commit"
	StagePersist = "persist"
	StageCleanup = "cleanup"
)

// QuotaError 配额预留被拒绝。
type QuotaError struct {
	StoreID   string
	Requested int64
	Remaining int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for store %s: requested %d bytes, %d remaining", e.StoreID, e.Requested, e.Remaining)
}

// Errno implements errors.Coder.
func (e *QuotaError) Errno() *errors.Errno {
	return errors.ErrQuotaExceeded.WithMessage(e.Error())
}

// Is 使 errors.Is(err, errors.ErrQuotaExceeded) 成立。
func (e *QuotaError) Is(target error) bool {
	t, ok := target.(*errors.Errno)
	return ok && t.Code == errors.ErrQuotaExceeded.Code
}

// IndexingError 文档索引的终态失败，携带足够的上下文用于排查。
type IndexingError struct {
	DocumentID string
	StoreID    string
	Stage      string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing document %s in store %s failed at %s: %v", e.DocumentID, e.StoreID, e.Stage, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}

// Errno implements errors.Coder.
func (e *IndexingError) Errno() *errors.Errno {
	return errors.ErrIndexingFailed.WithMessage(e.Error()).WithCause(e.Err)
}

// Is 使 errors.Is(err, errors.ErrIndexingFailed) 成立。
func (e *IndexingError) Is(target error) bool {
	t, ok := target.(*errors.Errno)
	return ok && t.Code == errors.ErrIndexingFailed.Code
}

func indexingFailed(req *indexJob, stage string, err error) error {
	return &IndexingError{DocumentID: req.documentID, StoreID: req.storeID, Stage: stage, Err: err}
}
