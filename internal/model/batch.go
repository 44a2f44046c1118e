package model

import "time"

// BatchStatus 上传批次状态。
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// BatchItem 批次中单个文档的结果。
type BatchItem struct {
	DocumentID    string `json:"document_id"`
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created,omitempty"`
	Error         string `json:"error,omitempty"`
}

// UploadBatch 一组同时提交的文档的聚合进度。
// 只由各文档的结果推导，不持有也不修改分块。
type UploadBatch struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	StoreID     string       `json:"store_id" gorm:"type:varchar(64);index"`
	Total       int          `json:"total_files"`
	Processed   int          `json:"processed_files"`
	Failed      int          `json:"failed_files"`
	Status      BatchStatus  `json:"status" gorm:"type:varchar(32)"`
	Items       []*BatchItem `json:"items" gorm:"serializer:json"`
	CreatedAt   time.Time    `json:"created_at" gorm:"autoCreateTime"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// TableName specifies the table name for UploadBatch.
func (UploadBatch) TableName() string {
	return "rag_upload_batches"
}

// Done 所有文档都有结果时批次结束。
func (b *UploadBatch) Done() bool {
	return b.Processed+b.Failed >= b.Total
}

// Progress 返回 [0, 100] 的完成百分比。
func (b *UploadBatch) Progress() float64 {
	if b.Total == 0 {
		return 100
	}
	return float64(b.Processed+b.Failed) / float64(b.Total) * 100
}

// Record 记录一个文档的结果并在全部完成时更新状态。
func (b *UploadBatch) Record(item *BatchItem, failed bool, now time.Time) {
	b.Items = append(b.Items, item)
	if failed {
		b.Failed++
	} else {
		b.Processed++
	}
	if !b.Done() {
		return
	}
	b.Status = BatchCompleted
	if b.Processed == 0 && b.Failed > 0 {
		b.Status = BatchFailed
	}
	b.CompletedAt = &now
}
