package model

import (
	"time"
)

// DocumentStatus 文档索引状态。
type DocumentStatus string

const (
	DocumentPending DocumentStatus = "pending"
	DocumentIndexed DocumentStatus = "indexed"
	DocumentFailed  DocumentStatus = "failed"
)

// Document represents a document in a store.
// Content is kept so that a store can be re-chunked without re-uploading.
type Document struct {
	ID          string            `json:"id" gorm:"primaryKey;type:varchar(64)"`
	StoreID     string            `json:"store_id" gorm:"primaryKey;type:varchar(64);index"`
	Filename    string            `json:"filename,omitempty" gorm:"type:varchar(512)"`
	ContentType string            `json:"content_type,omitempty" gorm:"type:varchar(128)"`
	Content     string            `json:"-"`
	Hash        string            `json:"hash" gorm:"type:varchar(64);index"`
	Chunking    ChunkingConfig    `json:"chunking" gorm:"embedded;embeddedPrefix:chunk_"`
	Metadata    map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	ChunkNum    int               `json:"chunk_num" gorm:"default:0"`
	TokenNum    int               `json:"token_num" gorm:"default:0"`
	Bytes       int64             `json:"bytes" gorm:"default:0"`
	Status      DocumentStatus    `json:"status" gorm:"type:varchar(32);default:'pending'"`
	Error       string            `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Citation maps a citation id to the location of its chunk.
// It is a lookup row, the chunk itself lives in the vector store.
type Citation struct {
	CitationID string    `json:"citation_id" gorm:"primaryKey;type:varchar(64)"`
	ChunkID    string    `json:"chunk_id" gorm:"type:varchar(64);not null"`
	StoreID    string    `json:"store_id" gorm:"type:varchar(64);index:idx_citation_owner"`
	DocumentID string    `json:"document_id" gorm:"type:varchar(64);index:idx_citation_owner"`
	Ordinal    int       `json:"chunk_ordinal"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Citation.
func (Citation) TableName() string {
	return "rag_citations"
}

// IndexRequest 索引请求，Chunking 为本次调用的可选覆盖配置。
type IndexRequest struct {
	DocumentID  string            `json:"document_id" binding:"required,resourceid"`
	StoreID     string            `json:"store_id" binding:"required,resourceid"`
	Text        string            `json:"text"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Chunking    *ChunkingConfig   `json:"chunking,omitempty"`
}

// ReindexRequest 重建单个文档的索引。Text 为空时使用已保存的原文，
// Chunking 为空时沿用文档上次索引时的配置。Force 跳过内容未变化的短路判断。
type ReindexRequest struct {
	StoreID    string          `json:"store_id" binding:"omitempty,resourceid"`
	DocumentID string          `json:"document_id"`
	Text       string          `json:"text,omitempty"`
	Chunking   *ChunkingConfig `json:"chunking,omitempty"`
	Force      bool            `json:"force,omitempty"`
}

// IndexResult 索引结果。
type IndexResult struct {
	DocumentID     string           `json:"document_id"`
	StoreID        string           `json:"store_id"`
	Strategy       ChunkingStrategy `json:"strategy"`
	ChunksCreated  int              `json:"chunks_created"`
	TotalTokens    int              `json:"total_tokens"`
	BytesCommitted int64            `json:"bytes_committed"`
	QuotaWarning   string           `json:"quota_warning,omitempty"`
	Unchanged      bool             `json:"unchanged,omitempty"`
}
