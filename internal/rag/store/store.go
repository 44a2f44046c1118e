package store

import (
	"context"
	"sort"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// VectorStore 定义向量存储接口。
// Search 必须先应用过滤条件再选取 top-k，相同分数按分块序号升序、再按写入顺序排列。
type VectorStore interface {
	// Insert 批量写入分块，写入时分配 Seq。
	Insert(ctx context.Context, chunks []*model.Chunk) error

	// Delete 按分块 ID 删除，返回实际删除数。
	Delete(ctx context.Context, ids []string) (int, error)

	// DeleteByDocument 删除文档的全部分块。
	DeleteByDocument(ctx context.Context, storeID, documentID string) (int, error)

	// DeleteByStore 删除知识库的全部分块。
	DeleteByStore(ctx context.Context, storeID string) (int, error)

	// Search 向量相似度检索。
	Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredChunk, error)

	// ListByDocument 按序号返回文档的分块。
	ListByDocument(ctx context.Context, storeID, documentID string) ([]*model.Chunk, error)

	// Count 统计知识库的分块数，storeID 为空时统计全部。
	Count(ctx context.Context, storeID string) (int, error)

	// Close 关闭存储。
	Close() error
}

// SortScored 按分数降序排序，分数相同按序号、写入顺序升序。
func SortScored(hits []model.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		return a.Chunk.Seq < b.Chunk.Seq
	})
}

func sortByOrdinal(chunks []*model.Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Ordinal != chunks[j].Ordinal {
			return chunks[i].Ordinal < chunks[j].Ordinal
		}
		return chunks[i].Seq < chunks[j].Seq
	})
}
