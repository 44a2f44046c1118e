package store

import (
	"context"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
)

// MemoryStore 进程内向量存储，精确暴力余弦检索。
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]*model.Chunk
	owners map[string]map[string]struct{}
	seq    uint64
	dim    int
}

// NewMemoryStore 创建内存向量存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]*model.Chunk),
		owners: make(map[string]map[string]struct{}),
	}
}

func ownerKey(storeID, documentID string) string {
	return storeID + "\x00" + documentID
}

// Insert 写入分块副本，未设置 Seq 的分块按写入顺序分配。
// 同一批次内向量维度必须一致。
func (s *MemoryStore) Insert(ctx context.Context, chunks []*model.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBatch(chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		s.insertLocked(c)
	}
	return nil
}

// checkBatch 校验分块标识与向量维度，空存储以批次中第一个向量的维度为准。
func (s *MemoryStore) checkBatch(chunks []*model.Chunk) error {
	dim := s.dim
	for _, c := range chunks {
		if c.ID == "" {
			return errInvalidChunk("chunk id is empty")
		}
		if len(c.Embedding) == 0 {
			return errInvalidChunk("chunk %s has no embedding", c.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return errInvalidChunk("chunk %s has dimension %d, store expects %d", c.ID, len(c.Embedding), dim)
		}
	}
	return nil
}

func (s *MemoryStore) insertLocked(c *model.Chunk) {
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	if cp.Seq == 0 {
		s.seq++
		cp.Seq = s.seq
	} else if cp.Seq > s.seq {
		s.seq = cp.Seq
	}
	c.Seq = cp.Seq

	if old, ok := s.chunks[cp.ID]; ok {
		s.unlinkLocked(old)
	}
	s.chunks[cp.ID] = &cp

	key := ownerKey(cp.StoreID, cp.DocumentID)
	if s.owners[key] == nil {
		s.owners[key] = make(map[string]struct{})
	}
	s.owners[key][cp.ID] = struct{}{}
	if s.dim == 0 {
		s.dim = len(cp.Embedding)
	}
}

func (s *MemoryStore) unlinkLocked(c *model.Chunk) {
	key := ownerKey(c.StoreID, c.DocumentID)
	if ids, ok := s.owners[key]; ok {
		delete(ids, c.ID)
		if len(ids) == 0 {
			delete(s.owners, key)
		}
	}
	delete(s.chunks, c.ID)
	if len(s.chunks) == 0 {
		s.dim = 0
	}
}

// Delete 按 ID 删除分块。
func (s *MemoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			s.unlinkLocked(c)
			n++
		}
	}
	return n, nil
}

// DeleteByDocument 删除文档的全部分块。
func (s *MemoryStore) DeleteByDocument(ctx context.Context, storeID, documentID string) (int, error) {
	_, n := s.deleteMatching(func(c *model.Chunk) bool {
		return c.StoreID == storeID && c.DocumentID == documentID
	})
	return n, nil
}

// DeleteByStore 删除知识库的全部分块。
func (s *MemoryStore) DeleteByStore(ctx context.Context, storeID string) (int, error) {
	_, n := s.deleteMatching(func(c *model.Chunk) bool {
		return c.StoreID == storeID
	})
	return n, nil
}

func (s *MemoryStore) deleteMatching(match func(*model.Chunk) bool) ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, c := range s.chunks {
		if match(c) {
			ids = append(ids, c.ID)
		}
	}
	for _, id := range ids {
		s.unlinkLocked(s.chunks[id])
	}
	return ids, len(ids)
}

// Search 先过滤候选集，再按余弦相似度取 top-k。
func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	if s.dim != 0 && len(vector) != s.dim {
		s.mu.RUnlock()
		return nil, errInvalidChunk("query vector has dimension %d, store expects %d", len(vector), s.dim)
	}
	hits := make([]model.ScoredChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if !filter.Matches(c) {
			continue
		}
		hits = append(hits, model.ScoredChunk{
			Chunk: withoutEmbedding(c),
			Score: textutil.CosineSimilarity(vector, c.Embedding),
		})
	}
	s.mu.RUnlock()

	SortScored(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ListByDocument 按序号返回文档的分块（含向量）。
func (s *MemoryStore) ListByDocument(ctx context.Context, storeID, documentID string) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.owners[ownerKey(storeID, documentID)]
	out := make([]*model.Chunk, 0, len(ids))
	for id := range ids {
		cp := *s.chunks[id]
		cp.Embedding = append([]float32(nil), cp.Embedding...)
		out = append(out, &cp)
	}
	sortByOrdinal(out)
	return out, nil
}

// Count 统计分块数。
func (s *MemoryStore) Count(ctx context.Context, storeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if storeID == "" {
		return len(s.chunks), nil
	}
	n := 0
	for _, c := range s.chunks {
		if c.StoreID == storeID {
			n++
		}
	}
	return n, nil
}

// Close 清空存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]*model.Chunk)
	s.owners = make(map[string]map[string]struct{})
	s.dim = 0
	return nil
}

func withoutEmbedding(c *model.Chunk) *model.Chunk {
	cp := *c
	cp.Embedding = nil
	return &cp
}

var _ VectorStore = (*MemoryStore)(nil)
