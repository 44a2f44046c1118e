package store

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

var bucketChunks = []byte("chunks")

// BoltStore 在 MemoryStore 之上增加 bbolt 写穿持久化，
// 打开时把快照重新加载到内存，检索仍在内存中完成。
type BoltStore struct {
	*MemoryStore
	db *bbolt.DB
}

// NewBoltStore 打开（或创建）path 处的数据文件并加载已有分块。
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errVectorStore(err, "open bolt store %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errVectorStore(err, "create bucket")
	}

	s := &BoltStore{MemoryStore: NewMemoryStore(), db: db}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) load() error {
	var chunks []*model.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(_, v []byte) error {
			var c model.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, &c)
			return nil
		})
	})
	if err != nil {
		return errVectorStore(err, "load bolt snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.insertLocked(c)
	}
	return nil
}

// Insert 先落盘再写入内存，Seq 在落盘前分配以便重启后保持顺序。
func (s *BoltStore) Insert(ctx context.Context, chunks []*model.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBatch(chunks); err != nil {
		return err
	}

	next := s.seq
	staged := make([]*model.Chunk, len(chunks))
	for i, c := range chunks {
		cp := *c
		if cp.Seq == 0 {
			next++
			cp.Seq = next
		}
		staged[i] = &cp
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, c := range staged {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errVectorStore(err, "persist %d chunks", len(chunks))
	}

	for i, c := range staged {
		s.insertLocked(c)
		chunks[i].Seq = c.Seq
	}
	return nil
}

// Delete 按 ID 删除。
func (s *BoltStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ids)
}

// DeleteByDocument 删除文档的全部分块。
func (s *BoltStore) DeleteByDocument(ctx context.Context, storeID, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.owners[ownerKey(storeID, documentID)]
	ids := make([]string, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	return s.deleteLocked(ids)
}

// DeleteByStore 删除知识库的全部分块。
func (s *BoltStore) DeleteByStore(ctx context.Context, storeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, c := range s.chunks {
		if c.StoreID == storeID {
			ids = append(ids, id)
		}
	}
	return s.deleteLocked(ids)
}

func (s *BoltStore) deleteLocked(ids []string) (int, error) {
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.chunks[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, id := range present {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errVectorStore(err, "delete %d chunks", len(present))
	}

	for _, id := range present {
		s.unlinkLocked(s.chunks[id])
	}
	return len(present), nil
}

// Close 关闭数据文件。
func (s *BoltStore) Close() error {
	if err := s.MemoryStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

var _ VectorStore = (*BoltStore)(nil)
