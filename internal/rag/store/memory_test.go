package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func chunk(id, storeID, docID string, ordinal int, vec ...float32) *model.Chunk {
	return &model.Chunk{
		ID:         id,
		CitationID: "cite-" + id,
		StoreID:    storeID,
		DocumentID: docID,
		Ordinal:    ordinal,
		Text:       "text " + id,
		Embedding:  vec,
	}
}

// runVectorStoreSuite 对任意 VectorStore 实现执行相同的行为检查。
func runVectorStoreSuite(t *testing.T, newStore func(t *testing.T) VectorStore) {
	ctx := context.Background()

	t.Run("exact match ranks first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, []*model.Chunk{
			chunk("a", "s1", "d1", 0, 1, 0, 0),
			chunk("b", "s1", "d1", 1, 0.7, 0.7, 0),
			chunk("c", "s1", "d2", 0, 0, 0, 1),
		}))

		hits, err := s.Search(ctx, []float32{0, 0, 1}, 3, model.Filter{})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "c", hits[0].Chunk.ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
		assert.Nil(t, hits[0].Chunk.Embedding)
	})

	t.Run("filter applies before top-k", func(t *testing.T) {
		s := newStore(t)
		var chunks []*model.Chunk
		for i := 0; i < 10; i++ {
			chunks = append(chunks, chunk(string(rune('a'+i)), "s1", "d1", i, 1, 0))
		}
		far := chunk("z", "s2", "d9", 0, 0, 1)
		far.Metadata = map[string]string{"type": "pdf"}
		chunks = append(chunks, far)
		require.NoError(t, s.Insert(ctx, chunks))

		hits, err := s.Search(ctx, []float32{1, 0}, 1, model.Filter{StoreIDs: []string{"s2"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "z", hits[0].Chunk.ID)

		hits, err = s.Search(ctx, []float32{1, 0}, 5, model.Filter{Metadata: map[string]string{"type": "pdf"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)

		hits, err = s.Search(ctx, []float32{1, 0}, 5, model.Filter{StoreIDs: []string{"missing"}})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("ties ordered by ordinal then insertion", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, []*model.Chunk{chunk("late-2", "s1", "d2", 2, 1, 1)}))
		require.NoError(t, s.Insert(ctx, []*model.Chunk{chunk("first-0", "s1", "d1", 0, 1, 1)}))
		require.NoError(t, s.Insert(ctx, []*model.Chunk{chunk("second-0", "s1", "d3", 0, 1, 1)}))
		require.NoError(t, s.Insert(ctx, []*model.Chunk{chunk("mid-1", "s1", "d1", 1, 1, 1)}))

		hits, err := s.Search(ctx, []float32{1, 1}, 10, model.Filter{})
		require.NoError(t, err)
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.Chunk.ID
		}
		assert.Equal(t, []string{"first-0", "second-0", "mid-1", "late-2"}, ids)
	})

	t.Run("delete by owner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, []*model.Chunk{
			chunk("a", "s1", "d1", 0, 1, 0),
			chunk("b", "s1", "d1", 1, 1, 0),
			chunk("c", "s1", "d2", 0, 1, 0),
			chunk("d", "s2", "d1", 0, 1, 0),
		}))

		n, err := s.DeleteByDocument(ctx, "s1", "d1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Count(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Delete(ctx, []string{"c", "unknown"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.DeleteByStore(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("list by document in ordinal order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, []*model.Chunk{
			chunk("b", "s1", "d1", 1, 1, 0),
			chunk("a", "s1", "d1", 0, 1, 0),
			chunk("c", "s1", "d1", 2, 1, 0),
		}))

		list, err := s.ListByDocument(ctx, "s1", "d1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, c := range list {
			assert.Equal(t, i, c.Ordinal)
			assert.NotEmpty(t, c.Embedding)
		}
	})

	t.Run("rejects mismatched dimension", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Insert(ctx, []*model.Chunk{chunk("a", "s1", "d1", 0, 1, 0)}))

		err := s.Insert(ctx, []*model.Chunk{chunk("b", "s1", "d1", 1, 1, 0, 0)})
		assert.True(t, errors.IsCode(err, errors.ErrVectorStore.Code))

		_, err = s.Search(ctx, []float32{1, 0, 0}, 1, model.Filter{})
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	runVectorStoreSuite(t, func(t *testing.T) VectorStore {
		return NewMemoryStore()
	})
}

func TestMemoryStoreAssignsSeq(t *testing.T) {
	s := NewMemoryStore()
	a := chunk("a", "s1", "d1", 0, 1)
	b := chunk("b", "s1", "d1", 1, 1)
	require.NoError(t, s.Insert(context.Background(), []*model.Chunk{a, b}))
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
}

func TestMemoryStoreZeroK(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Insert(context.Background(), []*model.Chunk{chunk("a", "s1", "d1", 0, 1)}))
	hits, err := s.Search(context.Background(), []float32{1}, 0, model.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
