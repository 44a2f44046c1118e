package biz

import (
	"context"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// CitationResolver 持久化的引用查找，进程内没有命中时使用。
type CitationResolver interface {
	FindCitation(ctx context.Context, citationID string) (*model.Citation, error)
}

const citationOwnerIndex = "owner"

// CitationTracker 维护引用标识到分块位置的映射。
// 它只负责查找，不持有分块。
type CitationTracker struct {
	refs     *cache.MemoryCache[string, *model.Citation]
	resolver CitationResolver
}

// NewCitationTracker 创建引用跟踪器，resolver 可为 nil。
func NewCitationTracker(resolver CitationResolver) *CitationTracker {
	refs := cache.NewMemoryCache[string, *model.Citation]()
	refs.AddIndex(citationOwnerIndex, func(c *model.Citation) any {
		return ownerKey(c.StoreID, c.DocumentID)
	})
	refs.AddIndex(storeIndex, func(c *model.Citation) any {
		return c.StoreID
	})
	return &CitationTracker{refs: refs, resolver: resolver}
}

const storeIndex = "store"

func ownerKey(storeID, documentID string) string {
	return storeID + "\x00" + documentID
}

// NewCitationID 生成新的引用标识（UUID v4），全局唯一且不会复用。
func NewCitationID() string {
	return id.NewUUID()
}

// Register 登记分块的引用位置。
func (t *CitationTracker) Register(chunks ...*model.Chunk) {
	for _, c := range chunks {
		t.refs.SetWithTTL(c.CitationID, citationOf(c), 0)
	}
}

func citationOf(c *model.Chunk) *model.Citation {
	return &model.Citation{
		CitationID: c.CitationID,
		ChunkID:    c.ID,
		StoreID:    c.StoreID,
		DocumentID: c.DocumentID,
		Ordinal:    c.Ordinal,
	}
}

// Resolve 解析引用标识，未知时返回 ErrCitationNotFound。
func (t *CitationTracker) Resolve(ctx context.Context, citationID string) (*model.Citation, error) {
	if ref, ok := t.refs.Get(citationID); ok {
		return ref, nil
	}
	if t.resolver != nil {
		ref, err := t.resolver.FindCitation(ctx, citationID)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			t.refs.SetWithTTL(citationID, ref, 0)
			return ref, nil
		}
	}
	return nil, errors.ErrCitationNotFound.WithMessagef("citation %s not found", citationID)
}

// ForgetDocument 移除文档的所有引用并返回被移除的标识。
func (t *CitationTracker) ForgetDocument(storeID, documentID string) []string {
	ids, _ := t.refs.DelByIndex(citationOwnerIndex, ownerKey(storeID, documentID))
	return ids
}

// ForgetStore 移除知识库的所有引用。
func (t *CitationTracker) ForgetStore(storeID string) []string {
	ids, _ := t.refs.DelByIndex(storeIndex, storeID)
	return ids
}

// Forget 移除指定的引用。
func (t *CitationTracker) Forget(citationIDs ...string) {
	for _, cid := range citationIDs {
		t.refs.Del(cid)
	}
}

// Len 返回进程内登记的引用数。
func (t *CitationTracker) Len() int {
	return t.refs.Len()
}
