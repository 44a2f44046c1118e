package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	pkgstore "github.com/kart-io/sentinel-rag/pkg/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// DefaultStoreCacheTTL 知识库配置的进程内缓存时间。
const DefaultStoreCacheTTL = 300 * time.Second

// CatalogConfig 知识库目录配置。
type CatalogConfig struct {
	// DefaultChunking 首次使用时自动创建的知识库采用的分块配置。
	DefaultChunking model.ChunkingConfig
	// DefaultQuotaBytes 自动创建的知识库的配额。
	DefaultQuotaBytes int64
	// CacheTTL 知识库配置缓存时间。
	CacheTTL time.Duration
}

// StoreCatalog 管理知识库的元数据、配置缓存与配额账户。
type StoreCatalog struct {
	meta   *store.MetaRepository
	quota  *QuotaTracker
	cache  *cache.MemoryCache[string, *model.Store]
	config CatalogConfig
}

// NewStoreCatalog 创建知识库目录。
func NewStoreCatalog(meta *store.MetaRepository, quota *QuotaTracker, config CatalogConfig) *StoreCatalog {
	config.DefaultChunking = config.DefaultChunking.WithDefaults()
	if config.DefaultQuotaBytes <= 0 {
		config.DefaultQuotaBytes = model.DefaultQuotaBytes
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultStoreCacheTTL
	}
	return &StoreCatalog{
		meta:   meta,
		quota:  quota,
		cache:  cache.NewMemoryCache[string, *model.Store](cache.WithTTL(config.CacheTTL)),
		config: config,
	}
}

// Quota 返回配额跟踪器。
func (c *StoreCatalog) Quota() *QuotaTracker {
	return c.quota
}

// Create 校验并创建知识库，未填写的字段使用默认值。
func (c *StoreCatalog) Create(ctx context.Context, s *model.Store) (*model.Store, error) {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return nil, errors.ErrRAGInvalidRequest.WithMessage("store id is required")
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.Chunking == (model.ChunkingConfig{}) {
		s.Chunking = c.config.DefaultChunking
	} else {
		s.Chunking = s.Chunking.WithDefaults()
	}
	if err := s.Chunking.ValidateForStore(); err != nil {
		return nil, err
	}
	if s.QuotaBytes <= 0 {
		s.QuotaBytes = c.config.DefaultQuotaBytes
	}
	s.ConsumedBytes, s.DocumentCount, s.ChunkCount = 0, 0, 0

	if err := c.meta.CreateStore(ctx, s); err != nil {
		return nil, err
	}
	c.quota.Register(s.ID, s.QuotaBytes, 0)
	c.cache.Set(s.ID, clone(s))

	logger.Infow("store created",
		"store_id", s.ID,
		"strategy", s.Chunking.Strategy,
		"max_tokens", s.Chunking.MaxTokens,
		"quota_bytes", s.QuotaBytes,
	)
	return clone(s), nil
}

// Get 读取知识库，优先使用缓存。
func (c *StoreCatalog) Get(ctx context.Context, id string) (*model.Store, error) {
	if s, ok := c.cache.Get(id); ok {
		return clone(s), nil
	}

	s, err := c.meta.GetStore(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.quota.Has(id) {
		c.quota.Register(id, s.QuotaBytes, s.ConsumedBytes)
	}
	c.cache.Set(id, s)
	return clone(s), nil
}

// Ensure 读取知识库，不存在时使用默认配置创建。
func (c *StoreCatalog) Ensure(ctx context.Context, id string) (*model.Store, error) {
	s, err := c.Get(ctx, id)
	if err == nil || !errors.IsCode(err, errors.ErrStoreNotFound.Code) {
		return s, err
	}

	s, err = c.Create(ctx, &model.Store{ID: id, Chunking: c.config.DefaultChunking})
	if errors.IsCode(err, errors.ErrStoreExists.Code) {
		return c.Get(ctx, id)
	}
	return s, err
}

// List 分页列出知识库。
func (c *StoreCatalog) List(ctx context.Context, offset, limit int64) (int64, []*model.Store, error) {
	return c.meta.ListStores(ctx, pkgstore.WithOffset(offset), pkgstore.WithLimit(limit))
}

// SetQuota 调整知识库配额。
func (c *StoreCatalog) SetQuota(ctx context.Context, id string, quotaBytes int64) (*model.Store, error) {
	if quotaBytes <= 0 {
		return nil, errors.ErrStoreConfigInvalid.WithMessagef("quota_bytes must be positive, got %d", quotaBytes)
	}
	s, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.QuotaBytes = quotaBytes
	if err := c.meta.UpdateStore(ctx, s); err != nil {
		return nil, err
	}
	if err := c.quota.SetQuota(id, quotaBytes); err != nil {
		return nil, err
	}
	c.cache.Del(id)
	return s, nil
}

// RefreshUsage 把配额账户中的已消耗字节同步到元数据。
// 用量只是派生统计，失败时记录日志后返回错误供调用方决定。
func (c *StoreCatalog) RefreshUsage(ctx context.Context, id string) error {
	defer c.cache.Del(id)
	if err := c.meta.UpdateStoreUsage(ctx, id, c.quota.Consumed(id)); err != nil {
		logger.Warnw("failed to refresh store usage", "store_id", id, "error", err.Error())
		return err
	}
	return nil
}

// Delete 删除知识库元数据与配额账户，分块由调用方先行删除。
func (c *StoreCatalog) Delete(ctx context.Context, id string) error {
	defer c.cache.Del(id)
	if err := c.meta.DeleteStore(ctx, id); err != nil {
		return err
	}
	c.quota.Remove(id)
	return nil
}

// Invalidate 丢弃缓存的知识库配置。
func (c *StoreCatalog) Invalidate(id string) {
	c.cache.Del(id)
}

// CacheStats 返回配置缓存的命中统计。
func (c *StoreCatalog) CacheStats() cache.Stats {
	return c.cache.Stats()
}

func clone(s *model.Store) *model.Store {
	c := *s
	return &c
}
