package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// allStores 未指定知识库的查询登记在这个集合下，任何变更都会使其失效。
const allStores = "*"

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultQueryCacheConfig 返回默认配置（默认禁用）。
func DefaultQueryCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		Enabled:   false,
		TTL:       1 * time.Hour,
		KeyPrefix: "rag:query:",
	}
}

// QueryCache 以 Redis 缓存问答结果。
// 每个结果键同时登记到所涉知识库的集合中，知识库发生变更时按集合失效。
type QueryCache struct {
	redis  goredis.UniversalClient
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存实例，redis 为 nil 时缓存不生效。
func NewQueryCache(redis goredis.UniversalClient, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = DefaultQueryCacheConfig()
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// cacheKey 由问题、知识库、文档、元数据过滤与来源条数共同决定。
func (c *QueryCache) cacheKey(req *model.QueryRequest, maxSources int) string {
	stores := append([]string(nil), req.StoreIDs...)
	sort.Strings(stores)
	docs := append([]string(nil), req.DocumentIDs...)
	sort.Strings(docs)
	keys := make([]string, 0, len(req.MetadataFilter))
	for k := range req.MetadataFilter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\x00")
	b.WriteString(strings.Join(stores, ","))
	b.WriteString("\x00")
	b.WriteString(strings.Join(docs, ","))
	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(req.MetadataFilter[k])
	}
	b.WriteString("\x00")
	b.WriteString(strconv.Itoa(maxSources))

	hash := sha256.Sum256([]byte(b.String()))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

func (c *QueryCache) storeSetKey(storeID string) string {
	return c.config.KeyPrefix + "store:" + storeID
}

func (c *QueryCache) storeSets(storeIDs []string) []string {
	if len(storeIDs) == 0 {
		return []string{c.storeSetKey(allStores)}
	}
	sets := make([]string, len(storeIDs))
	for i, id := range storeIDs {
		sets[i] = c.storeSetKey(id)
	}
	return sets
}

// Get 读取缓存的问答结果，未命中时返回 nil, nil。
func (c *QueryCache) Get(ctx context.Context, req *model.QueryRequest, maxSources int) (*model.RAGResponse, error) {
	if !c.enabled() {
		return nil, nil
	}

	key := c.cacheKey(req, maxSources)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, goredis.Nil) {
			logger.Debugw("cache miss", "key", key)
			return nil, nil
		}
		logger.Warnw("failed to get from cache", "error", err.Error(), "key", key)
		return nil, err
	}

	var result model.RAGResponse
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("failed to unmarshal cached result", "error", err.Error(), "key", key)
		_ = c.redis.Del(ctx, key).Err()
		return nil, err
	}

	result.Cached = true
	logger.Debugw("cache hit", "key", key, "sources", result.SourcesUsed)
	return &result, nil
}

// Set 写入问答结果并登记到所涉知识库的失效集合。
func (c *QueryCache) Set(ctx context.Context, req *model.QueryRequest, maxSources int, result *model.RAGResponse) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("failed to marshal result for caching", "error", err.Error())
		return err
	}

	key := c.cacheKey(req, maxSources)
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, key, data, c.config.TTL)
	for _, set := range c.storeSets(req.StoreIDs) {
		pipe.SAdd(ctx, set, key)
		if c.config.TTL > 0 {
			pipe.Expire(ctx, set, c.config.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warnw("failed to set cache", "error", err.Error(), "key", key)
		return err
	}
	return nil
}

// Invalidate 删除涉及指定知识库的缓存结果，以及未限定知识库的结果。
func (c *QueryCache) Invalidate(ctx context.Context, storeIDs ...string) error {
	if !c.enabled() {
		return nil
	}

	sets := append(c.storeSets(storeIDs), c.storeSetKey(allStores))
	deleted := 0
	for _, set := range sets {
		keys, err := c.redis.SMembers(ctx, set).Result()
		if err != nil {
			logger.Warnw("failed to read cache set", "error", err.Error(), "set", set)
			return err
		}
		keys = append(keys, set)
		n, err := c.redis.Del(ctx, keys...).Result()
		if err != nil {
			logger.Warnw("failed to invalidate cache", "error", err.Error(), "set", set)
			return err
		}
		deleted += int(n)
	}

	logger.Debugw("query cache invalidated", "store_ids", storeIDs, "deleted", deleted)
	return nil
}

// Clear 清除所有查询缓存。
func (c *QueryCache) Clear(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("error during cache scan", "error", err.Error())
		return err
	}

	logger.Infow("cleared query cache", "deleted_count", deleted)
	return nil
}

// QueryCacheStats 查询缓存统计。
type QueryCacheStats struct {
	Enabled   bool   `json:"enabled"`
	KeyCount  int    `json:"key_count,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// GetStats 获取缓存统计信息。
func (c *QueryCache) GetStats(ctx context.Context) (*QueryCacheStats, error) {
	if !c.enabled() {
		return &QueryCacheStats{Enabled: false}, nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return &QueryCacheStats{
		Enabled:   true,
		KeyCount:  count,
		TTL:       c.config.TTL.String(),
		KeyPrefix: c.config.KeyPrefix,
	}, nil
}
