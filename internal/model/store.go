// Package model defines the data models of the RAG service.
package model

import (
	"time"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// ChunkingStrategy 分块策略。
type ChunkingStrategy string

const (
	StrategyAuto       ChunkingStrategy = "auto"
	StrategyWhitespace ChunkingStrategy = "whitespace"
	StrategySemantic   ChunkingStrategy = "semantic"
	StrategyFixed      ChunkingStrategy = "fixed"
)

// Valid reports whether s is a known strategy.
func (s ChunkingStrategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyWhitespace, StrategySemantic, StrategyFixed:
		return true
	}
	return false
}

// 知识库分块参数的产品取值范围，分块引擎本身只要求 MaxTokens >= 1。
const (
	DefaultMaxTokens  = 512
	DefaultMaxOverlap = 50
	MinStoreMaxTokens = 100
	MaxStoreMaxTokens = 2048
	MaxStoreOverlap   = 500

	// DefaultQuotaBytes 默认每个知识库 1 GiB。
	DefaultQuotaBytes int64 = 1 << 30
)

// ChunkingConfig 分块配置。
type ChunkingConfig struct {
	Strategy   ChunkingStrategy `json:"strategy" gorm:"column:strategy;size:16" binding:"omitempty,chunkstrategy"`
	MaxTokens  int              `json:"max_tokens_per_chunk" gorm:"column:max_tokens" binding:"gte=0"`
	MaxOverlap int              `json:"max_overlap_tokens" gorm:"column:max_overlap" binding:"gte=0"`
}

// DefaultChunkingConfig 返回默认分块配置。
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:   StrategyAuto,
		MaxTokens:  DefaultMaxTokens,
		MaxOverlap: DefaultMaxOverlap,
	}
}

// Validate 校验分块引擎的硬性约束，失败时返回 ErrChunkConfigInvalid。
func (c ChunkingConfig) Validate() error {
	if !c.Strategy.Valid() {
		return errors.ErrChunkConfigInvalid.WithMessagef("unknown chunking strategy %q", c.Strategy)
	}
	if c.MaxTokens < 1 {
		return errors.ErrChunkConfigInvalid.WithMessagef("max_tokens must be >= 1, got %d", c.MaxTokens)
	}
	if c.MaxOverlap < 0 {
		return errors.ErrChunkConfigInvalid.WithMessagef("max_overlap must be >= 0, got %d", c.MaxOverlap)
	}
	if c.MaxOverlap >= c.MaxTokens {
		return errors.ErrChunkConfigInvalid.WithMessagef("max_overlap (%d) must be less than max_tokens (%d)", c.MaxOverlap, c.MaxTokens)
	}
	return nil
}

// ValidateForStore 在 Validate 的基础上校验知识库配置的产品范围。
func (c ChunkingConfig) ValidateForStore() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MaxTokens < MinStoreMaxTokens || c.MaxTokens > MaxStoreMaxTokens {
		return errors.ErrStoreConfigInvalid.WithMessagef("max_tokens_per_chunk must be within [%d, %d]", MinStoreMaxTokens, MaxStoreMaxTokens)
	}
	if c.MaxOverlap > MaxStoreOverlap {
		return errors.ErrStoreConfigInvalid.WithMessagef("max_overlap_tokens must be within [0, %d]", MaxStoreOverlap)
	}
	return nil
}

// WithDefaults 用默认值补齐零值字段。
func (c ChunkingConfig) WithDefaults() ChunkingConfig {
	if c.Strategy == "" {
		c.Strategy = StrategyAuto
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
		if c.MaxOverlap == 0 {
			c.MaxOverlap = DefaultMaxOverlap
		}
	}
	return c
}

// Store 知识库，独占其下所有 Chunk。
type Store struct {
	ID            string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	Description   string         `json:"description,omitempty" gorm:"type:text"`
	Chunking      ChunkingConfig `json:"chunking" gorm:"embedded;embeddedPrefix:chunk_"`
	QuotaBytes    int64          `json:"quota_bytes" gorm:"not null"`
	ConsumedBytes int64          `json:"consumed_bytes" gorm:"default:0"`
	DocumentCount int            `json:"document_count" gorm:"default:0"`
	ChunkCount    int            `json:"chunk_count" gorm:"default:0"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Store.
func (Store) TableName() string {
	return "rag_stores"
}

// NewStore 使用默认配置创建知识库。
func NewStore(id string) *Store {
	return &Store{
		ID:         id,
		Name:       id,
		Chunking:   DefaultChunkingConfig(),
		QuotaBytes: DefaultQuotaBytes,
	}
}
