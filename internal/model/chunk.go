package model

import "time"

// Chunk 文档分块，是检索的基本单元。
// Embedding 由 Chunk 独占，PredecessorCitationID 只是指向重叠前驱的反向引用。
type Chunk struct {
	ID                    string            `json:"id"`
	CitationID            string            `json:"citation_id"`
	StoreID               string            `json:"store_id"`
	DocumentID            string            `json:"document_id"`
	Ordinal               int               `json:"ordinal"`
	Text                  string            `json:"text"`
	TokenCount            int               `json:"token_count"`
	OverlapTokens         int               `json:"overlap_tokens"`
	PredecessorCitationID string            `json:"predecessor_citation_id,omitempty"`
	Embedding             []float32         `json:"embedding,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	Seq                   uint64            `json:"seq"`
	CreatedAt             time.Time         `json:"created_at"`
}

// ChunkDraft 分块引擎的输出，尚未分配标识与向量。
// Start 与 End 是 Text 在原文中的字节区间。
type ChunkDraft struct {
	Ordinal       int    `json:"ordinal"`
	Text          string `json:"text"`
	TokenCount    int    `json:"token_count"`
	OverlapTokens int    `json:"overlap_tokens"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
}

// SpanBytes 返回一组按顺序排列的分块覆盖的原文字节数，重叠部分只计一次。
func SpanBytes(drafts []ChunkDraft) int {
	total, covered := 0, 0
	for _, d := range drafts {
		start := max(d.Start, covered)
		if d.End > start {
			total += d.End - start
		}
		covered = max(covered, d.End)
	}
	return total
}

// ScoredChunk 向量检索的命中结果，Score 仅用于排序。
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// Filter 检索前的候选集过滤条件，各字段之间为 AND 关系。
type Filter struct {
	StoreIDs    []string          `json:"store_ids,omitempty"`
	DocumentIDs []string          `json:"document_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Matches 判断 chunk 是否满足过滤条件。
func (f Filter) Matches(c *Chunk) bool {
	if len(f.StoreIDs) > 0 && !contains(f.StoreIDs, c.StoreID) {
		return false
	}
	if len(f.DocumentIDs) > 0 && !contains(f.DocumentIDs, c.DocumentID) {
		return false
	}
	for k, v := range f.Metadata {
		if c.Metadata[k] != v {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
