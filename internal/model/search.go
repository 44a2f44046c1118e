package model

// SearchRequest 检索请求。
type SearchRequest struct {
	Query          string            `json:"query"`
	StoreIDs       []string          `json:"store_ids" binding:"omitempty,dive,resourceid"`
	DocumentIDs    []string          `json:"document_ids,omitempty"`
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
	Limit          int               `json:"limit" binding:"gte=0"`
}

// Filter 返回检索前的过滤条件。
func (r *SearchRequest) Filter() Filter {
	return Filter{StoreIDs: r.StoreIDs, DocumentIDs: r.DocumentIDs, Metadata: r.MetadataFilter}
}

// SearchHit 检索结果中的一条。
type SearchHit struct {
	ChunkID    string  `json:"chunk_id"`
	CitationID string  `json:"citation_id"`
	DocumentID string  `json:"document_id"`
	StoreID    string  `json:"store_id"`
	Ordinal    int     `json:"chunk_ordinal"`
	Text       string  `json:"text_span"`
	Score      float64 `json:"score"`
}

// SearchResult 检索结果，Empty 表示没有匹配的分块，这不是错误。
type SearchResult struct {
	Query string       `json:"query"`
	Hits  []*SearchHit `json:"hits"`
	Empty bool         `json:"empty"`
}

// QueryRequest RAG 问答请求。
type QueryRequest struct {
	Question       string            `json:"question"`
	StoreIDs       []string          `json:"store_ids" binding:"omitempty,dive,resourceid"`
	DocumentIDs    []string          `json:"document_ids,omitempty"`
	MaxSources     int               `json:"max_sources" binding:"gte=0"`
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
}

// Filter 返回检索前的过滤条件。
func (r *QueryRequest) Filter() Filter {
	return Filter{StoreIDs: r.StoreIDs, DocumentIDs: r.DocumentIDs, Metadata: r.MetadataFilter}
}

// Source 答案引用的来源分块。
type Source struct {
	CitationID   string  `json:"citation_id"`
	DocumentID   string  `json:"document_id"`
	StoreID      string  `json:"store_id"`
	ChunkOrdinal int     `json:"chunk_ordinal"`
	Score        float64 `json:"score"`
	Snippet      string  `json:"snippet,omitempty"`
}

// RAGResponse RAG 问答结果，Sources 按贡献排名排序。
type RAGResponse struct {
	Answer      string    `json:"answer"`
	Sources     []*Source `json:"sources"`
	Confidence  float64   `json:"confidence"`
	SourcesUsed int       `json:"sources_used"`
	Grounded    bool      `json:"grounded"`
	Cached      bool      `json:"cached,omitempty"`
}

// CitationIDs 返回按排名排列的引用标识。
func (r *RAGResponse) CitationIDs() []string {
	ids := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		ids[i] = s.CitationID
	}
	return ids
}
