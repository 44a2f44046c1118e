package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

const (
	fieldCitationID  = "citation_id"
	fieldStoreID     = "store_id"
	fieldDocumentID  = "document_id"
	fieldOrdinal     = "ordinal"
	fieldText        = "text"
	fieldTokenCount  = "token_count"
	fieldOverlap     = "overlap_tokens"
	fieldPredecessor = "predecessor_citation_id"
	fieldMetadata    = "metadata"
	fieldSeq         = "seq"
	fieldCreatedAt   = "created_at"
)

var scalarFields = []string{
	fieldCitationID, fieldStoreID, fieldDocumentID, fieldOrdinal, fieldText,
	fieldTokenCount, fieldOverlap, fieldPredecessor, fieldMetadata, fieldSeq, fieldCreatedAt,
}

// MilvusStore 基于 Milvus 的向量存储，所有知识库共用一个集合，以 store_id 字段区分。
// 检索为近似最近邻，过滤条件渲染成布尔表达式在 top-k 之前生效，
// 相同分数的排序在客户端重新应用。
type MilvusStore struct {
	client     *milvus.Client
	collection string

	mu      sync.Mutex
	lastSeq uint64
}

// NewMilvusStore 创建 Milvus 存储实例并确保集合存在。
func NewMilvusStore(ctx context.Context, client *milvus.Client) (*MilvusStore, error) {
	opts := client.Options()
	schema := &milvus.CollectionSchema{
		Name:        opts.Collection,
		Description: "RAG chunk vectors",
		Dimension:   opts.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldCitationID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldStoreID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldOrdinal, DataType: entity.FieldTypeInt64},
			{Name: fieldText, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldTokenCount, DataType: entity.FieldTypeInt64},
			{Name: fieldOverlap, DataType: entity.FieldTypeInt64},
			{Name: fieldPredecessor, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldMetadata, DataType: entity.FieldTypeJSON},
			{Name: fieldSeq, DataType: entity.FieldTypeInt64},
			{Name: fieldCreatedAt, DataType: entity.FieldTypeInt64},
		},
	}
	if err := client.CreateCollection(ctx, schema); err != nil {
		return nil, errVectorStore(err, "prepare milvus collection %s", opts.Collection)
	}
	return &MilvusStore{client: client, collection: opts.Collection}, nil
}

// nextSeq 以纳秒时间为基准单调递增，多次启动之间仍保持写入顺序。
func (s *MilvusStore) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := uint64(time.Now().UnixNano())
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// Insert 批量写入分块。
func (s *MilvusStore) Insert(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	n := len(chunks)
	var (
		ids          = make([]string, n)
		vectors      = make([][]float32, n)
		citationIDs  = make([]string, n)
		storeIDs     = make([]string, n)
		documentIDs  = make([]string, n)
		ordinals     = make([]int64, n)
		texts        = make([]string, n)
		tokenCounts  = make([]int64, n)
		overlaps     = make([]int64, n)
		predecessors = make([]string, n)
		metadata     = make([][]byte, n)
		seqs         = make([]int64, n)
		createdAt    = make([]int64, n)
	)

	dim := len(chunks[0].Embedding)
	for i, c := range chunks {
		if len(c.Embedding) != dim || dim == 0 {
			return errInvalidChunk("chunk %s has dimension %d, batch expects %d", c.ID, len(c.Embedding), dim)
		}
		if c.Seq == 0 {
			c.Seq = s.nextSeq()
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return errVectorStore(err, "encode metadata of chunk %s", c.ID)
		}

		ids[i] = c.ID
		vectors[i] = c.Embedding
		citationIDs[i] = c.CitationID
		storeIDs[i] = c.StoreID
		documentIDs[i] = c.DocumentID
		ordinals[i] = int64(c.Ordinal)
		texts[i] = c.Text
		tokenCounts[i] = int64(c.TokenCount)
		overlaps[i] = int64(c.OverlapTokens)
		predecessors[i] = c.PredecessorCitationID
		metadata[i] = meta
		seqs[i] = int64(c.Seq)
		createdAt[i] = c.CreatedAt.UnixMilli()
	}

	err := s.client.Insert(ctx, s.collection,
		column.NewColumnVarChar(milvus.FieldID, ids),
		column.NewColumnFloatVector(milvus.FieldVector, dim, vectors),
		column.NewColumnVarChar(fieldCitationID, citationIDs),
		column.NewColumnVarChar(fieldStoreID, storeIDs),
		column.NewColumnVarChar(fieldDocumentID, documentIDs),
		column.NewColumnInt64(fieldOrdinal, ordinals),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnInt64(fieldTokenCount, tokenCounts),
		column.NewColumnInt64(fieldOverlap, overlaps),
		column.NewColumnVarChar(fieldPredecessor, predecessors),
		column.NewColumnJSONBytes(fieldMetadata, metadata),
		column.NewColumnInt64(fieldSeq, seqs),
		column.NewColumnInt64(fieldCreatedAt, createdAt),
	)
	if err != nil {
		return errVectorStore(err, "insert %d chunks", n)
	}
	return nil
}

// Delete 按 ID 删除。
func (s *MilvusStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.client.DeleteByIDs(ctx, s.collection, ids)
	if err != nil {
		return 0, errVectorStore(err, "delete %d chunks", len(ids))
	}
	return int(n), nil
}

// DeleteByDocument 删除文档的全部分块。
func (s *MilvusStore) DeleteByDocument(ctx context.Context, storeID, documentID string) (int, error) {
	expr := fmt.Sprintf("%s == %s && %s == %s", fieldStoreID, quote(storeID), fieldDocumentID, quote(documentID))
	n, err := s.client.DeleteByExpr(ctx, s.collection, expr)
	if err != nil {
		return 0, errVectorStore(err, "delete document %s", documentID)
	}
	return int(n), nil
}

// DeleteByStore 删除知识库的全部分块。
func (s *MilvusStore) DeleteByStore(ctx context.Context, storeID string) (int, error) {
	n, err := s.client.DeleteByExpr(ctx, s.collection, fmt.Sprintf("%s == %s", fieldStoreID, quote(storeID)))
	if err != nil {
		return 0, errVectorStore(err, "delete store %s", storeID)
	}
	return int(n), nil
}

// Search 执行带过滤表达式的近似检索。
func (s *MilvusStore) Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	rs, err := s.client.Search(ctx, s.collection, vector, k, FilterExpr(filter), scalarFields)
	if err != nil {
		return nil, errVectorStore(err, "search")
	}

	chunks, err := decodeChunks(rs, false)
	if err != nil {
		return nil, err
	}
	hits := make([]model.ScoredChunk, len(chunks))
	for i, c := range chunks {
		hits[i] = model.ScoredChunk{Chunk: c, Score: float64(rs.Scores[i])}
	}
	SortScored(hits)
	return hits, nil
}

// ListByDocument 按序号返回文档的分块。
func (s *MilvusStore) ListByDocument(ctx context.Context, storeID, documentID string) ([]*model.Chunk, error) {
	expr := fmt.Sprintf("%s == %s && %s == %s", fieldStoreID, quote(storeID), fieldDocumentID, quote(documentID))
	rs, err := s.client.Query(ctx, s.collection, expr, append([]string{milvus.FieldID, milvus.FieldVector}, scalarFields...))
	if err != nil {
		return nil, errVectorStore(err, "list document %s", documentID)
	}
	chunks, err := decodeChunks(rs, true)
	if err != nil {
		return nil, err
	}
	sortByOrdinal(chunks)
	return chunks, nil
}

// Count 统计分块数。
func (s *MilvusStore) Count(ctx context.Context, storeID string) (int, error) {
	expr := fmt.Sprintf("%s != \"\"", fieldStoreID)
	if storeID != "" {
		expr = fmt.Sprintf("%s == %s", fieldStoreID, quote(storeID))
	}
	n, err := s.client.Count(ctx, s.collection, expr)
	if err != nil {
		return 0, errVectorStore(err, "count store %s", storeID)
	}
	return int(n), nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close() error {
	return s.client.Close(context.Background())
}

// FilterExpr 把过滤条件渲染成 Milvus 布尔表达式，空过滤返回空串。
func FilterExpr(f model.Filter) string {
	var parts []string
	if len(f.StoreIDs) > 0 {
		parts = append(parts, fmt.Sprintf("%s in %s", fieldStoreID, quoteList(f.StoreIDs)))
	}
	if len(f.DocumentIDs) > 0 {
		parts = append(parts, fmt.Sprintf("%s in %s", fieldDocumentID, quoteList(f.DocumentIDs)))
	}
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s[%s] == %s", fieldMetadata, quote(k), quote(f.Metadata[k])))
	}
	return strings.Join(parts, " && ")
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func decodeChunks(rs milvusclient.ResultSet, withVector bool) ([]*model.Chunk, error) {
	out := make([]*model.Chunk, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		c := &model.Chunk{}
		var err error
		if rs.IDs != nil {
			c.ID, err = rs.IDs.GetAsString(i)
		} else {
			c.ID, err = stringAt(rs, milvus.FieldID, i)
		}
		if err != nil {
			return nil, errVectorStore(err, "decode chunk id")
		}

		if c.CitationID, err = stringAt(rs, fieldCitationID, i); err != nil {
			return nil, err
		}
		if c.StoreID, err = stringAt(rs, fieldStoreID, i); err != nil {
			return nil, err
		}
		if c.DocumentID, err = stringAt(rs, fieldDocumentID, i); err != nil {
			return nil, err
		}
		if c.Text, err = stringAt(rs, fieldText, i); err != nil {
			return nil, err
		}
		if c.PredecessorCitationID, err = stringAt(rs, fieldPredecessor, i); err != nil {
			return nil, err
		}

		ints := map[string]*int64{}
		var ordinal, tokens, overlap, seq, created int64
		ints[fieldOrdinal], ints[fieldTokenCount], ints[fieldOverlap] = &ordinal, &tokens, &overlap
		ints[fieldSeq], ints[fieldCreatedAt] = &seq, &created
		for name, dst := range ints {
			col := rs.GetColumn(name)
			if col == nil {
				continue
			}
			if *dst, err = col.GetAsInt64(i); err != nil {
				return nil, errVectorStore(err, "decode %s", name)
			}
		}
		c.Ordinal, c.TokenCount, c.OverlapTokens = int(ordinal), int(tokens), int(overlap)
		c.Seq = uint64(seq)
		c.CreatedAt = time.UnixMilli(created)

		if col, ok := rs.GetColumn(fieldMetadata).(*column.ColumnJSONBytes); ok {
			if raw := col.Data()[i]; len(raw) > 0 {
				if err := json.Unmarshal(raw, &c.Metadata); err != nil {
					return nil, errVectorStore(err, "decode metadata of chunk %s", c.ID)
				}
			}
		}
		if withVector {
			if col, ok := rs.GetColumn(milvus.FieldVector).(*column.ColumnFloatVector); ok {
				c.Embedding = col.Data()[i]
			}
		}
		out[i] = c
	}
	return out, nil
}

func stringAt(rs milvusclient.ResultSet, name string, i int) (string, error) {
	col := rs.GetColumn(name)
	if col == nil {
		return "", nil
	}
	v, err := col.GetAsString(i)
	if err != nil {
		return "", errVectorStore(err, "decode %s", name)
	}
	return v, nil
}

var _ VectorStore = (*MilvusStore)(nil)
