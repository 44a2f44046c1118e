// Package handler provides HTTP handlers for RAG service.
package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
	healthTimeout   = 3 * time.Second
)

// HealthCheck 探测一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	svc     biz.Service
	metrics *metrics.RAGMetrics
	checks  map[string]HealthCheck
}

// NewRAGHandler creates a new RAGHandler. m 为 nil 时 /metrics 使用进程级指标。
func NewRAGHandler(svc biz.Service, m *metrics.RAGMetrics, checks map[string]func(context.Context) error) *RAGHandler {
	if m == nil {
		m = metrics.GetRAGMetrics()
	}
	h := &RAGHandler{svc: svc, metrics: m, checks: make(map[string]HealthCheck, len(checks))}
	for name, fn := range checks {
		h.checks[name] = fn
	}
	return h
}

// CreateStoreRequest is the request body for creating a store.
type CreateStoreRequest struct {
	ID          string                `json:"id" binding:"required,resourceid"`
	Name        string                `json:"name" binding:"max=255"`
	Description string                `json:"description"`
	Chunking    *model.ChunkingConfig `json:"chunking"`
	QuotaBytes  int64                 `json:"quota_bytes" binding:"gte=0"`
}

// SetQuotaRequest is the request body for adjusting a store quota.
type SetQuotaRequest struct {
	QuotaBytes int64 `json:"quota_bytes" binding:"required"`
}

// ReindexStoreRequest is the request body for rebuilding a whole store.
type ReindexStoreRequest struct {
	ClearExisting bool `json:"clear_existing"`
	BatchSize     int  `json:"batch_size" binding:"gte=0,lte=1000"`
}

// SubmitBatchRequest is the request body for an upload batch.
type SubmitBatchRequest struct {
	StoreID   string                `json:"store_id" binding:"required,resourceid"`
	Documents []*model.IndexRequest `json:"documents" binding:"required,min=1"`
}

// CreateStore handles store creation.
func (h *RAGHandler) CreateStore(c *gin.Context) {
	var req CreateStoreRequest
	if !bindJSON(c, &req) {
		return
	}

	st := &model.Store{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		QuotaBytes:  req.QuotaBytes,
	}
	if req.Chunking != nil {
		st.Chunking = *req.Chunking
	}

	created, err := h.svc.CreateStore(c.Request.Context(), st)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, created)
}

// ListStores handles store listing.
func (h *RAGHandler) ListStores(c *gin.Context) {
	page, size := pagination(c)
	total, stores, err := h.svc.ListStores(c.Request.Context(), int64((page-1)*size), int64(size))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Page(c, stores, total, page, size)
}

// GetStore handles store lookup.
func (h *RAGHandler) GetStore(c *gin.Context) {
	st, err := h.svc.GetStore(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, st)
}

// DeleteStore deletes a store and every chunk it owns.
func (h *RAGHandler) DeleteStore(c *gin.Context) {
	if err := h.svc.DeleteStore(c.Request.Context(), c.Param("id")); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"store_id": c.Param("id"), "deleted": true})
}

// GetQuota returns the quota status of one store.
func (h *RAGHandler) GetQuota(c *gin.Context) {
	status, err := h.svc.QuotaStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, status)
}

// SetQuota adjusts the byte quota of a store.
func (h *RAGHandler) SetQuota(c *gin.Context) {
	var req SetQuotaRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.svc.SetQuota(c.Request.Context(), c.Param("id"), req.QuotaBytes)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, st)
}

// ListQuotas returns the quota status of every store.
func (h *RAGHandler) ListQuotas(c *gin.Context) {
	statuses, err := h.svc.QuotaStatuses(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, statuses)
}

// ReindexStore rebuilds every document of a store.
func (h *RAGHandler) ReindexStore(c *gin.Context) {
	var req ReindexStoreRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	res, err := h.svc.ReindexStore(c.Request.Context(), c.Param("id"), biz.ReindexStoreOptions{
		ClearExisting: req.ClearExisting,
		BatchSize:     req.BatchSize,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, res)
}

// IndexDocument indexes a single document.
func (h *RAGHandler) IndexDocument(c *gin.Context) {
	var req model.IndexRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Index(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, res)
}

// ReindexDocument rebuilds the index of one document.
// store_id 可以放在请求体或查询参数中。
func (h *RAGHandler) ReindexDocument(c *gin.Context) {
	var req model.ReindexRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	req.DocumentID = c.Param("id")
	if req.StoreID == "" {
		req.StoreID = c.Query("store_id")
	}
	if req.StoreID == "" {
		response.Fail(c, errors.ErrRAGInvalidRequest.WithMessage("store_id is required"))
		return
	}

	res, err := h.svc.Reindex(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, res)
}

// ListDocuments lists the documents of a store.
func (h *RAGHandler) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	storeID := c.Param("id")
	st, err := h.svc.GetStore(ctx, storeID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	page, size := pagination(c)
	docs, err := h.svc.ListDocuments(ctx, storeID, int64((page-1)*size), int64(size))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Page(c, docs, int64(st.DocumentCount), page, size)
}

// GetDocument returns document metadata.
func (h *RAGHandler) GetDocument(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("id"), c.Param("doc"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, doc)
}

// DeleteDocument deletes a document and its chunks.
func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	storeID, docID := c.Param("id"), c.Param("doc")
	if err := h.svc.DeleteDocument(c.Request.Context(), storeID, docID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"store_id": storeID, "document_id": docID, "deleted": true})
}

// SubmitBatch submits an upload batch and returns immediately.
func (h *RAGHandler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	batch, err := h.svc.IndexBatch(c.Request.Context(), req.StoreID, req.Documents)
	if err != nil {
		response.Fail(c, err)
		return
	}
	c.Header("Location", "/v1/rag/batches/"+batch.ID)
	response.OK(c, batch)
}

// GetBatch returns the progress of an upload batch.
func (h *RAGHandler) GetBatch(c *gin.Context) {
	batch, err := h.svc.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, batch)
}

// Search handles similarity search.
func (h *RAGHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Search(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, res)
}

// Query handles RAG queries.
func (h *RAGHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Query(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, res)
}

// ResolveCitation resolves a citation id to its chunk location.
func (h *RAGHandler) ResolveCitation(c *gin.Context) {
	ref, err := h.svc.ResolveCitation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, ref)
}

// Stats returns service statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.svc.GetStats(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, stats)
}

// Metrics exports counters in the Prometheus text format.
func (h *RAGHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8",
		[]byte(h.metrics.Export("sentinel", "rag")))
}

// Healthz runs every dependency check and reports 503 if any fails.
func (h *RAGHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	result := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": result})
}

// NoRoute answers unknown paths with the unified envelope.
func (h *RAGHandler) NoRoute(c *gin.Context) {
	response.Fail(c, errors.ErrRouteNotFound.WithMessagef("%s %s", c.Request.Method, c.Request.URL.Path))
}

// bindJSON 解析请求体，校验失败时按 Accept-Language 返回逐字段的错误信息。
func bindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	en := validator.Translate(err, validator.LangEN)
	if en == nil {
		response.Fail(c, errors.ErrBindFailed.WithCause(err))
		return false
	}
	zh := validator.Translate(err, validator.LangZH)
	response.Fail(c, errors.ErrInvalidParam.WithMessages(en.Error(), zh.Error()).WithCause(err))
	return false
}

func pagination(c *gin.Context) (page, size int) {
	page, size = 1, defaultPageSize
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 {
		size = v
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
