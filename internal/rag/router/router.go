// Package router provides RAG service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/handler"
)

// Register registers the RAG service routes.
func Register(engine *gin.Engine, h *handler.RAGHandler) {
	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)
	engine.NoRoute(h.NoRoute)

	rag := engine.Group("/v1/rag")
	{
		stores := rag.Group("/stores")
		stores.POST("", h.CreateStore)
		stores.GET("", h.ListStores)
		stores.GET("/:id", h.GetStore)
		stores.DELETE("/:id", h.DeleteStore)
		stores.GET("/:id/quota", h.GetQuota)
		stores.PUT("/:id/quota", h.SetQuota)
		stores.POST("/:id/reindex", h.ReindexStore)
		stores.GET("/:id/documents", h.ListDocuments)
		stores.GET("/:id/documents/:doc", h.GetDocument)
		stores.DELETE("/:id/documents/:doc", h.DeleteDocument)

		rag.POST("/documents", h.IndexDocument)
		rag.POST("/documents/:id/reindex", h.ReindexDocument)

		rag.POST("/batches", h.SubmitBatch)
		rag.GET("/batches/:id", h.GetBatch)

		rag.POST("/search", h.Search)
		rag.POST("/query", h.Query)
		rag.GET("/citations/:id", h.ResolveCitation)

		rag.GET("/quota", h.ListQuotas)
		rag.GET("/stats", h.Stats)
	}

	logger.Infow("RAG routes registered", "routes", len(engine.Routes()))
}
