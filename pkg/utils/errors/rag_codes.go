package errors

// RAG 服务代码: 20, LLM 提供者代码: 21
// 错误码格式: AABBCCC

var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidRequest = NewRequestErr(ServiceRAG, 1, "Invalid RAG request", "RAG 请求参数无效")
	ErrRAGEmptyQuery     = NewRequestErr(ServiceRAG, 2, "Query text is empty", "查询文本为空")
	ErrRAGEmptyDocument  = NewRequestErr(ServiceRAG, 3, "Document text is empty", "文档内容为空")

	// ConfigurationError: 分块参数非法，在任何分块工作开始前拒绝 (类别 12)
	ErrChunkConfigInvalid = NewConfigErr(ServiceRAG, 1, "Invalid chunking configuration", "分块配置无效")
	ErrStoreConfigInvalid = NewConfigErr(ServiceRAG, 2, "Invalid store configuration", "知识库配置无效")

	// 资源不存在 (类别 04)
	ErrStoreNotFound    = NewNotFoundErr(ServiceRAG, 1, "Store not found", "知识库不存在")
	ErrDocumentNotFound = NewNotFoundErr(ServiceRAG, 2, "Document not found", "文档不存在")
	ErrCitationNotFound = NewNotFoundErr(ServiceRAG, 3, "Citation not found", "引用不存在")
	ErrBatchNotFound    = NewNotFoundErr(ServiceRAG, 4, "Upload batch not found", "上传批次不存在")

	// 冲突 (类别 05)
	ErrReindexInProgress = NewConflictErr(ServiceRAG, 1, "Document reindex already in progress", "文档正在重建索引")
	ErrStoreExists       = NewConflictErr(ServiceRAG, 2, "Store already exists", "知识库已存在")

	// QuotaExceeded: 预留被拒绝，不做任何部分提交 (类别 06)
	ErrQuotaExceeded = NewQuotaErr(ServiceRAG, 1, "Storage quota exceeded", "存储配额已超出")

	// IndexingFailed: 嵌入服务重试耗尽后的终态失败 (类别 07)
	ErrIndexingFailed = NewInternalErr(ServiceRAG, 1, "Document indexing failed", "文档索引失败")
	ErrSearchFailed   = NewInternalErr(ServiceRAG, 2, "Search failed", "检索失败")
	ErrQueryFailed    = NewInternalErr(ServiceRAG, 3, "Query failed", "查询失败")

	// EmptyResult / UngroundedQuery 不是失败，仅用于在响应里标注结果类型
	ErrEmptyResult     = NewNotFoundErr(ServiceRAG, 10, "No chunks matched the query", "没有匹配的文档块")
	ErrUngroundedQuery = NewNotFoundErr(ServiceRAG, 11, "No grounded answer is available", "没有可依据的答案")

	// 存储 (类别 08)
	ErrVectorStore = NewDatabaseErr(ServiceRAG, 1, "Vector store operation failed", "向量存储操作失败")
	ErrMetaStore   = NewDatabaseErr(ServiceRAG, 2, "Metadata store operation failed", "元数据存储操作失败")

	// 外部模型服务 (服务 21)
	ErrEmbeddingService  = NewNetworkErr(ServiceLLM, 1, "Embedding service error", "嵌入服务错误")
	ErrGenerationService = NewNetworkErr(ServiceLLM, 2, "Generation service error", "生成服务错误")
	ErrLLMTimeout        = NewTimeoutErr(ServiceLLM, 1, "Model service timeout", "模型服务超时")
	ErrCircuitOpen       = NewNetworkErr(ServiceLLM, 3, "Model service circuit open", "模型服务熔断中")
)
