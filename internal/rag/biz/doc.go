// Package biz 提供 RAG 服务的业务逻辑层。
//
// 组件划分：
//   - Chunker: 按策略把文本切分为带序号的分块
//   - QuotaTracker: 两阶段的知识库存储配额
//   - Indexer: 分块、嵌入、写入与回滚，按文档加锁
//   - Ranker: 先过滤后取 top-k 的相似度检索
//   - Assembler: 组装提示词、生成答案并计算置信度
//   - BatchRunner: 在工作池上执行批量上传
//   - RAGService: 组合以上组件，提供统一的服务接口
package biz
