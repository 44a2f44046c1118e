// Package store 提供 RAG 服务的数据存储层。
//
// VectorStore 保存分块向量及其元数据，支持写入、按文档/知识库删除、
// 先过滤后取 top-k 的相似度检索。MetaRepository 基于 gorm 持久化
// 知识库、文档、引用与上传批次。
package store
