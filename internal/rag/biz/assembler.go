package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// NoGroundedAnswer 没有检索到任何分块时返回的答案。
const NoGroundedAnswer = "No grounded answer is available: the selected stores contain no content relevant to this question."

// DefaultPromptTemplate 生成提示模板，{{context}} 与 {{question}} 会被替换。
const DefaultPromptTemplate = `Based on the following context, answer the question. If the context doesn't contain relevant information, say so.

Context:
{{context}}
Question: {{question}}

Answer:`

// 来源条数的默认值与上限。
const (
	DefaultMaxSources = 5
	MaxSources        = 20
)

// AssemblerConfig 答案组装配置。
type AssemblerConfig struct {
	// OverlapWeight 答案词项可追溯比例的权重。
	OverlapWeight float64
	// SimilarityWeight 所用分块平均相似度的权重。
	SimilarityWeight float64
	// MinConfidence 低于该置信度的答案标记为未落地。
	MinConfidence float64
	// DefaultMaxSources 请求未指定 max_sources 时使用的条数。
	DefaultMaxSources int
	// MaxSources max_sources 的硬上限。
	MaxSources int
	// PromptTemplate 生成提示模板。
	PromptTemplate string
	// SnippetRunes 来源摘要的最大字符数，0 表示不返回摘要。
	SnippetRunes int
}

// DefaultAssemblerConfig 返回默认配置，两个权重各占一半。
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		OverlapWeight:     0.5,
		SimilarityWeight:  0.5,
		DefaultMaxSources: DefaultMaxSources,
		MaxSources:        MaxSources,
		PromptTemplate:    DefaultPromptTemplate,
		SnippetRunes:      200,
	}
}

// Assembler 用检索到的分块生成有依据的答案并计算置信度。
type Assembler struct {
	chat   llm.ChatProvider
	config AssemblerConfig
}

// NewAssembler 创建答案组装器。权重会被归一化，两者都不为正时各取 0.5。
func NewAssembler(chat llm.ChatProvider, config AssemblerConfig) *Assembler {
	defaults := DefaultAssemblerConfig()
	wO, wS := max(config.OverlapWeight, 0), max(config.SimilarityWeight, 0)
	if wO+wS == 0 {
		wO, wS = defaults.OverlapWeight, defaults.SimilarityWeight
	}
	config.OverlapWeight, config.SimilarityWeight = wO/(wO+wS), wS/(wO+wS)
	if config.MaxSources <= 0 {
		config.MaxSources = defaults.MaxSources
	}
	if config.DefaultMaxSources <= 0 || config.DefaultMaxSources > config.MaxSources {
		config.DefaultMaxSources = min(defaults.DefaultMaxSources, config.MaxSources)
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = defaults.PromptTemplate
	}
	return &Assembler{chat: chat, config: config}
}

// Config 返回归一化后的配置。
func (a *Assembler) Config() AssemblerConfig {
	return a.config
}

// MaxSources 把请求的来源条数规整到 [1, MaxSources]，非正数取默认值。
func (a *Assembler) MaxSources(requested int) int {
	if requested <= 0 {
		return a.config.DefaultMaxSources
	}
	return min(requested, a.config.MaxSources)
}

// Answer 取排名最前的 maxSources 个分块作为上下文生成答案。
// ranked 为空时不调用生成服务，直接返回置信度为 0 的未落地答案。
func (a *Assembler) Answer(ctx context.Context, question string, ranked []model.ScoredChunk, maxSources int) (*model.RAGResponse, error) {
	if len(ranked) == 0 {
		logger.Infow("no chunks retrieved, returning ungrounded response")
		return &model.RAGResponse{
			Answer:  NoGroundedAnswer,
			Sources: []*model.Source{},
		}, nil
	}

	used := ranked[:min(a.MaxSources(maxSources), len(ranked))]
	prompt := a.BuildPrompt(question, used)

	start := time.Now()
	answer, err := a.chat.Generate(ctx, prompt, "")
	if err != nil {
		logger.Errorw("answer generation failed", "error", err.Error(), "sources", len(used))
		return nil, serviceFailure(err, errors.ErrGenerationService)
	}

	confidence := a.Confidence(answer, used)
	resp := &model.RAGResponse{
		Answer:      strings.TrimSpace(answer),
		Sources:     make([]*model.Source, len(used)),
		Confidence:  confidence,
		SourcesUsed: len(used),
		Grounded:    confidence >= a.config.MinConfidence,
	}
	for i, h := range used {
		src := &model.Source{
			CitationID:   h.Chunk.CitationID,
			DocumentID:   h.Chunk.DocumentID,
			StoreID:      h.Chunk.StoreID,
			ChunkOrdinal: h.Chunk.Ordinal,
			Score:        h.Score,
		}
		if a.config.SnippetRunes > 0 {
			src.Snippet = textutil.TruncateString(h.Chunk.Text, a.config.SnippetRunes)
		}
		resp.Sources[i] = src
	}

	logger.Infow("answer generated",
		"sources", len(used),
		"confidence", confidence,
		"answer_length", len(resp.Answer),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// BuildPrompt 构造带编号上下文的生成提示。
func (a *Assembler) BuildPrompt(question string, used []model.ScoredChunk) string {
	var b strings.Builder
	for i, h := range used {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, h.Chunk.Text)
	}
	prompt := strings.ReplaceAll(a.config.PromptTemplate, "{{context}}", b.String())
	return strings.ReplaceAll(prompt, "{{question}}", strings.TrimSpace(question))
}

// Confidence 计算答案的落地置信度：
//
//	clamp01(OverlapWeight*overlap + SimilarityWeight*clamp01(meanScore))
//
// overlap 是答案内容词项能在所用分块中找到的比例，meanScore 是所用分块的平均相似度。
func (a *Assembler) Confidence(answer string, used []model.ScoredChunk) float64 {
	if len(used) == 0 {
		return 0
	}
	texts := make([]string, len(used))
	sum := 0.0
	for i, h := range used {
		texts[i] = h.Chunk.Text
		sum += h.Score
	}
	overlap := textutil.OverlapRatio(answer, texts...)
	meanScore := clamp01(sum / float64(len(used)))
	return clamp01(a.config.OverlapWeight*overlap + a.config.SimilarityWeight*meanScore)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
