package biz

import (
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
)

// Chunker 分块引擎。
//
// 所有策略都基于 textutil.Tokenize 产生的同一 token 序列计算预算，
// 分块文本始终是原文中以 token 边界开始和结束的连续片段。
type Chunker struct{}

// NewChunker 创建分块引擎。
func NewChunker() *Chunker {
	return &Chunker{}
}

// ResolveStrategy 解析 auto 策略：有段落或标题结构时使用 semantic，否则使用 whitespace。
func ResolveStrategy(text string, strategy model.ChunkingStrategy) model.ChunkingStrategy {
	if strategy != model.StrategyAuto {
		return strategy
	}
	if textutil.HasStructure(text) {
		return model.StrategySemantic
	}
	return model.StrategyWhitespace
}

// Chunk 按配置把文本切分为有序分块。
// 配置非法时在任何分块工作之前返回 ErrChunkConfigInvalid；文本没有 token 时返回空结果。
func (c *Chunker) Chunk(text string, cfg model.ChunkingConfig) ([]model.ChunkDraft, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	var windows []window
	switch ResolveStrategy(text, cfg.Strategy) {
	case model.StrategyFixed:
		windows = fixedWindows(0, len(tokens), cfg.MaxTokens, cfg.MaxOverlap)
	case model.StrategyWhitespace:
		windows = packUnits(unitsOf(tokens, textutil.WordSpans(text)), cfg.MaxTokens, cfg.MaxOverlap)
	case model.StrategySemantic:
		windows = packUnits(unitsOf(tokens, textutil.SentenceSpans(text)), cfg.MaxTokens, cfg.MaxOverlap)
	}

	drafts := make([]model.ChunkDraft, len(windows))
	for i, w := range windows {
		start, end := tokens[w.start].Start, tokens[w.end-1].End
		drafts[i] = model.ChunkDraft{
			Ordinal:       i,
			Text:          text[start:end],
			TokenCount:    w.end - w.start,
			OverlapTokens: w.overlap,
			Start:         start,
			End:           end,
		}
	}
	return drafts, nil
}

// window 是 token 下标区间 [start, end)，overlap 为与前一个分块共享的 token 数。
type window struct {
	start, end int
	overlap    int
}

// unit 是不可拆分的切分单元（单词或句子）的 token 下标区间。
type unit struct {
	start, end int
}

func (u unit) size() int { return u.end - u.start }

// fixedWindows 以 maxTokens-overlap 为步长滑动固定窗口，相邻窗口恰好共享 overlap 个 token。
func fixedWindows(lo, hi, maxTokens, overlap int) []window {
	step := maxTokens - overlap
	var out []window
	for start := lo; ; start += step {
		end := min(start+maxTokens, hi)
		w := window{start: start, end: end}
		if start > lo {
			w.overlap = overlap
		}
		out = append(out, w)
		if end >= hi {
			return out
		}
	}
}

// unitsOf 把按 token 边界对齐的字节区间映射为 token 下标区间。
func unitsOf(tokens []textutil.Token, spans []textutil.Span) []unit {
	units := make([]unit, 0, len(spans))
	i := 0
	for _, s := range spans {
		for i < len(tokens) && tokens[i].Start < s.Start {
			i++
		}
		start := i
		for i < len(tokens) && tokens[i].End <= s.End {
			i++
		}
		if i > start {
			units = append(units, unit{start: start, end: i})
		}
	}
	return units
}

// packUnits 把连续单元合并到不超过 maxTokens 的分块中，
// 新分块以前一分块末尾不超过 overlap 个 token 的完整单元开头。
// 单个单元超过预算时，仅对该单元退化为固定窗口切分。
func packUnits(units []unit, maxTokens, overlap int) []window {
	var (
		out     []window
		cur     []unit
		tokens  int
		carried int
		shared  int
	)

	emit := func() {
		if len(cur) > carried {
			out = append(out, window{start: cur[0].start, end: cur[len(cur)-1].end, overlap: shared})
		}
	}

	for _, u := range units {
		n := u.size()

		if n > maxTokens {
			emit()
			out = append(out, fixedWindows(u.start, u.end, maxTokens, overlap)...)
			cur, tokens, carried, shared = nil, 0, 0, 0
			continue
		}

		if tokens+n > maxTokens && len(cur) > carried {
			emit()
			cur, tokens = tail(cur, overlap)
			carried, shared = len(cur), tokens
		}

		// 只剩重叠单元时，从最早的开始丢弃直到放得下
		for tokens+n > maxTokens && carried > 0 {
			tokens -= cur[0].size()
			cur = cur[1:]
			carried--
			shared = tokens
		}

		cur = append(cur, u)
		tokens += n
	}
	emit()

	return out
}

// tail 返回 units 末尾 token 总数不超过 budget 的最长单元序列。
func tail(units []unit, budget int) ([]unit, int) {
	total := 0
	i := len(units)
	for i > 0 && total+units[i-1].size() <= budget {
		i--
		total += units[i].size()
	}
	out := make([]unit, len(units)-i)
	copy(out, units[i:])
	return out, total
}
