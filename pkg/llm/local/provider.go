// Package local 提供无需外部服务的确定性供应商，用于离线开发与测试。
//
// Embedding 采用特征哈希：词项哈希到固定维度并带符号累加，最后 L2 归一化，
// 相同文本总是得到相同向量。生成为抽取式：从提示中的编号上下文里
// 选出与问题词项重合最多的一段原文作为答案。
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// ProviderName 供应商名称。
const ProviderName = "local"

// DefaultDimension 默认向量维度。
const DefaultDimension = 256

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Provider 本地确定性供应商。
type Provider struct {
	dim int
}

// NewProvider 创建本地供应商。
func NewProvider(cfg llm.Config) (llm.Provider, error) {
	return New(cfg.Dimension), nil
}

// New 创建指定维度的本地供应商，dim <= 0 时使用默认维度。
func New(dim int) *Provider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Provider{dim: dim}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *Provider) vector(text string) []float32 {
	acc := make([]float64, p.dim)
	for _, term := range terms(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1
		}
		acc[sum%uint64(p.dim)] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, p.dim)
	if norm == 0 {
		// 空文本也需要非零向量，否则余弦相似度无定义。
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func terms(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

// Chat 以最后一条用户消息作为提示生成答案。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return p.Generate(ctx, messages[i].Content, "")
		}
	}
	return "", nil
}

// Generate 抽取式生成：返回与问题最相关的编号上下文段落。
// 提示中以 "[n]" 开头的行视为上下文段落，"Question:" 之后的文本视为问题。
func (p *Provider) Generate(ctx context.Context, prompt string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	question := prompt
	if idx := strings.LastIndex(prompt, "Question:"); idx >= 0 {
		question = prompt[idx+len("Question:"):]
		if end := strings.Index(question, "\n"); end >= 0 {
			question = question[:end]
		}
	}
	want := make(map[string]struct{})
	for _, t := range terms(question) {
		want[t] = struct{}{}
	}

	best, bestScore := "", -1
	for _, block := range contextBlocks(prompt) {
		score := 0
		for _, t := range terms(block) {
			if _, ok := want[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = block, score
		}
	}
	if best == "" {
		return "The context does not contain relevant information.", nil
	}
	return best, nil
}

func contextBlocks(prompt string) []string {
	var blocks []string
	var cur strings.Builder
	inBlock := false
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "[") && strings.Contains(trimmed, "]"):
			if inBlock {
				blocks = append(blocks, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			inBlock = true
			cur.WriteString(strings.TrimSpace(trimmed[strings.Index(trimmed, "]")+1:]))
		case strings.HasPrefix(trimmed, "Question:"):
			if inBlock {
				blocks = append(blocks, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			inBlock = false
		case inBlock:
			cur.WriteString(" ")
			cur.WriteString(trimmed)
		}
	}
	if inBlock {
		blocks = append(blocks, strings.TrimSpace(cur.String()))
	}
	return blocks
}
