package biz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func tokenTexts(s string) []string {
	toks := textutil.Tokenize(s)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func assertOrdinals(t *testing.T, drafts []model.ChunkDraft) {
	t.Helper()
	for i, d := range drafts {
		assert.Equal(t, i, d.Ordinal)
		assert.NotEmpty(t, d.Text)
		assert.Equal(t, textutil.CountTokens(d.Text), d.TokenCount, "chunk %d", i)
	}
}

func TestChunkerRejectsInvalidConfig(t *testing.T) {
	c := NewChunker()

	tests := []model.ChunkingConfig{
		{Strategy: model.StrategyFixed, MaxTokens: 10, MaxOverlap: 10},
		{Strategy: model.StrategyFixed, MaxTokens: 10, MaxOverlap: 20},
		{Strategy: model.StrategyWhitespace, MaxTokens: 0},
		{Strategy: "unknown", MaxTokens: 10},
	}
	for _, cfg := range tests {
		// 即使文本为空也必须先校验配置
		_, err := c.Chunk("", cfg)
		assert.True(t, errors.IsCode(err, errors.ErrChunkConfigInvalid.Code), "cfg %+v", cfg)
	}
}

func TestChunkerEmptyText(t *testing.T) {
	c := NewChunker()
	for _, s := range []model.ChunkingStrategy{model.StrategyAuto, model.StrategyFixed, model.StrategyWhitespace, model.StrategySemantic} {
		drafts, err := c.Chunk("  \n\t ", model.ChunkingConfig{Strategy: s, MaxTokens: 5, MaxOverlap: 1})
		require.NoError(t, err)
		assert.Empty(t, drafts, string(s))
	}
}

func TestFixedChunkCount(t *testing.T) {
	c := NewChunker()
	for n := 1; n <= 60; n += 3 {
		for _, tc := range [][2]int{{10, 2}, {7, 0}, {5, 4}, {1, 0}, {16, 5}} {
			maxTokens, overlap := tc[0], tc[1]
			if n <= overlap {
				continue
			}
			drafts, err := c.Chunk(words(n), model.ChunkingConfig{Strategy: model.StrategyFixed, MaxTokens: maxTokens, MaxOverlap: overlap})
			require.NoError(t, err)

			step := maxTokens - overlap
			want := (n - overlap + step - 1) / step
			assert.Len(t, drafts, want, "N=%d T=%d O=%d", n, maxTokens, overlap)
			assertOrdinals(t, drafts)

			for i, d := range drafts {
				assert.LessOrEqual(t, d.TokenCount, maxTokens)
				if i == 0 {
					assert.Equal(t, 0, d.OverlapTokens)
					continue
				}
				prev := tokenTexts(drafts[i-1].Text)
				cur := tokenTexts(d.Text)
				assert.Equal(t, overlap, d.OverlapTokens)
				assert.Equal(t, prev[len(prev)-overlap:], cur[:overlap])
			}
		}
	}
}

func TestFixedScenario(t *testing.T) {
	drafts, err := NewChunker().Chunk(words(25), model.ChunkingConfig{Strategy: model.StrategyFixed, MaxTokens: 10, MaxOverlap: 2})
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, 10, drafts[0].TokenCount)
	assert.Equal(t, 10, drafts[1].TokenCount)
	assert.Equal(t, 9, drafts[2].TokenCount)
	assert.True(t, strings.HasPrefix(drafts[1].Text, "w8 w9 "))
	assert.True(t, strings.HasPrefix(drafts[2].Text, "w16 w17 "))
	assert.True(t, strings.HasSuffix(drafts[2].Text, "w24"))
}

func TestFixedSplitsInsideLongWords(t *testing.T) {
	text := strings.Repeat("a", 30)
	drafts, err := NewChunker().Chunk(text, model.ChunkingConfig{Strategy: model.StrategyFixed, MaxTokens: 2, MaxOverlap: 0})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, strings.Repeat("a", 24), drafts[0].Text)
	assert.Equal(t, strings.Repeat("a", 6), drafts[1].Text)
}

// isWordRun 判断 sub 的单词序列是否是 full 单词序列中的连续片段。
func isWordRun(full []string, sub []string) bool {
	for i := 0; i+len(sub) <= len(full); i++ {
		match := true
		for j := range sub {
			if full[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestWhitespaceKeepsWordsWhole(t *testing.T) {
	text := "Go is an open source programming language, that makes it simple to build secure, scalable systems."
	cfg := model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 6, MaxOverlap: 2}

	drafts, err := NewChunker().Chunk(text, cfg)
	require.NoError(t, err)
	require.Greater(t, len(drafts), 1)
	assertOrdinals(t, drafts)

	full := strings.Fields(text)
	for i, d := range drafts {
		assert.LessOrEqual(t, d.TokenCount, cfg.MaxTokens)
		assert.LessOrEqual(t, d.OverlapTokens, cfg.MaxOverlap)
		assert.True(t, isWordRun(full, strings.Fields(d.Text)), "chunk %d = %q", i, d.Text)
	}

	// 所有单词都被覆盖，且首尾一致
	assert.Equal(t, full[0], strings.Fields(drafts[0].Text)[0])
	last := strings.Fields(drafts[len(drafts)-1].Text)
	assert.Equal(t, full[len(full)-1], last[len(last)-1])
}

func TestWhitespaceOverlapRepeatsTrailingWords(t *testing.T) {
	drafts, err := NewChunker().Chunk(words(12), model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 5, MaxOverlap: 2})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)

	assert.Equal(t, "w0 w1 w2 w3 w4", drafts[0].Text)
	assert.Equal(t, "w3 w4 w5 w6 w7", drafts[1].Text)
	assert.Equal(t, 2, drafts[1].OverlapTokens)
}

func TestWhitespaceOversizedWordFallsBack(t *testing.T) {
	long := strings.Repeat("x", 12*5)
	drafts, err := NewChunker().Chunk("a "+long+" b", model.ChunkingConfig{Strategy: model.StrategyWhitespace, MaxTokens: 3, MaxOverlap: 1})
	require.NoError(t, err)
	assertOrdinals(t, drafts)
	for _, d := range drafts {
		assert.LessOrEqual(t, d.TokenCount, 3)
	}
	assert.Equal(t, "a", drafts[0].Text)
	assert.Equal(t, "b", drafts[len(drafts)-1].Text)
}

func TestSemanticKeepsSentencesWhole(t *testing.T) {
	text := "# Guide\n\nRAG retrieves chunks. It then generates answers! Citations point back to sources.\n\n" +
		"Quota tracking reserves bytes first. Commit happens after embedding. Rollback releases the reservation."
	cfg := model.ChunkingConfig{Strategy: model.StrategySemantic, MaxTokens: 12, MaxOverlap: 6}

	drafts, err := NewChunker().Chunk(text, cfg)
	require.NoError(t, err)
	assertOrdinals(t, drafts)

	for _, s := range textutil.SplitSentences(text) {
		found := false
		for _, d := range drafts {
			if strings.Contains(d.Text, s) {
				found = true
				break
			}
		}
		assert.True(t, found, "sentence %q split across chunks", s)
	}
	for _, d := range drafts {
		assert.LessOrEqual(t, d.TokenCount, cfg.MaxTokens)
		assert.LessOrEqual(t, d.OverlapTokens, cfg.MaxOverlap)
	}
}

func TestSemanticCarriesTrailingSentence(t *testing.T) {
	text := "One two. Three four. Five six. Seven eight."
	drafts, err := NewChunker().Chunk(text, model.ChunkingConfig{Strategy: model.StrategySemantic, MaxTokens: 6, MaxOverlap: 3})
	require.NoError(t, err)

	require.Len(t, drafts, 3)
	assert.Equal(t, "One two. Three four.", drafts[0].Text)
	assert.Equal(t, "Three four. Five six.", drafts[1].Text)
	assert.Equal(t, 3, drafts[1].OverlapTokens)
	assert.Equal(t, "Five six. Seven eight.", drafts[2].Text)
}

func TestSemanticLongSentenceFallsBackToFixed(t *testing.T) {
	text := "Short one. " + words(20) + ". Tail."
	cfg := model.ChunkingConfig{Strategy: model.StrategySemantic, MaxTokens: 8, MaxOverlap: 2}

	drafts, err := NewChunker().Chunk(text, cfg)
	require.NoError(t, err)
	assertOrdinals(t, drafts)

	assert.Equal(t, "Short one.", drafts[0].Text)
	assert.Equal(t, "Tail.", drafts[len(drafts)-1].Text)
	for _, d := range drafts {
		assert.LessOrEqual(t, d.TokenCount, cfg.MaxTokens)
	}
}

func TestResolveStrategy(t *testing.T) {
	assert.Equal(t, model.StrategySemantic, ResolveStrategy("a\n\nb", model.StrategyAuto))
	assert.Equal(t, model.StrategyWhitespace, ResolveStrategy("a b c", model.StrategyAuto))
	assert.Equal(t, model.StrategyFixed, ResolveStrategy("a\n\nb", model.StrategyFixed))
}

func TestChunkIsDeterministic(t *testing.T) {
	text := "Para one has words.\n\nPara two has more words. And another sentence."
	cfg := model.ChunkingConfig{Strategy: model.StrategyAuto, MaxTokens: 5, MaxOverlap: 2}

	a, err := NewChunker().Chunk(text, cfg)
	require.NoError(t, err)
	b, err := NewChunker().Chunk(text, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
