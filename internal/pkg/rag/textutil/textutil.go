// Package textutil 提供 RAG 相关的文本处理工具函数。
//
// 所有分块策略与置信度计算共用同一个分词函数 Tokenize，
// 保证各处对 token 预算的理解一致。
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPieceRunes 是单个字母数字 token 的最大长度，超长的单词会被切成多个子词。
const MaxPieceRunes = 12

// Token 表示原文中的一个 token 及其字节区间 [Start, End)。
type Token struct {
	Text  string
	Start int
	End   int
}

// Span 表示原文中的一个字节区间 [Start, End)。
type Span struct {
	Start int
	End   int
}

// Text 返回区间对应的原文。
func (s Span) Text(text string) string {
	return text[s.Start:s.End]
}

// Tokenize 把文本切分为 token：
//   - 连续的字母数字按 MaxPieceRunes 切成子词
//   - 汉字、假名等表意字符每个字符一个 token
//   - 标点与符号每个字符一个 token
//   - 空白只作为分隔，不产生 token
func Tokenize(text string) []Token {
	var tokens []Token
	runStart, runLen := -1, 0

	flush := func(end int) {
		if runStart >= 0 {
			tokens = append(tokens, Token{Text: text[runStart:end], Start: runStart, End: end})
		}
		runStart, runLen = -1, 0
	}

	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isIdeograph(r) || (!unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)):
			flush(i)
			end := i + utf8.RuneLen(r)
			tokens = append(tokens, Token{Text: text[i:end], Start: i, End: end})
		default:
			if runStart >= 0 && runLen == MaxPieceRunes {
				flush(i)
			}
			if runStart < 0 {
				runStart = i
			}
			runLen++
		}
	}
	flush(len(text))

	return tokens
}

// CountTokens 返回文本的 token 数，等价于 len(Tokenize(text))。
func CountTokens(text string) int {
	return len(Tokenize(text))
}

func isIdeograph(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// WordSpans 返回按空白切分的单词区间，与 strings.Fields 的结果一一对应。
func WordSpans(text string) []Span {
	var spans []Span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

var (
	headerRegex    = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	paragraphRegex = regexp.MustCompile(`\n[ \t]*\n`)
)

// SentenceSpans 按语义边界切分文本：先按段落（空行）和 Markdown 标题行，
// 再在段落内按句末标点切分。返回的区间已去除首尾空白，且不会落在 token 内部。
func SentenceSpans(text string) []Span {
	var spans []Span
	for _, para := range paragraphSpans(text) {
		for _, line := range headerAwareSpans(text, para) {
			spans = append(spans, sentencesIn(text, line)...)
		}
	}
	return spans
}

// SplitSentences 返回 SentenceSpans 对应的文本。
func SplitSentences(text string) []string {
	spans := SentenceSpans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text(text)
	}
	return out
}

func paragraphSpans(text string) []Span {
	var spans []Span
	prev := 0
	for _, loc := range paragraphRegex.FindAllStringIndex(text, -1) {
		spans = appendTrimmed(spans, text, prev, loc[0])
		prev = loc[1]
	}
	return appendTrimmed(spans, text, prev, len(text))
}

// headerAwareSpans 把段落中的标题行拆成独立单元。
func headerAwareSpans(text string, para Span) []Span {
	body := para.Text(text)
	if !headerRegex.MatchString(body) {
		return []Span{para}
	}

	var spans []Span
	start := 0
	lineStart := 0
	for lineStart <= len(body) {
		nl := strings.IndexByte(body[lineStart:], '\n')
		lineEnd := len(body)
		if nl >= 0 {
			lineEnd = lineStart + nl
		}
		if headerRegex.MatchString(body[lineStart:lineEnd]) {
			spans = appendTrimmed(spans, text, para.Start+start, para.Start+lineStart)
			spans = appendTrimmed(spans, text, para.Start+lineStart, para.Start+lineEnd)
			start = lineEnd
		}
		if nl < 0 {
			break
		}
		lineStart = lineEnd + 1
	}
	return appendTrimmed(spans, text, para.Start+start, para.End)
}

func sentencesIn(text string, s Span) []Span {
	var spans []Span
	body := s.Text(text)
	start := 0
	runes := []rune(body)
	offset := 0
	for i, r := range runes {
		offset += utf8.RuneLen(r)
		if !isTerminator(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && !isTerminator(runes[i+1]) && !isWideTerminator(r) {
			continue
		}
		if i+1 < len(runes) && isTerminator(runes[i+1]) {
			continue
		}
		spans = appendTrimmed(spans, text, s.Start+start, s.Start+offset)
		start = offset
	}
	return appendTrimmed(spans, text, s.Start+start, s.End)
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isWideTerminator(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func appendTrimmed(spans []Span, text string, start, end int) []Span {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start < end {
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// HasStructure 判断文本是否具有段落结构，用于 auto 策略：
// 存在空行段落、Markdown 标题，或平均行长超过 100 个字符。
func HasStructure(text string) bool {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if paragraphRegex.MatchString(text) || headerRegex.MatchString(text) {
		return true
	}
	lines := strings.Count(text, "\n")
	if lines == 0 {
		return false
	}
	return float64(len(text))/float64(lines+1) > 100
}

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，长度不一致或零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize 返回向量的 L2 归一化副本，零向量原样返回。
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// HashString 计算字符串的 SHA-256 十六进制摘要。
func HashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "it": {},
	"this": {}, "that": {}, "with": {}, "as": {}, "by": {}, "at": {}, "from": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {},
}

// ContentTerms 返回文本中去除标点与停用词后的小写词项。
func ContentTerms(text string) []string {
	var terms []string
	for _, tok := range Tokenize(text) {
		r, _ := utf8.DecodeRuneInString(tok.Text)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		term := strings.ToLower(tok.Text)
		if _, stop := stopWords[term]; stop {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// OverlapRatio 返回 answer 中能在 context 里找到的内容词项占比，范围 [0, 1]。
// answer 没有内容词项时返回 0。
func OverlapRatio(answer string, context ...string) float64 {
	terms := ContentTerms(answer)
	if len(terms) == 0 {
		return 0
	}

	vocab := make(map[string]struct{})
	for _, c := range context {
		for _, t := range ContentTerms(c) {
			vocab[t] = struct{}{}
		}
	}

	hits := 0
	for _, t := range terms {
		if _, ok := vocab[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
