package parser

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Vertical bands (fractions of page height) treated as running header and
// footer. Tokens inside them are discarded.
const (
	headerBand = 0.95
	footerBand = 0.05
)

type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(task.Buffer), int64(len(task.Buffer)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		content := page.Content()
		tokens := tokenize(content.Text)
		tokens = suppressHeaderFooter(tokens, pageHeight(page))
		tokens = mergeEmptyTokens(tokens)

		text := assembleParagraphs(tokens)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	return &ParseResult{RawText: strings.Join(pages, "\n")}, nil
}

// textToken is one positioned text run from a page's content stream. EOL
// marks the last token of a visual line.
type textToken struct {
	S   string
	Y   float64
	EOL bool
}

// tokenize converts raw content-stream runs into tokens, flagging a token
// with EOL when the following run sits on a different baseline.
func tokenize(texts []pdf.Text) []textToken {
	tokens := make([]textToken, 0, len(texts))
	for i, t := range texts {
		tok := textToken{S: t.S, Y: t.Y}
		if i+1 < len(texts) && math.Abs(texts[i+1].Y-t.Y) > 0.5 {
			tok.EOL = true
		}
		tokens = append(tokens, tok)
	}
	if n := len(tokens); n > 0 {
		tokens[n-1].EOL = true
	}
	return tokens
}

// suppressHeaderFooter drops tokens whose vertical position falls in the top
// or bottom 5% of the page. PDF user space puts the origin at the bottom-left,
// so the header band is high Y and the footer band low Y.
func suppressHeaderFooter(tokens []textToken, height float64) []textToken {
	if height <= 0 {
		return tokens
	}
	kept := tokens[:0]
	for _, t := range tokens {
		if t.Y >= height*headerBand || t.Y <= height*footerBand {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// mergeEmptyTokens folds an empty token's line-break flag into the preceding
// token. The tokenizer emits such empty runs as artifacts of positioning
// operators between a run and its line break.
func mergeEmptyTokens(tokens []textToken) []textToken {
	merged := tokens[:0]
	for _, t := range tokens {
		if strings.TrimSpace(t.S) == "" {
			if n := len(merged); n > 0 && t.EOL {
				merged[n-1].EOL = true
			}
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

// assembleParagraphs joins tokens into page text. A paragraph break is
// inserted after a token that both ends a line and ends in sentence-terminal
// punctuation; all other line ends are treated as soft wraps and joined.
func assembleParagraphs(tokens []textToken) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.S)
		if t.EOL && endsSentence(t.S) {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func endsSentence(s string) bool {
	if strings.HasSuffix(s, "\r\n") || strings.HasSuffix(s, "\n") {
		return true
	}
	runes := []rune(strings.TrimRight(s, " \t"))
	if len(runes) == 0 {
		return false
	}
	switch runes[len(runes)-1] {
	case '。', '？', '！', '.', '?', '!':
		return true
	}
	return false
}

// pageHeight resolves the page's MediaBox height, walking up the page tree
// for inherited boxes. Falls back to US Letter when absent.
func pageHeight(page pdf.Page) float64 {
	v := page.V
	mb := v.Key("MediaBox")
	for i := 0; mb.IsNull() && i < 16; i++ {
		v = v.Key("Parent")
		if v.IsNull() {
			break
		}
		mb = v.Key("MediaBox")
	}
	if mb.IsNull() || mb.Len() < 4 {
		return 792
	}
	return mb.Index(3).Float64() - mb.Index(1).Float64()
}
