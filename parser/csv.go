package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

type CSVParser struct{}

func (p *CSVParser) SupportedFormats() []string { return []string{"csv"} }

// Parse keeps the decoded CSV text as RawText and renders FormatText as a
// markdown table with the first row as header.
func (p *CSVParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	text, err := decodeText(task.Buffer, task.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding CSV: %w", err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows found in CSV")
	}

	return &ParseResult{
		RawText:    text,
		FormatText: markdownTable("", rows),
	}, nil
}
