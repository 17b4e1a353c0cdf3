package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

// Parse produces two renderings per workbook: RawText is a CSV-per-sheet
// concatenation, FormatText a markdown table per sheet with a sheet-title
// line. In-cell newlines are normalized to spaces in both.
func (p *XLSXParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(task.Buffer))
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var raw, formatted strings.Builder

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		if len(rows) == 0 {
			continue
		}

		w := csv.NewWriter(&raw)
		for _, row := range rows {
			record := make([]string, len(row))
			for i, cell := range row {
				record[i] = sanitizeCell(cell, false)
			}
			w.Write(record)
		}
		w.Flush()
		raw.WriteString("\n")

		formatted.WriteString(markdownTable(sheet, rows))
		formatted.WriteString("\n")
	}

	if raw.Len() == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}

	return &ParseResult{
		RawText:    strings.TrimRight(raw.String(), "\n"),
		FormatText: strings.TrimRight(formatted.String(), "\n"),
	}, nil
}
