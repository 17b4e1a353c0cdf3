package parser

import "strings"

// sanitizeCell normalizes newlines inside a cell value to spaces so the cell
// cannot corrupt row boundaries, and escapes pipes for markdown rendering.
func sanitizeCell(s string, markdown bool) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	if markdown {
		s = strings.ReplaceAll(s, "|", "\\|")
	}
	return s
}

// markdownTable renders rows as a markdown table using the first row as the
// header. A non-empty title becomes a "#<title>" line above the table. Short
// rows are padded to the header width; extra cells are kept.
func markdownTable(title string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	if title != "" {
		b.WriteString("#" + title + "\n")
	}

	cols := len(rows[0])
	writeRow := func(row []string) {
		b.WriteString("|")
		n := cols
		if len(row) > n {
			n = len(row)
		}
		for i := 0; i < n; i++ {
			cell := ""
			if i < len(row) {
				cell = sanitizeCell(row[i], true)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])

	b.WriteString("|")
	for i := 0; i < cols; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	for _, row := range rows[1:] {
		writeRow(row)
	}

	return b.String()
}
