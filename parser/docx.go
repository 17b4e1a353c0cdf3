package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strings"
)

type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

// Parse converts the document to an intermediate HTML representation, pulls
// embedded images out with marker substitution, then converts the HTML to
// markdown.
func (p *DOCXParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(task.Buffer), int64(len(task.Buffer)))
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}

	fileIndex := zipIndex(zr)

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	rels := parseRels(fileIndex, "word/_rels/document.xml.rels")

	htmlDoc, images, err := docxToHTML(data, rels, fileIndex)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	md, err := htmlToMarkdown(htmlDoc)
	if err != nil {
		return nil, fmt.Errorf("converting DOCX HTML to markdown: %w", err)
	}

	return &ParseResult{
		RawText: md,
		Images:  images,
	}, nil
}

// docxToHTML walks word/document.xml and emits a flat HTML rendition:
// paragraphs become <p>, heading-styled paragraphs become <h1>..<h6>,
// tables become <table>, and each embedded image becomes an <img> whose
// src is the extracted image's marker id.
func docxToHTML(docXML []byte, rels map[string]string, fileIndex map[string]*zip.File) (string, []ExtractedImage, error) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var (
		b       strings.Builder
		images  []ExtractedImage
		para    strings.Builder
		paraTag string // "" when no paragraph is open
		inPPr   bool
		inTable bool
	)

	flushPara := func() {
		if paraTag == "" {
			return
		}
		content := strings.TrimSpace(para.String())
		if content != "" {
			if inTable {
				// Cell paragraphs are emitted bare inside the open <td>.
				b.WriteString(content)
				b.WriteString(" ")
			} else {
				b.WriteString("<" + paraTag + ">" + content + "</" + paraTag + ">\n")
			}
		}
		para.Reset()
		paraTag = ""
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				flushPara()
				paraTag = "p"
			case "pPr":
				inPPr = true
			case "pStyle":
				if inPPr && paraTag != "" {
					for _, attr := range t.Attr {
						if attr.Name.Local == "val" {
							if lvl := headingStyleLevel(attr.Value); lvl > 0 {
								paraTag = fmt.Sprintf("h%d", lvl)
							}
						}
					}
				}
			case "t":
				var s string
				if err := decoder.DecodeElement(&s, &t); err == nil {
					para.WriteString(html.EscapeString(s))
				}
			case "br":
				if paraTag != "" {
					para.WriteString("<br>")
				}
			case "tbl":
				flushPara()
				b.WriteString("<table>\n")
				inTable = true
			case "tr":
				if inTable {
					b.WriteString("<tr>")
				}
			case "tc":
				if inTable {
					b.WriteString("<td>")
				}
			case "blip":
				img := resolveBlip(t, rels, fileIndex, "word/")
				if img != nil {
					images = append(images, *img)
					para.WriteString(fmt.Sprintf(`<img src="%s">`, img.MarkerID))
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushPara()
			case "pPr":
				inPPr = false
			case "tc":
				if inTable {
					flushPara()
					b.WriteString("</td>")
				}
			case "tr":
				if inTable {
					b.WriteString("</tr>\n")
				}
			case "tbl":
				if inTable {
					b.WriteString("</table>\n")
					inTable = false
				}
			}
		}
	}
	flushPara()

	return b.String(), images, nil
}

// headingStyleLevel maps a w:pStyle value to an HTML heading level, or 0 for
// body text. "Title" maps to 1, "HeadingN" to min(N, 6).
func headingStyleLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "title") {
		return 1
	}
	if !strings.HasPrefix(lower, "heading") {
		return 0
	}
	for i := 1; i <= 9; i++ {
		if strings.Contains(lower, fmt.Sprintf("%d", i)) {
			if i > 6 {
				return 6
			}
			return i
		}
	}
	return 1
}
