package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const drawingMLNS = "http://schemas.openxmlformats.org/drawingml/2006/main"

// ErrPptxParse marks a PPTX archive containing no slide or notes parts.
var ErrPptxParse = errors.New("parser: no slide parts found in PPTX")

type PPTXParser struct{}

func (p *PPTXParser) SupportedFormats() []string { return []string{"pptx"} }

// Parse reads only slide and notesSlide XML parts from the archive. Per
// part, paragraphs containing at least one text run are kept; runs are
// concatenated per paragraph and paragraphs joined with newlines. Slide
// texts are joined with newlines in slide order, speaker notes after the
// slides.
func (p *PPTXParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(task.Buffer), int64(len(task.Buffer)))
	if err != nil {
		return nil, fmt.Errorf("opening PPTX: %w", err)
	}

	slides := collectParts(zr, "ppt/slides/slide")
	notes := collectParts(zr, "ppt/notesSlides/notesSlide")
	if len(slides)+len(notes) == 0 {
		return nil, ErrPptxParse
	}

	var texts []string
	for _, f := range append(slides, notes...) {
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}

		paras := slideParagraphs(data)
		if len(paras) == 0 {
			continue
		}
		texts = append(texts, strings.Join(paras, "\n"))
	}

	return &ParseResult{RawText: strings.Join(texts, "\n")}, nil
}

// collectParts returns archive files matching <prefix>N.xml sorted by N.
func collectParts(zr *zip.Reader, prefix string) []*zip.File {
	numbered := make(map[int]*zip.File)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		var num int
		fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".xml"), "%d", &num)
		if num > 0 {
			numbered[num] = f
		}
	}

	nums := make([]int, 0, len(numbered))
	for n := range numbered {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	files := make([]*zip.File, 0, len(nums))
	for _, n := range nums {
		files = append(files, numbered[n])
	}
	return files
}

// slideParagraphs extracts a:p paragraph texts from one slide part.
// Paragraphs with no text runs are dropped.
func slideParagraphs(data []byte) []string {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var (
		paras  []string
		para   strings.Builder
		inPara bool
		hasRun bool
	)

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "p" && t.Name.Space == drawingMLNS:
				inPara = true
				hasRun = false
				para.Reset()
			case t.Name.Local == "t" && inPara:
				var s string
				if err := decoder.DecodeElement(&s, &t); err == nil {
					para.WriteString(s)
					hasRun = true
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" && t.Name.Space == drawingMLNS && inPara {
				if hasRun {
					if text := strings.TrimSpace(para.String()); text != "" {
						paras = append(paras, text)
					}
				}
				inPara = false
			}
		}
	}

	return paras
}
