package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// TextParser handles plain text, markdown, and HTML.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "html"} }

func (p *TextParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	text, err := decodeText(task.Buffer, task.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding text: %w", err)
	}

	if task.Extension == "html" {
		text, err = htmlToMarkdown(text)
		if err != nil {
			return nil, fmt.Errorf("converting HTML to markdown: %w", err)
		}
	}

	text, images := extractMarkdownImages(text)

	return &ParseResult{
		RawText: text,
		Images:  images,
	}, nil
}

// Inline base64 data-URI images in markdown image syntax.
var mdImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(data:(image/[a-zA-Z+.\-]+);base64,([A-Za-z0-9+/=\s]+)\)`)

// extractMarkdownImages pulls embedded base64 images out of markdown text,
// replacing each with a marker reference the same way the DOCX parser does.
func extractMarkdownImages(text string) (string, []ExtractedImage) {
	var images []ExtractedImage

	out := mdImageRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := mdImageRe.FindStringSubmatch(match)
		if groups == nil {
			return match
		}
		alt, mimeType, payload := groups[1], groups[2], groups[3]

		data, err := base64.StdEncoding.DecodeString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, payload))
		if err != nil || len(data) == 0 {
			return match
		}

		img := ExtractedImage{
			MarkerID: newMarkerID(),
			Data:     data,
			MIMEType: mimeType,
		}
		images = append(images, img)
		return fmt.Sprintf("![%s](%s)", alt, img.MarkerID)
	})

	return out, images
}
