package parser

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	formats := []struct {
		format     string
		wantParser string
	}{
		{"pdf", "*parser.PDFParser"},
		{"docx", "*parser.DOCXParser"},
		{"pptx", "*parser.PPTXParser"},
		{"xlsx", "*parser.XLSXParser"},
		{"csv", "*parser.CSVParser"},
		{"txt", "*parser.TextParser"},
		{"md", "*parser.TextParser"},
		{"html", "*parser.TextParser"},
	}

	for _, tt := range formats {
		t.Run(tt.format, func(t *testing.T) {
			p, err := reg.Get(tt.format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", tt.format, err)
			}
			if p == nil {
				t.Fatalf("Get(%q) returned nil parser", tt.format)
			}
			supported := p.SupportedFormats()
			found := false
			for _, f := range supported {
				if f == tt.format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list %q in SupportedFormats(): %v",
					tt.format, tt.format, supported)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	unknownFormats := []string{"rtf", "odt", "json", "exe", ""}
	for _, format := range unknownFormats {
		t.Run("format_"+format, func(t *testing.T) {
			if reg.Supports(format) {
				t.Errorf("Supports(%q) = true, want false", format)
			}
			if _, err := reg.Get(format); err == nil {
				t.Errorf("Get(%q) expected error for unknown format", format)
			}
		})
	}
}

type fakeParser struct{}

func (f *fakeParser) SupportedFormats() []string { return []string{"fake"} }
func (f *fakeParser) Parse(ctx context.Context, task *ParseTask) (*ParseResult, error) {
	return &ParseResult{RawText: "fake"}, nil
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", &fakeParser{})

	if !reg.Supports("fake") {
		t.Fatal("registered format not supported")
	}
	p, err := reg.Get("fake")
	if err != nil {
		t.Fatalf("Get(fake): %v", err)
	}
	if _, ok := p.(*fakeParser); !ok {
		t.Errorf("Get(fake) returned %T, want *fakeParser", p)
	}
}

func TestRegistrySharedTextParser(t *testing.T) {
	reg := NewRegistry()

	txt, _ := reg.Get("txt")
	md, _ := reg.Get("md")
	html, _ := reg.Get("html")
	if txt != md || md != html {
		t.Error("txt, md, and html should share one parser instance")
	}
}

// ---------------------------------------------------------------------------
// Markdown table rendering
// ---------------------------------------------------------------------------

func TestMarkdownTable(t *testing.T) {
	rows := [][]string{
		{"Name", "Age"},
		{"Ada", "36"},
		{"Grace", "45"},
	}

	got := markdownTable("People", rows)
	want := "#People\n" +
		"| Name | Age |\n" +
		"| --- | --- |\n" +
		"| Ada | 36 |\n" +
		"| Grace | 45 |\n"
	if got != want {
		t.Errorf("markdownTable:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestMarkdownTableRaggedRows(t *testing.T) {
	rows := [][]string{
		{"a", "b", "c"},
		{"1"},
		{"1", "2", "3", "4"},
	}

	got := markdownTable("", rows)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), got)
	}
	// Short rows are padded to the header width.
	if lines[2] != "| 1 |  |  |" {
		t.Errorf("short row not padded: %q", lines[2])
	}
	// Long rows keep their extra cells.
	if lines[3] != "| 1 | 2 | 3 | 4 |" {
		t.Errorf("long row truncated: %q", lines[3])
	}
}

func TestMarkdownTableEmpty(t *testing.T) {
	if got := markdownTable("x", nil); got != "" {
		t.Errorf("empty rows should render nothing, got %q", got)
	}
}

func TestSanitizeCell(t *testing.T) {
	tests := []struct {
		in       string
		markdown bool
		want     string
	}{
		{"plain", false, "plain"},
		{"two\nlines", false, "two lines"},
		{"crlf\r\nhere", false, "crlf here"},
		{"a|b", true, "a\\|b"},
		{"a|b", false, "a|b"},
	}
	for _, tt := range tests {
		if got := sanitizeCell(tt.in, tt.markdown); got != tt.want {
			t.Errorf("sanitizeCell(%q, %v) = %q, want %q", tt.in, tt.markdown, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Text / markdown / HTML parser
// ---------------------------------------------------------------------------

func TestTextParserPlain(t *testing.T) {
	p := &TextParser{}
	result, err := p.Parse(context.Background(), &ParseTask{
		Extension: "txt",
		Buffer:    []byte("hello world\n"),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.RawText != "hello world\n" {
		t.Errorf("RawText = %q", result.RawText)
	}
	if len(result.Images) != 0 {
		t.Errorf("expected no images, got %d", len(result.Images))
	}
}

func TestTextParserHTML(t *testing.T) {
	p := &TextParser{}
	result, err := p.Parse(context.Background(), &ParseTask{
		Extension: "html",
		Buffer:    []byte("<h1>Title</h1><p>Body with <strong>bold</strong>.</p>"),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(result.RawText, "# Title") {
		t.Errorf("heading not converted:\n%s", result.RawText)
	}
	if !strings.Contains(result.RawText, "**bold**") {
		t.Errorf("bold not converted:\n%s", result.RawText)
	}
}

// tinyPNGBase64 is a 1x1 transparent PNG.
const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func TestExtractMarkdownImages(t *testing.T) {
	text := "before\n![logo](data:image/png;base64," + tinyPNGBase64 + ")\nafter"

	out, images := extractMarkdownImages(text)
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	img := images[0]
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", img.MIMEType)
	}
	want, _ := base64.StdEncoding.DecodeString(tinyPNGBase64)
	if len(img.Data) != len(want) {
		t.Errorf("decoded %d bytes, want %d", len(img.Data), len(want))
	}
	if !strings.Contains(out, "![logo]("+img.MarkerID+")") {
		t.Errorf("marker not substituted:\n%s", out)
	}
	if strings.Contains(out, "base64") {
		t.Errorf("data URI survived substitution:\n%s", out)
	}
}

func TestExtractMarkdownImagesInvalidPayload(t *testing.T) {
	text := "![x](data:image/png;base64,!!!not-base64!!!)"

	out, images := extractMarkdownImages(text)
	if len(images) != 0 {
		t.Errorf("invalid payload should extract nothing, got %d images", len(images))
	}
	if out != text {
		t.Errorf("invalid payload should be left intact:\n%s", out)
	}
}

// ---------------------------------------------------------------------------
// CSV parser
// ---------------------------------------------------------------------------

func TestCSVParser(t *testing.T) {
	input := "name,score\nalice,10\nbob,20\n"

	p := &CSVParser{}
	result, err := p.Parse(context.Background(), &ParseTask{
		Extension: "csv",
		Buffer:    []byte(input),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.RawText != input {
		t.Errorf("RawText = %q, want the decoded input", result.RawText)
	}
	want := "| name | score |\n| --- | --- |\n| alice | 10 |\n| bob | 20 |\n"
	if result.FormatText != want {
		t.Errorf("FormatText:\ngot:\n%s\nwant:\n%s", result.FormatText, want)
	}
}

func TestCSVParserRaggedRows(t *testing.T) {
	p := &CSVParser{}
	result, err := p.Parse(context.Background(), &ParseTask{
		Extension: "csv",
		Buffer:    []byte("a,b,c\n1,2\n"),
	})
	if err != nil {
		t.Fatalf("ragged CSV should parse: %v", err)
	}
	if !strings.Contains(result.FormatText, "| 1 | 2 |  |") {
		t.Errorf("short row not padded:\n%s", result.FormatText)
	}
}

func TestCSVParserEmpty(t *testing.T) {
	p := &CSVParser{}
	if _, err := p.Parse(context.Background(), &ParseTask{Extension: "csv", Buffer: nil}); err == nil {
		t.Error("expected error for empty CSV")
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		buf      []byte
		want     string
	}{
		{"utf8", "utf-8", []byte("héllo"), "héllo"},
		{"utf8 alias", "UTF8", []byte("plain"), "plain"},
		{"latin1", "latin1", []byte{0x63, 0x61, 0x66, 0xE9}, "café"},
		{"iso alias", "ISO-8859-1", []byte{0xE9}, "é"},
		{"fallback ascii", "", []byte("just ascii"), "just ascii"},
		{"fallback gb18030", "", []byte{0xD6, 0xD0, 0xCE, 0xC4}, "中文"},
		{"unknown declared", "klingon", []byte("abc"), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeText(tt.buf, tt.declared)
			if err != nil {
				t.Fatalf("decodeText: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeText = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Image helpers
// ---------------------------------------------------------------------------

func TestMarkerIDs(t *testing.T) {
	a, b := newMarkerID(), newMarkerID()
	if a == b {
		t.Error("marker ids must be unique")
	}
	if !strings.HasPrefix(a, "IMG_") {
		t.Errorf("marker id %q missing prefix", a)
	}
	if strings.Contains(a, "-") {
		t.Errorf("marker id %q should not contain dashes", a)
	}
}

func TestMIMERoundTrip(t *testing.T) {
	tests := []struct {
		ext  string
		mime string
	}{
		{".png", "image/png"},
		{".jpg", "image/jpeg"},
		{".gif", "image/gif"},
		{".webp", "image/webp"},
	}
	for _, tt := range tests {
		if got := mimeFromExt(tt.ext); got != tt.mime {
			t.Errorf("mimeFromExt(%q) = %q, want %q", tt.ext, got, tt.mime)
		}
		if got := ExtForMIME(tt.mime); got == "" {
			t.Errorf("ExtForMIME(%q) returned empty extension", tt.mime)
		}
	}
	if got := ExtForMIME("application/octet-stream"); got != ".bin" {
		t.Errorf("unknown MIME should map to .bin, got %q", got)
	}
}
