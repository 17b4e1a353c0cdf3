package parser

import "context"

// ParseTask is one document handed to a parser. It is created by the caller,
// consumed exactly once, and never mutated after creation.
type ParseTask struct {
	SourceID  string // stable identifier of the source (file id, path, url)
	Extension string // lowercase file extension without the dot
	Buffer    []byte // raw document bytes
	Encoding  string // declared text encoding, may be empty
}

// ParseResult is what a parser produces from a document buffer.
type ParseResult struct {
	RawText    string           // normalized plain/markdown text
	FormatText string           // optional tabular/markdown rendering (csv, xlsx)
	Images     []ExtractedImage // embedded images pulled out during parsing
}

// ExtractedImage is an inline image extracted while parsing. Its MarkerID
// occurs verbatim inside RawText and is substituted with the final asset
// reference after upload.
type ExtractedImage struct {
	MarkerID string
	Data     []byte
	MIMEType string
}

// Parser can parse a specific document format. Parsers are pure over
// (buffer, encoding) and are expected to run inside an isolated worker
// because parsing libraries are a common source of crashes and unbounded
// CPU use.
type Parser interface {
	Parse(ctx context.Context, task *ParseTask) (*ParseResult, error)
	SupportedFormats() []string
}
