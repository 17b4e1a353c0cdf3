package storage

import (
	"strings"
	"testing"
)

func TestObjectKeyShape(t *testing.T) {
	key := ObjectKey(SourceDatasetFile, "user42", "Report Final.PDF")

	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		t.Fatalf("key %q should have 4 segments", key)
	}
	if parts[0] != "dataset" {
		t.Errorf("source segment = %q", parts[0])
	}
	if parts[1] != "user42" {
		t.Errorf("owner segment = %q", parts[1])
	}
	if len(parts[2]) != 10 || strings.Count(parts[2], "-") != 2 {
		t.Errorf("date segment %q not yyyy-mm-dd", parts[2])
	}
	if !strings.HasSuffix(parts[3], ".pdf") {
		t.Errorf("extension not lowercased: %q", parts[3])
	}

	// Same inputs still produce distinct keys.
	if key == ObjectKey(SourceDatasetFile, "user42", "Report Final.PDF") {
		t.Error("keys must not collide for repeated uploads")
	}
}

func TestVisibilityFor(t *testing.T) {
	tests := []struct {
		source SourceKind
		want   Visibility
	}{
		{SourceAvatar, Public},
		{SourceChatFile, Private},
		{SourceDatasetFile, Private},
		{SourceRawText, Private},
		{SourceKind("mystery"), Private},
	}
	for _, tt := range tests {
		if got := VisibilityFor(tt.source); got != tt.want {
			t.Errorf("VisibilityFor(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestParsedPrefix(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"a/b/doc.pdf", "a/b/doc-parsed"},
		{"doc.pdf", "doc-parsed"},
		{"a/b/noext", "a/b/noext-parsed"},
		{"dataset/u1/2026-08-28/f00.docx", "dataset/u1/2026-08-28/f00-parsed"},
	}
	for _, tt := range tests {
		if got := ParsedPrefix(tt.key); got != tt.want {
			t.Errorf("ParsedPrefix(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestIsParsedKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"a/b/doc.pdf", false},
		{"a/b/doc-parsed/img1.png", true},
		{"a/b/doc-parsed", true},
		{"a/doc-parsed.png", true}, // extension stripped before the check
		{"a/b-parsed-not/doc.pdf", false},
		{"parsed/doc.pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsParsedKey(tt.key); got != tt.want {
			t.Errorf("IsParsedKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestParsedPrefixNeverCascades(t *testing.T) {
	// The derived prefix of any non-parsed key is itself recognized as
	// parsed, which is what stops recursive cascades.
	for _, key := range []string{"a/b/doc.pdf", "x.docx", "deep/tree/of/keys/file.txt"} {
		if !IsParsedKey(ParsedPrefix(key)) {
			t.Errorf("ParsedPrefix(%q) = %q not recognized as parsed", key, ParsedPrefix(key))
		}
	}
}

func TestContentTypeForFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"a.pdf", "application/pdf"},
		{"a.png", "image/png"},
		{"a.unknownext", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		got := ContentTypeForFilename(tt.filename)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("ContentTypeForFilename(%q) = %q, want prefix %q", tt.filename, got, tt.want)
		}
	}
}
