package storage

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies where an object came from. Every source kind binds
// to exactly one bucket visibility class.
type SourceKind string

const (
	SourceAvatar      SourceKind = "avatar"
	SourceChatFile    SourceKind = "chat"
	SourceDatasetFile SourceKind = "dataset"
	SourceRawText     SourceKind = "rawtext"
)

// Visibility is a bucket's access class.
type Visibility int

const (
	// Private buckets are accessed only via expiring presigned URLs or
	// server-side streaming.
	Private Visibility = iota
	// Public buckets are world-readable with stable URL construction.
	Public
)

// visibilityBySource is the fixed source-kind to bucket mapping.
var visibilityBySource = map[SourceKind]Visibility{
	SourceAvatar:      Public,
	SourceChatFile:    Private,
	SourceDatasetFile: Private,
	SourceRawText:     Private,
}

// VisibilityFor returns the bucket class for a source kind. Unknown kinds
// default to Private.
func VisibilityFor(source SourceKind) Visibility {
	v, ok := visibilityBySource[source]
	if !ok {
		return Private
	}
	return v
}

// ObjectKey builds a hierarchical key encoding source, owner, date bucket,
// and a random suffix to avoid collisions:
//
//	<source>/<ownerID>/<yyyy-mm-dd>/<uuid><ext>
func ObjectKey(source SourceKind, ownerID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s/%s/%s/%s%s",
		source, ownerID, time.Now().UTC().Format("2006-01-02"), uuid.NewString(), ext)
}

const parsedSuffix = "-parsed"

// ParsedPrefix derives the sibling prefix holding assets extracted while
// parsing key: same directory, same basename without extension, with a
// "-parsed" suffix. For "a/b/doc.pdf" that is "a/b/doc-parsed".
func ParsedPrefix(key string) string {
	dir, base := path.Split(key)
	if ext := path.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return dir + base + parsedSuffix
}

// IsParsedKey reports whether key lives inside a "-parsed" derived-asset
// prefix, or is itself the root of one. Cascading deletion stops at such
// keys to avoid recursing forever.
func IsParsedKey(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if ext := path.Ext(seg); ext != "" {
			seg = seg[:len(seg)-len(ext)]
		}
		if strings.HasSuffix(seg, parsedSuffix) {
			return true
		}
	}
	return false
}

// ContentTypeForFilename infers a MIME type from the file extension,
// defaulting to octet-stream.
func ContentTypeForFilename(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
