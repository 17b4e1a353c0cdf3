package parser

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// knownEncodings is the fixed allow-list of declared encodings decoded
// verbatim. Anything else falls back to GB18030, which also decodes plain
// ASCII and most legacy codepage content without error.
var knownEncodings = map[string]encoding.Encoding{
	"utf-8":      unicode.UTF8,
	"utf8":       unicode.UTF8,
	"ascii":      unicode.UTF8,
	"utf-16le":   unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16be":   unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	"latin1":     charmap.ISO8859_1,
	"iso-8859-1": charmap.ISO8859_1,
}

// decodeText decodes buf using the declared encoding, or the fallback
// legacy-codepage decoder when the declaration is absent or unknown.
func decodeText(buf []byte, declared string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(declared))

	enc, ok := knownEncodings[name]
	if !ok {
		enc = simplifiedchinese.GB18030
	}

	out, err := enc.NewDecoder().Bytes(buf)
	if err != nil {
		// A failed legacy decode still has a usable UTF-8 interpretation
		// more often than not; prefer returning something readable.
		if !ok {
			return string(buf), nil
		}
		return "", err
	}
	return string(out), nil
}
