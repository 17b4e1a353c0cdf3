package parser

import (
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// htmlToMarkdown converts an HTML fragment to markdown. Table support is
// enabled so docx tables survive as markdown tables.
func htmlToMarkdown(html string) (string, error) {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.Table())
	return conv.ConvertString(html)
}
