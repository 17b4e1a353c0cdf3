package parser

import "fmt"

// Registry maps file extensions to parsers. The built-in set is fixed:
// txt, md, html, pdf, docx, pptx, xlsx, csv.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	text := &TextParser{}
	pdf := &PDFParser{}
	docx := &DOCXParser{}
	pptx := &PPTXParser{}
	xlsx := &XLSXParser{}
	csv := &CSVParser{}

	for _, p := range []Parser{text, pdf, docx, pptx, xlsx, csv} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(extension string) (Parser, error) {
	p, ok := r.parsers[extension]
	if !ok {
		return nil, fmt.Errorf("no parser for extension: %s", extension)
	}
	return p, nil
}

// Supports reports whether extension is in the supported set.
func (r *Registry) Supports(extension string) bool {
	_, ok := r.parsers[extension]
	return ok
}

// Extensions returns all supported extensions.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for e := range r.parsers {
		exts = append(exts, e)
	}
	return exts
}

func (r *Registry) Register(extension string, p Parser) {
	r.parsers[extension] = p
}
