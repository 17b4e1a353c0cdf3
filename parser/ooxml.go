package parser

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"
)

// OOXML containers (docx, pptx) share the same relationship and media
// plumbing; the helpers here are used by both parsers.

// zipIndex builds a name -> file lookup for an opened OOXML archive.
func zipIndex(zr *zip.Reader) map[string]*zip.File {
	idx := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		idx[f.Name] = f
	}
	return idx
}

// ooxmlRelationships represents a .rels XML part.
type ooxmlRelationships struct {
	XMLName xml.Name            `xml:"Relationships"`
	Rels    []ooxmlRelationship `xml:"Relationship"`
}

type ooxmlRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
	Type   string `xml:"Type,attr"`
}

// parseRels reads a relationships part and returns an rId -> target map.
func parseRels(fileIndex map[string]*zip.File, relsPath string) map[string]string {
	relsFile := fileIndex[relsPath]
	if relsFile == nil {
		return nil
	}

	rc, err := relsFile.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}

	var rels ooxmlRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}

	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel.Target
	}
	return result
}

// resolveBlip resolves an a:blip element to its media bytes and wraps them
// as an ExtractedImage with a fresh marker. Targets are relative to baseDir
// (word/ for docx, ppt/slides/ for pptx). Unresolvable or tiny images are
// skipped.
func resolveBlip(se xml.StartElement, rels map[string]string, fileIndex map[string]*zip.File, baseDir string) *ExtractedImage {
	if rels == nil {
		return nil
	}

	var embedID string
	for _, attr := range se.Attr {
		if attr.Name.Local == "embed" {
			embedID = attr.Value
			break
		}
	}
	if embedID == "" {
		return nil
	}

	target, ok := rels[embedID]
	if !ok {
		return nil
	}

	mediaPath := filepath.Clean(baseDir + target)
	mediaPath = strings.ReplaceAll(mediaPath, "\\", "/")

	zf := fileIndex[mediaPath]
	if zf == nil {
		return nil
	}

	rc, err := zf.Open()
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil
	}

	mimeType := mimeFromExt(filepath.Ext(zf.Name))
	if mimeType == "" {
		return nil
	}

	w, h := imageSize(data)
	if w == 0 || h == 0 {
		return nil
	}
	if w < 32 || h < 32 {
		return nil
	}

	return &ExtractedImage{
		MarkerID: newMarkerID(),
		Data:     data,
		MIMEType: mimeType,
	}
}
