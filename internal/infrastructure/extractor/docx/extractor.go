// Package docx reads WordprocessingML packages: paragraph text from
// word/document.xml and embedded pictures resolved through its relationships.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor"
)

const (
	wordNS     = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	drawingNS  = "http://schemas.openxmlformats.org/drawingml/2006/main"
	relationNS = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

	documentPart = "word/document.xml"
	relsPart     = "word/_rels/document.xml.rels"

	maxPartSize = 64 << 20
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*domain.Extraction, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "docx open", fmt.Errorf("%s is not a docx package: %w", filename, err))
	}
	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[f.Name] = f
	}
	docFile, ok := files[documentPart]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "docx open", fmt.Errorf("%s has no %s", filename, documentPart))
	}

	rels, relErr := readRelationships(files[relsPart])

	body, err := readPart(docFile)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "docx read body", err)
	}
	blocks, refs, parseErr := parseBody(body)

	out := &domain.Extraction{TextBlocks: blocks}
	var problems []error
	if parseErr != nil {
		problems = append(problems, parseErr)
	}
	if relErr != nil && len(refs) > 0 {
		problems = append(problems, relErr)
	}

	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		rel, ok := rels[ref]
		if !ok {
			if relErr == nil {
				problems = append(problems, fmt.Errorf("image relationship %s not found", ref))
			}
			continue
		}
		if strings.EqualFold(rel.TargetMode, "External") {
			continue
		}
		target := resolveTarget(rel.Target)
		media, ok := files[target]
		if !ok {
			problems = append(problems, fmt.Errorf("image %s missing from package", target))
			continue
		}
		raw, err := readPart(media)
		if err != nil {
			problems = append(problems, fmt.Errorf("read image %s: %w", target, err))
			continue
		}
		out.Images = append(out.Images, domain.ExtractedImage{
			Position: len(out.Images),
			Name:     path.Base(target),
			MimeType: extractor.ImageMimeType(target),
			Data:     raw,
		})
	}

	if len(problems) > 0 {
		return out, domain.WrapError(domain.ErrExtraction, "docx extract", errors.Join(problems...))
	}
	return out, nil
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

func readRelationships(f *zip.File) (map[string]relationship, error) {
	out := make(map[string]relationship)
	if f == nil {
		return out, fmt.Errorf("%s missing", relsPart)
	}
	raw, err := readPart(f)
	if err != nil {
		return out, err
	}
	var doc struct {
		Relationships []relationship `xml:"Relationship"`
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return out, fmt.Errorf("parse %s: %w", relsPart, err)
	}
	for _, rel := range doc.Relationships {
		out[rel.ID] = rel
	}
	return out, nil
}

func resolveTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}
	return path.Clean(path.Join("word", target))
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(raw) > maxPartSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxPartSize)
	}
	return raw, nil
}

// parseBody streams document.xml and returns paragraph texts plus image
// relationship ids in order of appearance. Paragraphs nested in text boxes are
// emitted before the paragraph that contains them.
func parseBody(body []byte) ([]string, []string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		blocks []string
		refs   []string
		stack  []*strings.Builder
		inText bool
	)
	current := func() *strings.Builder {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			for i := len(stack) - 1; i >= 0; i-- {
				if text := strings.TrimSpace(stack[i].String()); text != "" {
					blocks = append(blocks, text)
				}
			}
			return blocks, refs, fmt.Errorf("parse %s: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == wordNS && t.Name.Local == "p":
				stack = append(stack, &strings.Builder{})
			case t.Name.Space == wordNS && t.Name.Local == "t":
				inText = true
			case t.Name.Space == wordNS && t.Name.Local == "tab":
				if b := current(); b != nil {
					b.WriteByte('\t')
				}
			case t.Name.Space == wordNS && (t.Name.Local == "br" || t.Name.Local == "cr"):
				if b := current(); b != nil {
					b.WriteByte('\n')
				}
			case t.Name.Space == drawingNS && t.Name.Local == "blip":
				if id := attr(t, relationNS, "embed"); id != "" {
					refs = append(refs, id)
				}
			case t.Name.Local == "imagedata":
				if id := attr(t, relationNS, "id"); id != "" {
					refs = append(refs, id)
				}
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == wordNS && t.Name.Local == "t":
				inText = false
			case t.Name.Space == wordNS && t.Name.Local == "p" && len(stack) > 0:
				b := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if text := strings.TrimSpace(b.String()); text != "" {
					blocks = append(blocks, text)
				}
			}
		case xml.CharData:
			if inText {
				if b := current(); b != nil {
					b.Write(t)
				}
			}
		}
	}
	return blocks, refs, nil
}

func attr(el xml.StartElement, space, local string) string {
	for _, a := range el.Attr {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
