package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

var pdfMagic = []byte("%PDF-")

// Extractor pulls plain text page by page. Embedded images are not extracted.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (out *domain.Extraction, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "pdf open", fmt.Errorf("%s is not a pdf", filename))
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			if out == nil {
				out = &domain.Extraction{}
			}
			err = domain.WrapError(domain.ErrExtraction, "pdf extract", fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "pdf open", err)
	}

	out = &domain.Extraction{}
	var problems []error
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			problems = append(problems, fmt.Errorf("page %d: %w", i, err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			out.TextBlocks = append(out.TextBlocks, text)
		}
	}

	if len(problems) > 0 {
		return out, domain.WrapError(domain.ErrExtraction, "pdf extract", errors.Join(problems...))
	}
	return out, nil
}
