package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// Extractor accepts UTF-8 text and markdown; blank-line separated paragraphs
// become text blocks.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, filename string, raw []byte) (*domain.Extraction, error) {
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "plaintext extract", fmt.Errorf("binary content in %s", filename))
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	out := &domain.Extraction{}
	for _, para := range strings.Split(text, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			out.TextBlocks = append(out.TextBlocks, para)
		}
	}
	return out, nil
}
