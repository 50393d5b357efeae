package html

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd, figcaption, caption"

// Extractor reads exported HTML manuals. Leaf block elements become text
// blocks; images are taken only from data: URIs, remote sources are skipped.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*domain.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "html parse", fmt.Errorf("%s: %w", filename, err))
	}
	doc.Find("script, style, noscript, template").Remove()

	out := &domain.Extraction{}
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if text := normalizeSpace(s.Text()); text != "" {
			out.TextBlocks = append(out.TextBlocks, text)
		}
	})
	if len(out.TextBlocks) == 0 {
		if text := normalizeSpace(doc.Find("body").Text()); text != "" {
			out.TextBlocks = append(out.TextBlocks, text)
		}
	}

	var problems []error
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		if ctx.Err() != nil {
			return
		}
		src, _ := s.Attr("src")
		if !strings.HasPrefix(strings.TrimSpace(src), "data:") {
			return
		}
		mimeType, raw, err := decodeDataURI(src)
		if err != nil {
			problems = append(problems, fmt.Errorf("img %d: %w", i, err))
			return
		}
		out.Images = append(out.Images, domain.ExtractedImage{
			Position: len(out.Images),
			Name:     fmt.Sprintf("image%d.%s", len(out.Images)+1, extractor.ImageExtension(mimeType)),
			MimeType: mimeType,
			Data:     raw,
		})
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(problems) > 0 {
		return out, domain.WrapError(domain.ErrExtraction, "html extract", errors.Join(problems...))
	}
	return out, nil
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) (string, []byte, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(uri), "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("malformed data uri")
	}
	params := strings.Split(meta, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", nil, fmt.Errorf("data uri is %s, not an image", mimeType)
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("unescape data uri: %w", err)
		}
		return mimeType, []byte(decoded), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return mimeType, raw, nil
}
