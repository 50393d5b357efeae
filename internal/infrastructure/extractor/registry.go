package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

// Registry dispatches extraction by lower-cased file extension.
type Registry struct {
	byExt map[string]ports.DocumentExtractor
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]ports.DocumentExtractor)}
}

// Register binds extractor to each extension, given with or without the dot.
func (r *Registry) Register(extractor ports.DocumentExtractor, exts ...string) *Registry {
	for _, ext := range exts {
		r.byExt[normalizeExt(ext)] = extractor
	}
	return r
}

func (r *Registry) Supports(filename string) bool {
	_, ok := r.byExt[normalizeExt(filepath.Ext(filename))]
	return ok
}

// Extensions returns the registered extensions without dots, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Extract(ctx context.Context, filename string, data []byte) (*domain.Extraction, error) {
	ext := normalizeExt(filepath.Ext(filename))
	extractor, ok := r.byExt[ext]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "extract", fmt.Errorf("no extractor for %q", filename))
	}
	return extractor.Extract(ctx, filename, data)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

var documentMimeTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// DocumentMimeType maps a manual filename to its content type.
func DocumentMimeType(filename string) string {
	if mt, ok := documentMimeTypes[normalizeExt(filepath.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".emf":  "image/x-emf",
	".wmf":  "image/x-wmf",
	".svg":  "image/svg+xml",
}

func ImageMimeType(name string) string {
	if mt, ok := imageMimeTypes[normalizeExt(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ImageExtension is the inverse of ImageMimeType, used for storage keys.
func ImageExtension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "image/webp":
		return "webp"
	case "image/x-emf":
		return "emf"
	case "image/x-wmf":
		return "wmf"
	case "image/svg+xml":
		return "svg"
	default:
		return "bin"
	}
}
