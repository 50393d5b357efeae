package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

type stubExtractor struct {
	calls int
}

func (s *stubExtractor) Extract(context.Context, string, []byte) (*domain.Extraction, error) {
	s.calls++
	return &domain.Extraction{TextBlocks: []string{"ok"}}, nil
}

func TestRegistryDispatchesByExtension(t *testing.T) {
	stub := &stubExtractor{}
	reg := NewRegistry().Register(stub, "docx", ".PDF")

	out, err := reg.Extract(context.Background(), "Guide.DOCX", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, out.TextBlocks)

	_, err = reg.Extract(context.Background(), "scan.pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
	assert.True(t, reg.Supports("a.pdf"))
	assert.Equal(t, []string{"docx", "pdf"}, reg.Extensions())
}

func TestRegistryRejectsUnknownExtension(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Extract(context.Background(), "slides.pptx", []byte("x"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrUnsupportedFormat))
}

func TestImageMimeRoundTrip(t *testing.T) {
	assert.Equal(t, "image/jpeg", ImageMimeType("media/image1.JPEG"))
	assert.Equal(t, "jpg", ImageExtension("image/jpeg"))
	assert.Equal(t, "bin", ImageExtension("application/x-unknown"))
}
