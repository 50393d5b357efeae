// Package imaging converts extracted pictures into PNG, the one format every
// supported vision backend accepts.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const maxPixels = 40_000_000

// ToPNG re-encodes data as PNG. PNG input is returned unchanged after a header
// check. Formats the decoder does not know are rejected with ErrInvalidInput so
// the worker parks the task instead of retrying it.
func ToPNG(data []byte) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode image",
			fmt.Errorf("unsupported dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if format == "png" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode image", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
