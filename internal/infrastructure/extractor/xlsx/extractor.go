package xlsx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/extractor"
)

// Extractor renders each sheet as one text block of pipe-separated rows and
// collects pictures anchored to cells, ordered by sheet, row, then column.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*domain.Extraction, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "xlsx open", fmt.Errorf("%s: %w", filename, err))
	}
	defer func() {
		_ = book.Close()
	}()

	out := &domain.Extraction{}
	var problems []error
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := book.GetRows(sheet)
		if err != nil {
			problems = append(problems, fmt.Errorf("sheet %s rows: %w", sheet, err))
		} else if block := renderSheet(sheet, rows); block != "" {
			out.TextBlocks = append(out.TextBlocks, block)
		}

		cells, err := book.GetPictureCells(sheet)
		if err != nil {
			problems = append(problems, fmt.Errorf("sheet %s pictures: %w", sheet, err))
			continue
		}
		sortCells(cells)
		for _, cell := range cells {
			pics, err := book.GetPictures(sheet, cell)
			if err != nil {
				problems = append(problems, fmt.Errorf("sheet %s cell %s: %w", sheet, cell, err))
				continue
			}
			for _, pic := range pics {
				name := fmt.Sprintf("%s_%s%s", sheet, cell, pic.Extension)
				out.Images = append(out.Images, domain.ExtractedImage{
					Position: len(out.Images),
					Name:     name,
					MimeType: extractor.ImageMimeType(name),
					Data:     pic.File,
				})
			}
		}
	}

	if len(problems) > 0 {
		return out, domain.WrapError(domain.ErrExtraction, "xlsx extract", errors.Join(problems...))
	}
	return out, nil
}

func renderSheet(sheet string, rows [][]string) string {
	lines := make([]string, 0, len(rows)+1)
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, strings.TrimSpace(cell))
		}
		line := strings.TrimRight(strings.Join(cells, " | "), " |")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Sheet: " + sheet + "\n" + strings.Join(lines, "\n")
}

func sortCells(cells []string) {
	sort.SliceStable(cells, func(i, j int) bool {
		ci, ri, erri := excelize.CellNameToCoordinates(cells[i])
		cj, rj, errj := excelize.CellNameToCoordinates(cells[j])
		if erri != nil || errj != nil {
			return cells[i] < cells[j]
		}
		if ri != rj {
			return ri < rj
		}
		return ci < cj
	})
}
