package xlsx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func TestExtractRendersRowsPerSheet(t *testing.T) {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	require.NoError(t, book.SetCellValue("Sheet1", "A1", "Step"))
	require.NoError(t, book.SetCellValue("Sheet1", "B1", "Action"))
	require.NoError(t, book.SetCellValue("Sheet1", "A2", 1))
	require.NoError(t, book.SetCellValue("Sheet1", "B2", "Press Save"))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	out, err := NewExtractor().Extract(context.Background(), "steps.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, out.TextBlocks, 1)
	assert.Equal(t, "Sheet: Sheet1\nStep | Action\n1 | Press Save", out.TextBlocks[0])
	assert.Empty(t, out.Images)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), "steps.xlsx", []byte("not a workbook"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrUnsupportedFormat))
}

func TestSortCellsRowMajor(t *testing.T) {
	cells := []string{"B2", "A10", "A2", "C1"}
	sortCells(cells)
	assert.Equal(t, []string{"C1", "A2", "B2", "A10"}, cells)
}
