package html

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func TestExtractLeafBlocksAndDataImages(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	page := `<html><head><style>p{color:red}</style></head><body>
<h1>Course   setup</h1>
<ul><li><p>Open <b>Courses</b></p></li><li>Click Add</li></ul>
<img src="https://example.com/remote.png">
<img src="data:image/png;base64,` + png + `">
<script>var x = 1;</script>
</body></html>`

	out, err := NewExtractor().Extract(context.Background(), "setup.html", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"Course setup", "Open Courses", "Click Add"}, out.TextBlocks)
	require.Len(t, out.Images, 1)
	assert.Equal(t, "image/png", out.Images[0].MimeType)
	assert.Equal(t, []byte("png-bytes"), out.Images[0].Data)
	assert.Equal(t, 0, out.Images[0].Position)
}

func TestExtractBadDataURIIsPartial(t *testing.T) {
	page := `<body><p>Text</p><img src="data:image/png;base64,@@@"></body>`
	out, err := NewExtractor().Extract(context.Background(), "x.html", []byte(page))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrExtraction))
	assert.Equal(t, []string{"Text"}, out.TextBlocks)
	assert.Empty(t, out.Images)
}

func TestExtractFallsBackToBodyText(t *testing.T) {
	out, err := NewExtractor().Extract(context.Background(), "x.html", []byte(`<body><div>Just  a div</div></body>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Just a div"}, out.TextBlocks)
}
