package pdfutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterizeRejectsGarbage(t *testing.T) {
	_, err := RasterizeFirstPage([]byte("this is not a pdf"))
	require.Error(t, err)

	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "PDF 解析失敗，請確認檔案內容。", re.UserMessage())
}

func TestPageCountRejectsGarbage(t *testing.T) {
	_, err := PageCount([]byte("%PDF-1.7 truncated"))
	assert.Error(t, err)

	_, err = PageCount(nil)
	assert.Error(t, err)
}
