package pdfutil

import (
	"bytes"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// PageCount parses the document structure and returns the number of pages.
// It is much cheaper than rasterizing and is used at upload time to discard
// files that only pretend to be PDFs.
func PageCount(data []byte) (int, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	pages := doc.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return pages, nil
}
