// Package pdfutil renders and validates invoice PDFs.
package pdfutil

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

const (
	// PDFs are defined at 72 DPI; rendering at 108 DPI matches the 1.5x zoom
	// the extraction model was tuned against. Higher resolutions grow the
	// request payload without improving field accuracy.
	renderDPI = 108

	jpegQuality = 85
)

// renderUserMessage is the localized text shown on a record when its PDF
// cannot be rasterized.
const renderUserMessage = "PDF 解析失敗，請確認檔案內容。"

// RenderError wraps any failure to load or rasterize a PDF. The wrapped cause
// goes to the logs; UserMessage is what the record displays.
type RenderError struct {
	cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render pdf: %v", e.cause)
}

func (e *RenderError) Unwrap() error { return e.cause }

// UserMessage returns the normalized localized error text.
func (e *RenderError) UserMessage() string { return renderUserMessage }

// RasterizeFirstPage renders page 1 of the document to a JPEG buffer suitable
// for the vision extraction request. It fails with a *RenderError when the
// document cannot be parsed, has no pages, or the page cannot be rendered.
// Only the first page is read; multi-page invoices are out of scope.
func RasterizeFirstPage(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, &RenderError{cause: fmt.Errorf("open document: %w", err)}
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, &RenderError{cause: fmt.Errorf("document has no pages")}
	}

	img, err := doc.ImageDPI(0, renderDPI)
	if err != nil {
		return nil, &RenderError{cause: fmt.Errorf("render page 1: %w", err)}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &RenderError{cause: fmt.Errorf("encode jpeg: %w", err)}
	}
	return buf.Bytes(), nil
}
