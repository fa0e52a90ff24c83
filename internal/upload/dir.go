// Package upload spools accepted files into the session upload directory and
// serves their bytes back to the pipeline. Files live for one session only;
// nothing here survives a restart.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kaiwenliu/invoiceflow/internal/model"
	"github.com/kaiwenliu/invoiceflow/internal/pdfutil"
)

var (
	// ErrNotPDF marks parts that are not PDF documents. The upload surface
	// discards these silently instead of failing the request.
	ErrNotPDF = errors.New("not a pdf document")
	// ErrTooLarge marks parts exceeding the configured size limit.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrEmpty marks zero-byte parts.
	ErrEmpty = errors.New("empty file")
)

// Dir is a flat directory of original files keyed by random object keys. The
// record ID (filename + timestamp) is not filesystem safe, so records carry a
// separate uuid object key pointing in here.
type Dir struct {
	root     string
	maxBytes int64
}

// NewDir creates the directory if needed.
func NewDir(root string, maxBytes int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Dir{root: root, maxBytes: maxBytes}, nil
}

// SavePart streams one multipart file part to disk and returns an idle
// FileRecord for it. The MIME type is sniffed from the leading bytes and the
// document structure is validated (parseable, at least one page) before the
// record is produced; anything that is not a usable PDF is removed again and
// reported as ErrNotPDF.
func (d *Dir) SavePart(part *multipart.Part) (*model.FileRecord, error) {
	objectKey := uuid.NewString() + ".pdf"
	path := filepath.Join(d.root, objectKey)
	dst, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > d.maxBytes {
				os.Remove(path)
				return nil, ErrTooLarge
			}
			// http.DetectContentType sniffs at most 512 bytes.
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				os.Remove(path)
				return nil, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			os.Remove(path)
			return nil, readErr
		}
	}
	if written == 0 {
		os.Remove(path)
		return nil, ErrEmpty
	}
	if http.DetectContentType(sniff) != "application/pdf" {
		os.Remove(path)
		return nil, ErrNotPDF
	}
	data, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := pdfutil.PageCount(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	name := part.FileName()
	if name == "" {
		name = "upload-" + objectKey
	}
	return &model.FileRecord{
		ID:        model.RecordID(name, info.ModTime()),
		Name:      name,
		Size:      written,
		ObjectKey: objectKey,
		Status:    model.StatusIdle,
	}, nil
}

// SaveFile copies a local PDF into the spool, keyed like an upload. Used by
// the CLI, where the file's own modification time fixes the record identity.
func (d *Dir) SaveFile(path string) (*model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if _, err := pdfutil.PageCount(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	objectKey := uuid.NewString() + ".pdf"
	if err := os.WriteFile(filepath.Join(d.root, objectKey), data, 0o640); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	return &model.FileRecord{
		ID:        model.RecordID(name, info.ModTime()),
		Name:      name,
		Size:      int64(len(data)),
		ObjectKey: objectKey,
		Status:    model.StatusIdle,
	}, nil
}

// Read returns the original bytes for an object key.
func (d *Dir) Read(objectKey string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, objectKey))
}

// Remove deletes the stored bytes for an object key.
func (d *Dir) Remove(objectKey string) error {
	return os.Remove(filepath.Join(d.root, objectKey))
}
