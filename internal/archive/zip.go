// Package archive bundles renamed invoice files into a single zip download.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
)

// ErrNoEntries is returned when there is nothing to bundle; callers must not
// produce an empty archive.
var ErrNoEntries = errors.New("no files to archive")

// Entry is one file destined for the archive, already carrying its derived
// name.
type Entry struct {
	Name string
	Data []byte
}

// Build writes all entries into a zip archive, each under its derived name.
func Build(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
