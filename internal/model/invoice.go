// Package model contains simple struct definitions shared across packages.
package model

import (
	"fmt"
	"time"
)

// FileStatus describes one file's position in the processing lifecycle.
type FileStatus string

const (
	// StatusIdle marks a freshly uploaded file waiting for the next batch.
	StatusIdle       FileStatus = "idle"
	StatusProcessing FileStatus = "processing"
	StatusSuccess    FileStatus = "success"
	StatusError      FileStatus = "error"
)

// InvoiceData holds the fields extracted from an electronic invoice, all kept
// as strings so user edits round-trip without reformatting. BusinessNumber is
// expected to be the 8-digit 統一編號 but is not strictly validated; wrong
// values are corrected by the user, not rejected.
type InvoiceData struct {
	BusinessNumber string `json:"businessNumber"`
	InvoiceDate    string `json:"invoiceDate"`
	BuyerName      string `json:"buyerName"`
}

// FileRecord tracks one uploaded PDF through the pipeline. ExtractedData,
// NewName and ErrorMessage are pointers so JSON output distinguishes "not
// present" from "empty": data and name are set together on success and only
// then, and ErrorMessage is set exactly when Status is StatusError.
type FileRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	// ObjectKey locates the original bytes in the session upload directory.
	// It never leaves the process.
	ObjectKey     string       `json:"-"`
	Status        FileStatus   `json:"status"`
	ExtractedData *InvoiceData `json:"extractedData,omitempty"`
	NewName       *string      `json:"newName,omitempty"`
	ErrorMessage  *string      `json:"errorMessage,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// RecordID derives the record identity from the original filename and its
// modification timestamp. Two distinct files with the same name and mtime
// collide; the store keeps the last write in that case.
func RecordID(name string, modTime time.Time) string {
	return fmt.Sprintf("%s-%d", name, modTime.UnixMilli())
}
