// Package store holds the session's file records. It is the single shared
// mutable resource in the process: the HTTP layer reads from it while the
// pipeline's completions and user edits write to it, so every mutation
// happens under the write lock as a whole-record replacement keyed by ID.
// Writes to different keys commute; completion order between files never
// changes the final state.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kaiwenliu/invoiceflow/internal/model"
	"github.com/kaiwenliu/invoiceflow/internal/naming"
)

var (
	// ErrNotFound is returned when no record has the requested ID.
	ErrNotFound = errors.New("file record not found")
	// ErrInvalidTransition is returned when a mutation does not apply to the
	// record's current status, e.g. editing fields of a failed record.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Counts aggregates record statuses for readiness checks: Idle gates the
// process action, Success gates download and email, Processing disables both.
type Counts struct {
	Idle       int `json:"idle"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Error      int `json:"error"`
}

// MemoryStore is an in-memory record store guarded by an RWMutex. Read locks
// allow concurrent readers; all writers serialize on the write lock.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*model.FileRecord),
	}
}

// Add inserts a record, replacing any record with the same ID. Identity is
// filename plus modification time, so a re-upload of the same file takes the
// slot of its predecessor.
func (m *MemoryStore) Add(record *model.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = model.StatusIdle
	}
	m.files[record.ID] = record
}

// Get returns a copy of a record so callers can never mutate shared state.
func (m *MemoryStore) Get(id string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns copies of all records ordered by creation time.
func (m *MemoryStore) List() []*model.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkProcessing moves an idle record into processing. Any other starting
// status is rejected: records never return to processing without a reset.
func (m *MemoryStore) MarkProcessing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != model.StatusIdle {
		return ErrInvalidTransition
	}
	rec.Status = model.StatusProcessing
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete finishes a processing attempt with extracted data. The derived
// name is computed inside the critical section so no reader ever observes
// data without its matching name.
func (m *MemoryStore) Complete(id string, data model.InvoiceData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != model.StatusProcessing {
		return ErrInvalidTransition
	}
	name := naming.Derive(data)
	rec.Status = model.StatusSuccess
	rec.ExtractedData = &data
	rec.NewName = &name
	rec.ErrorMessage = nil
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail finishes a processing attempt with an error message. Extracted data
// and name stay unset; the record is terminal until the batch is reset.
func (m *MemoryStore) Fail(id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != model.StatusProcessing {
		return ErrInvalidTransition
	}
	rec.Status = model.StatusError
	rec.ExtractedData = nil
	rec.NewName = nil
	rec.ErrorMessage = &msg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MutateData applies a user edit to a successful record. The mutation runs
// against the latest data inside the critical section, so concurrent edits
// cannot lose updates. The derived name is recomputed in the same write;
// there is no window where the name is stale. Status is unchanged.
func (m *MemoryStore) MutateData(id string, fn func(model.InvoiceData) model.InvoiceData) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != model.StatusSuccess || rec.ExtractedData == nil {
		return nil, ErrInvalidTransition
	}
	data := fn(*rec.ExtractedData)
	name := naming.Derive(data)
	rec.ExtractedData = &data
	rec.NewName = &name
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

// Delete removes one record and returns it so callers can release the
// underlying file.
func (m *MemoryStore) Delete(id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.files, id)
	return rec, nil
}

// Reset discards every record and returns the removed records.
func (m *MemoryStore) Reset() []*model.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		out = append(out, rec)
	}
	m.files = make(map[string]*model.FileRecord)
	return out
}

// Counts tallies records per status.
func (m *MemoryStore) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for _, rec := range m.files {
		switch rec.Status {
		case model.StatusIdle:
			c.Idle++
		case model.StatusProcessing:
			c.Processing++
		case model.StatusSuccess:
			c.Success++
		case model.StatusError:
			c.Error++
		}
	}
	return c
}

// IdleIDs snapshots the IDs eligible for the next batch, in list order.
func (m *MemoryStore) IdleIDs() []string {
	var ids []string
	for _, rec := range m.List() {
		if rec.Status == model.StatusIdle {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Successes returns copies of all successful records in list order.
func (m *MemoryStore) Successes() []*model.FileRecord {
	var out []*model.FileRecord
	for _, rec := range m.List() {
		if rec.Status == model.StatusSuccess {
			out = append(out, rec)
		}
	}
	return out
}

func cloneRecord(rec *model.FileRecord) *model.FileRecord {
	c := *rec
	if rec.ExtractedData != nil {
		data := *rec.ExtractedData
		c.ExtractedData = &data
	}
	if rec.NewName != nil {
		name := *rec.NewName
		c.NewName = &name
	}
	if rec.ErrorMessage != nil {
		msg := *rec.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}
