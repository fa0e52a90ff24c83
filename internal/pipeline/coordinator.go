// Package pipeline runs the per-file processing pipeline over every eligible
// record and merges the completions back into shared state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kaiwenliu/invoiceflow/internal/model"
	"github.com/kaiwenliu/invoiceflow/internal/store"
)

// ErrBatchInFlight is returned when ProcessEligible is called while a
// previous batch is still running.
var ErrBatchInFlight = errors.New("a processing batch is already running")

// ErrUnknownField is returned for edits to a field the schema does not have.
var ErrUnknownField = errors.New("unknown invoice field")

// unknownErrorMessage covers failures that carry no localized user message.
const unknownErrorMessage = "發生未知錯誤"

// RasterizeFunc renders the first page of a PDF to a JPEG buffer.
type RasterizeFunc func(data []byte) ([]byte, error)

// FieldExtractor turns a page image into structured invoice fields.
type FieldExtractor interface {
	Extract(ctx context.Context, image []byte) (model.InvoiceData, error)
}

// Blobs is the session blob space holding each record's original bytes.
type Blobs interface {
	Read(objectKey string) ([]byte, error)
	Remove(objectKey string) error
}

// outcome is the completion message a pipeline task emits for its record.
// Outcomes from different records commute: each one only touches its own key.
type outcome struct {
	id   string
	data model.InvoiceData
	err  error
}

// Coordinator fans the pipeline out across eligible records. Each file runs
// rasterize -> extract -> complete in isolation; a failure is terminal for
// that file only and never aborts or delays the others.
type Coordinator struct {
	store     *store.MemoryStore
	blobs     Blobs
	rasterize RasterizeFunc
	extractor FieldExtractor
	// limit caps concurrent files when positive; zero means every eligible
	// file is dispatched at once.
	limit int
	log   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New constructs a Coordinator.
func New(st *store.MemoryStore, blobs Blobs, rasterize RasterizeFunc, extractor FieldExtractor, limit int, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     st,
		blobs:     blobs,
		rasterize: rasterize,
		extractor: extractor,
		limit:     limit,
		log:       log,
	}
}

// Running reports whether a batch is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ProcessEligible dispatches every idle record through the pipeline and
// blocks until all of them reach a terminal state. Completions arrive on a
// single inbox channel and are applied by one consumer as key-based record
// replacements, so concurrent finishes cannot clobber each other or any
// user edit happening on already-completed records.
func (c *Coordinator) ProcessEligible(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrBatchInFlight
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	ids := c.store.IdleIDs()
	if len(ids) == 0 {
		return nil
	}
	dispatched := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := c.store.MarkProcessing(id); err != nil {
			// The record was removed or already moved on; skip it.
			continue
		}
		dispatched = append(dispatched, id)
	}
	c.log.Info().Int("files", len(dispatched)).Msg("processing batch started")

	inbox := make(chan outcome, len(dispatched))
	applied := make(chan struct{})
	go func() {
		defer close(applied)
		for out := range inbox {
			c.apply(out)
		}
	}()

	var eg errgroup.Group
	if c.limit > 0 {
		eg.SetLimit(c.limit)
	}
	for _, id := range dispatched {
		eg.Go(func() error {
			inbox <- c.processOne(ctx, id)
			// Task errors are carried in the outcome, never returned: one
			// file failing must not cancel its siblings.
			return nil
		})
	}
	_ = eg.Wait()
	close(inbox)
	<-applied

	counts := c.store.Counts()
	c.log.Info().
		Int("success", counts.Success).
		Int("error", counts.Error).
		Msg("processing batch finished")
	return nil
}

// processOne runs the full pipeline for a single record.
func (c *Coordinator) processOne(ctx context.Context, id string) outcome {
	rec, err := c.store.Get(id)
	if err != nil {
		return outcome{id: id, err: err}
	}
	raw, err := c.blobs.Read(rec.ObjectKey)
	if err != nil {
		return outcome{id: id, err: fmt.Errorf("read original file: %w", err)}
	}
	image, err := c.rasterize(raw)
	if err != nil {
		return outcome{id: id, err: err}
	}
	if err := ctx.Err(); err != nil {
		return outcome{id: id, err: err}
	}
	data, err := c.extractor.Extract(ctx, image)
	if err != nil {
		return outcome{id: id, err: err}
	}
	return outcome{id: id, data: data}
}

// apply writes one outcome into the store.
func (c *Coordinator) apply(out outcome) {
	if out.err != nil {
		c.log.Error().Err(out.err).Str("id", out.id).Msg("file processing failed")
		if err := c.store.Fail(out.id, userMessage(out.err)); err != nil {
			c.log.Error().Err(err).Str("id", out.id).Msg("record failure write lost")
		}
		return
	}
	if err := c.store.Complete(out.id, out.data); err != nil {
		c.log.Error().Err(err).Str("id", out.id).Msg("record completion write lost")
		return
	}
	c.log.Info().Str("id", out.id).Msg("file processed")
}

// UpdateField edits one field of a successful record. The new derived name is
// computed atomically with the edit inside the store.
func (c *Coordinator) UpdateField(id, field, value string) (*model.FileRecord, error) {
	var mutate func(model.InvoiceData) model.InvoiceData
	switch field {
	case "businessNumber":
		mutate = func(d model.InvoiceData) model.InvoiceData { d.BusinessNumber = value; return d }
	case "invoiceDate":
		mutate = func(d model.InvoiceData) model.InvoiceData { d.InvoiceDate = value; return d }
	case "buyerName":
		mutate = func(d model.InvoiceData) model.InvoiceData { d.BuyerName = value; return d }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return c.store.MutateData(id, mutate)
}

// Remove discards a single record and its original bytes.
func (c *Coordinator) Remove(id string) error {
	rec, err := c.store.Delete(id)
	if err != nil {
		return err
	}
	if err := c.blobs.Remove(rec.ObjectKey); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("failed to remove original file")
	}
	return nil
}

// Reset discards every record and their original bytes.
func (c *Coordinator) Reset() {
	for _, rec := range c.store.Reset() {
		if err := c.blobs.Remove(rec.ObjectKey); err != nil {
			c.log.Warn().Err(err).Str("id", rec.ID).Msg("failed to remove original file")
		}
	}
}

// userMessage maps an error to the localized text stored on the record.
// Pipeline errors carry their own message; anything else gets the generic
// fallback while the cause stays in the logs.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return unknownErrorMessage
}
