// Package server wires the HTTP surface over the record store and the batch
// coordinator: upload, process, review/edit, download, and mail composition.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaiwenliu/invoiceflow/internal/archive"
	"github.com/kaiwenliu/invoiceflow/internal/config"
	"github.com/kaiwenliu/invoiceflow/internal/mailer"
	"github.com/kaiwenliu/invoiceflow/internal/model"
	"github.com/kaiwenliu/invoiceflow/internal/pipeline"
	"github.com/kaiwenliu/invoiceflow/internal/store"
	"github.com/kaiwenliu/invoiceflow/internal/upload"
)

// Server hosts the HTTP handlers.
type Server struct {
	cfg         *config.Config
	records     *store.MemoryStore
	coordinator *pipeline.Coordinator
	uploads     *upload.Dir
	log         zerolog.Logger
}

// New constructs a configured Server.
func New(cfg *config.Config, records *store.MemoryStore, coordinator *pipeline.Coordinator, uploads *upload.Dir, log zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		records:     records,
		coordinator: coordinator,
		uploads:     uploads,
		log:         log,
	}
}

// Serve runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler tree with logging and CORS middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/invoices", s.handleInvoices)
	mux.HandleFunc("/invoices/", s.handleInvoiceRoute)
	mux.HandleFunc("/recipients", s.handleRecipients)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvoices covers the collection: upload, list, reset.
func (s *Server) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodDelete:
		s.coordinator.Reset()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleInvoiceRoute dispatches /invoices/{...} paths. "process", "download"
// and "mailto" act on the collection; everything else addresses one record.
func (s *Server) handleInvoiceRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/invoices/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		switch parts[0] {
		case "process":
			s.handleProcess(w, r)
		case "download":
			s.handleDownloadAll(w, r)
		case "mailto":
			s.handleMailto(w, r)
		default:
			s.handleRecord(w, r, parts[0])
		}
		return
	}
	id := parts[0]
	switch parts[1] {
	case "fields":
		s.handleUpdateField(w, r, id)
	case "download":
		s.handleDownloadOne(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// maxUploadFiles bounds how many files one upload request may carry; the
// request body reader is sized to the whole batch, not to a single file.
const maxUploadFiles = 20

// handleUpload accepts multipart uploads under the "files" field. Parts that
// are not PDF documents are discarded silently. The upload is atomic: records
// become visible only once the whole request has parsed, and a mid-stream
// failure releases any bytes already spooled instead of leaving partial
// records behind.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadFiles*s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	var created []*model.FileRecord
	discard := func() {
		for _, rec := range created {
			if err := s.uploads.Remove(rec.ObjectKey); err != nil {
				s.log.Warn().Err(err).Str("id", rec.ID).Msg("failed to release spooled upload")
			}
		}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			discard()
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		if name := part.FormName(); name != "files" && name != "file" {
			part.Close()
			continue
		}
		record, err := s.uploads.SavePart(part)
		part.Close()
		if err != nil {
			if errors.Is(err, upload.ErrNotPDF) || errors.Is(err, upload.ErrEmpty) {
				// The picker filters to PDFs; anything else dropped in is
				// ignored rather than failing the whole upload.
				s.log.Debug().Err(err).Msg("discarded non-pdf upload part")
				continue
			}
			discard()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		created = append(created, record)
	}
	for _, record := range created {
		s.records.Add(record)
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"files": created,
		"count": len(created),
	})
}

// handleProcess dispatches the batch in the background; clients poll the
// collection for per-file status.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.coordinator.Running() {
		http.Error(w, "a batch is already processing", http.StatusConflict)
		return
	}
	counts := s.records.Counts()
	if counts.Idle == 0 {
		http.Error(w, "no files waiting for processing", http.StatusConflict)
		return
	}
	go func() {
		// The batch outlives the triggering request on purpose; there is no
		// user-facing cancellation once dispatched.
		if err := s.coordinator.ProcessEligible(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("batch processing failed to start")
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]any{
		"dispatched": counts.Idle,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"files":      s.records.List(),
		"counts":     s.records.Counts(),
		"processing": s.coordinator.Running(),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		record, err := s.records.Get(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		respondJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := s.coordinator.Remove(id); err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUpdateField applies one field edit to a successful record and returns
// the updated record, its name already re-derived.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.coordinator.UpdateField(id, req.Field, req.Value)
	switch {
	case errors.Is(err, pipeline.ErrUnknownField):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "file not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		http.Error(w, "only successfully processed files can be edited", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		respondJSON(w, http.StatusOK, record)
	}
}

// handleDownloadOne serves the original bytes under the derived name.
func (s *Server) handleDownloadOne(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	record, err := s.records.Get(id)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if record.Status != model.StatusSuccess || record.NewName == nil {
		http.Error(w, "file has not been processed", http.StatusConflict)
		return
	}
	data, err := s.uploads.Read(record.ObjectKey)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}
	serveAttachment(w, *record.NewName, "application/pdf", data)
}

// handleDownloadAll bundles every successful record into one zip. With zero
// successes nothing is produced.
func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var entries []archive.Entry
	for _, record := range s.records.Successes() {
		data, err := s.uploads.Read(record.ObjectKey)
		if err != nil {
			s.log.Error().Err(err).Str("id", record.ID).Msg("skipping unreadable file in archive")
			continue
		}
		entries = append(entries, archive.Entry{Name: *record.NewName, Data: data})
	}
	zipped, err := archive.Build(entries)
	if errors.Is(err, archive.ErrNoEntries) {
		http.Error(w, "no processed files to download", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "failed to build archive", http.StatusInternalServerError)
		return
	}
	serveAttachment(w, "invoices.zip", "application/zip", zipped)
}

// handleMailto returns the pre-filled mailto URI for the processed files.
func (s *Server) handleMailto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var names []string
	for _, record := range s.records.Successes() {
		names = append(names, *record.NewName)
	}
	uri, err := mailer.ComposeMailto(r.URL.Query().Get("to"), names)
	switch {
	case errors.Is(err, mailer.ErrNoRecipient):
		http.Error(w, "missing to parameter", http.StatusBadRequest)
	case errors.Is(err, mailer.ErrNoFiles):
		http.Error(w, "no processed files to send", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		respondJSON(w, http.StatusOK, map[string]string{"mailto": uri})
	}
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recipients := s.cfg.Recipients
	if recipients == nil {
		recipients = []mailer.Recipient{}
	}
	respondJSON(w, http.StatusOK, recipients)
}

func serveAttachment(w http.ResponseWriter, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(data)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
