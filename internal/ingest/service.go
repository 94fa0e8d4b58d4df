package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/ledger"
	"github.com/zombor/invoice-extractor/internal/store"
)

// ErrDuplicate is returned when a file with the same content was already
// stored.
var ErrDuplicate = errors.New("file was already processed")

// Pipeline stages reported by StageError.
const (
	StageArchive   = "archive"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageStore     = "store"
)

// StageError tells which step of the pipeline failed for a file.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Writer persists a batch of statements atomically
type Writer interface {
	Write(ctx context.Context, stmts ...store.Statement) error
}

// IDGenerator generates unique IDs for ingested files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result describes one successfully stored invoice
type Result struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	Hash        string         `json:"hash"`
	Archived    string         `json:"archived"`
	Record      invoice.Record `json:"record"`
	Warnings    []string       `json:"warnings,omitempty"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Service runs invoice files through extraction, normalization and storage
type Service struct {
	extractor   extraction.Extractor
	writer      Writer
	storage     Storage
	ledger      ledger.Ledger
	idGenerator IDGenerator
	timeSource  TimeSource
	workers     int
	inflight    hashLocks

	headerSQL string
	itemSQL   string
}

// NewService creates a new Service with a uuid ID generator and the wall clock
func NewService(extractor extraction.Extractor, writer Writer, storage Storage, l ledger.Ledger) *Service {
	return NewServiceWithDeps(extractor, writer, storage, l, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(extractor extraction.Extractor, writer Writer, storage Storage, l ledger.Ledger, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		extractor:   extractor,
		writer:      writer,
		storage:     storage,
		ledger:      l,
		idGenerator: idGen,
		timeSource:  timeSrc,
		workers:     4,
		headerSQL:   store.BuildInsert(invoice.HeaderTable, invoice.HeaderColumns),
		itemSQL:     store.BuildInsert(invoice.ItemTable, invoice.ItemColumns),
	}
}

// SetWorkers bounds how many files ProcessDir handles at once.
func (s *Service) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.workers = n
}

// sanitizeFilename strips everything but letters, digits, spaces, hyphens
// and underscores from the base name and truncates it
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	return base + strings.ToLower(ext)
}

// Statements builds the header insert followed by one insert per item, in
// item order.
func (s *Service) Statements(rec invoice.Record) []store.Statement {
	stmts := make([]store.Statement, 0, 1+len(rec.Items))
	stmts = append(stmts, store.NewStatement(s.headerSQL, rec.Header.Values()...))
	for _, row := range rec.ItemRows() {
		stmts = append(stmts, store.NewStatement(s.itemSQL, row...))
	}
	return stmts
}

// ProcessFile extracts one invoice file and stores its header and items in a
// single transaction. Files whose content was already stored are rejected
// with ErrDuplicate. Every other failure is a *StageError and is recorded in
// the ledger; the archived copy is removed again.
func (s *Service) ProcessFile(ctx context.Context, filename string, data []byte, contentType string) (*Result, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	logger := slog.With("filename", filename, "hash", hash[:12])

	// Files with the same content are processed one at a time so the second
	// one sees the ledger entry written by the first.
	unlock := s.inflight.lock(hash)
	defer unlock()

	prev, err := s.ledger.Lookup(hash)
	switch {
	case err == nil && prev.Status == ledger.StatusStored:
		logger.Info("Skipping file that was already stored", "invoice_id", prev.InvoiceID)
		return nil, ErrDuplicate
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("looking up ledger: %w", err)
	}

	id := s.idGenerator.Generate()
	entry := &ledger.Entry{
		ID:       id,
		Hash:     hash,
		Filename: filename,
		Status:   ledger.StatusFailed,
	}

	archived, err := s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, s.fail(logger, entry, "", &StageError{Stage: StageArchive, Err: err})
	}

	raw, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		logger.Error("Failed to extract invoice",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, s.fail(logger, entry, archived, &StageError{Stage: StageExtract, Err: err})
	}

	rec, err := invoice.Normalize(raw)
	if err != nil {
		logger.Error("Failed to normalize invoice", "items_built", len(rec.Items), "error", err)
		return nil, s.fail(logger, entry, archived, &StageError{Stage: StageNormalize, Err: err})
	}

	recon := invoice.Reconcile(rec)
	for _, w := range recon.Warnings {
		logger.Warn("Invoice does not reconcile", "warning", w)
	}

	if err := s.writer.Write(ctx, s.Statements(rec)...); err != nil {
		return nil, s.fail(logger, entry, archived, &StageError{Stage: StageStore, Err: err})
	}

	now := s.timeSource.Now()
	entry.Status = ledger.StatusStored
	entry.InvoiceID = fmt.Sprint(rec.Header.InvoiceID)
	if rec.Header.InvoiceID == nil {
		entry.InvoiceID = ""
	}
	entry.Items = len(rec.Items)
	entry.Warnings = recon.Warnings
	entry.ProcessedAt = now
	if err := s.ledger.Record(entry); err != nil {
		// The rows are committed; only the bookkeeping is lost.
		logger.Warn("Failed to record ledger entry", "error", err)
	}

	logger.Info("Invoice stored", "invoice_id", entry.InvoiceID, "items", len(rec.Items))
	return &Result{
		ID:          id,
		Filename:    filename,
		Hash:        hash,
		Archived:    archived,
		Record:      rec,
		Warnings:    recon.Warnings,
		ProcessedAt: now,
	}, nil
}

// hashLocks hands out one mutex per content hash.
type hashLocks struct {
	mu    sync.Mutex
	locks map[string]*hashLock
}

type hashLock struct {
	sync.Mutex
	refs int
}

// lock blocks until no other caller holds hash and returns the unlock func.
func (h *hashLocks) lock(hash string) func() {
	h.mu.Lock()
	if h.locks == nil {
		h.locks = make(map[string]*hashLock)
	}
	l, ok := h.locks[hash]
	if !ok {
		l = &hashLock{}
		h.locks[hash] = l
	}
	l.refs++
	h.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		h.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, hash)
		}
		h.mu.Unlock()
	}
}

// fail records a failed entry, removes the archived copy and returns err.
func (s *Service) fail(logger *slog.Logger, entry *ledger.Entry, archived string, err error) error {
	if archived != "" {
		if delErr := s.storage.Delete(context.Background(), archived); delErr != nil {
			logger.Warn("Failed to delete archived file", "archived", archived, "error", delErr)
		}
	}

	entry.Error = err.Error()
	entry.ProcessedAt = s.timeSource.Now()
	if recErr := s.ledger.Record(entry); recErr != nil {
		logger.Warn("Failed to record ledger entry", "error", recErr)
	}
	return err
}
