package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/invoice-extractor/internal/ingest"
	"github.com/zombor/invoice-extractor/internal/store"
)

// maxUploadSize bounds a multipart upload; phone photos of invoices are large.
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string, detail error) {
	body := map[string]string{"error": message}
	if detail != nil {
		body["detail"] = detail.Error()
	}
	writeJSON(w, code, body)
}

type textRequest struct {
	Text string `json:"text"`
}

func decodeText(r *http.Request) (string, error) {
	var req textRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		return "", err
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return "", errors.New("text is required")
	}
	return req.Text, nil
}

// handleHealth reports whether the database is reachable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pinger.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Connection failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Connection successful"})
}

// uploadStatus maps a ProcessFile error to a response code
func uploadStatus(err error) int {
	if errors.Is(err, ingest.ErrDuplicate) {
		return http.StatusConflict
	}
	var stageErr *ingest.StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case ingest.StageNormalize:
			return http.StatusUnprocessableEntity
		case ingest.StageExtract:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

// handleUploadInvoice extracts and stores one uploaded invoice
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form", nil)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.", nil)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.", nil)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ingest.ContentTypeFor(header.Filename)
	}
	if contentType == "" {
		writeError(w, http.StatusUnsupportedMediaType, "Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF", nil)
		return
	}

	result, err := s.deps.Processor.ProcessFile(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		writeError(w, uploadStatus(err), "could not process this file", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleQuery runs a read-only SQL statement
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	query, err := decodeText(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	rows, err := s.deps.Querier.Query(r.Context(), query)
	if err != nil {
		s.queryError(w, query, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// handleAsk turns a question into SQL and runs it
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusNotImplemented, "Question answering is not configured", nil)
		return
	}

	question, err := decodeText(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	query, err := s.deps.Generator.Generate(r.Context(), question)
	if err != nil {
		slog.Error("Error generating SQL", "question", question, "error", err)
		writeError(w, http.StatusBadGateway, "Could not generate a query", err)
		return
	}

	rows, err := s.deps.Querier.Query(r.Context(), query)
	if err != nil {
		s.queryError(w, query, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": query, "rows": rows})
}

func (s *Server) queryError(w http.ResponseWriter, query string, err error) {
	if errors.Is(err, store.ErrNotSelect) {
		writeError(w, http.StatusBadRequest, "Only a single SELECT statement is allowed", nil)
		return
	}
	slog.Error("Error running query", "sql", query, "error", err)
	var connErr *store.ConnectionError
	if errors.As(err, &connErr) {
		writeError(w, http.StatusServiceUnavailable, "Connection failed", err)
		return
	}
	writeError(w, http.StatusBadRequest, "Query failed", err)
}

// handleListLedger returns every processed file, newest first
func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Ledger.List()
	if err != nil {
		slog.Error("Error listing ledger", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
