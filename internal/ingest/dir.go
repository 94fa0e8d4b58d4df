package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// contentTypes maps the file extensions ProcessDir picks up to the content
// type handed to the extractor.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
}

// ContentTypeFor returns the content type for filename, or "" when the
// extension is not a supported invoice format.
func ContentTypeFor(filename string) string {
	return contentTypes[strings.ToLower(filepath.Ext(filename))]
}

// FileError is a per-file failure from ProcessDir.
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Summary counts what ProcessDir did with each file in a folder.
type Summary struct {
	Stored     int         `json:"stored"`
	Duplicates int         `json:"duplicates"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Items      int         `json:"items"`
	Errors     []FileError `json:"errors,omitempty"`
}

// ProcessDir runs every supported file directly inside dir through
// ProcessFile. Subdirectories and hidden files are ignored. A failing file
// is counted and logged; it never stops the others. The returned error is
// only set when dir cannot be read or ctx is cancelled.
func (s *Service) ProcessDir(ctx context.Context, dir string) (Summary, error) {
	var summary Summary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("reading directory: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		contentType := ContentTypeFor(name)
		if contentType == "" {
			slog.Debug("Skipping unsupported file", "filename", name)
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		path := filepath.Join(dir, name)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			var res *Result
			if err == nil {
				res, err = s.ProcessFile(gctx, name, data, contentType)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Stored++
				summary.Items += len(res.Record.Items)
			case errors.Is(err, ErrDuplicate):
				summary.Duplicates++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, FileError{Filename: name, Error: err.Error()})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("processing directory: %w", err)
	}

	slog.Info("Directory processed",
		"dir", dir,
		"stored", summary.Stored,
		"duplicates", summary.Duplicates,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}
