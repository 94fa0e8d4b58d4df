package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "ingested_files"

// Entry statuses.
const (
	StatusStored = "stored"
	StatusFailed = "failed"
)

// ErrNotFound is returned by Lookup when a hash has never been recorded.
var ErrNotFound = errors.New("ledger entry not found")

// Entry records the outcome of ingesting one file, keyed by content hash.
type Entry struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	InvoiceID   string    `json:"invoice_id,omitempty"`
	Items       int       `json:"items"`
	Warnings    []string  `json:"warnings,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Ledger defines the operations on processed file records
type Ledger interface {
	// Record saves or replaces the entry for entry.Hash
	Record(entry *Entry) error

	// Lookup returns the entry for a content hash
	Lookup(hash string) (*Entry, error)

	// List returns every entry, most recent first
	List() ([]*Entry, error)

	// Close closes the ledger
	Close() error
}

// BoltLedger implements Ledger using BoltDB
type BoltLedger struct {
	db *bbolt.DB
}

// Open opens or creates a ledger file at path.
func Open(path string) (*BoltLedger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger bucket: %w", err)
	}

	return &BoltLedger{db: db}, nil
}

func (l *BoltLedger) Record(entry *Entry) error {
	if entry.Hash == "" {
		return fmt.Errorf("ledger entry has no hash")
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(entry.Hash), data)
	})
}

func (l *BoltLedger) Lookup(hash string) (*Entry, error) {
	var entry *Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(hash))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *BoltLedger) List() ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ProcessedAt.After(entries[j].ProcessedAt)
	})
	return entries, nil
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}
