package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Reader runs ad-hoc read queries.
type Reader struct {
	connector *Connector
	timeout   time.Duration
}

// NewReader creates a Reader bounded by the connector's StatementTimeout.
func NewReader(connector *Connector) *Reader {
	return &Reader{
		connector: connector,
		timeout:   connector.Config().StatementTimeout,
	}
}

// Query runs a single SELECT (or WITH ... SELECT) statement and returns each
// row as a column name to value mapping. The statement runs in a read-only
// transaction, so a write that slips past the statement check still fails.
// The connection is always released.
func (r *Reader) Query(ctx context.Context, query string) ([]map[string]any, error) {
	query, ok := readOnly(query)
	if !ok {
		return nil, ErrNotSelect
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rows := make([]map[string]any, 0)
	err := r.connector.Do(ctx, func(db *gorm.DB) error {
		return readOnlyTx(db, r.connector.Config().Driver, func(tx *gorm.DB) error {
			return tx.Raw(query).Scan(&rows).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return rows, nil
}

// readOnlyTx runs fn in a transaction that rejects writes. Postgres gets a
// READ ONLY transaction; sqlite ignores that option, so query_only is set on
// the connection for the duration of fn.
func readOnlyTx(db *gorm.DB, driver string, fn func(tx *gorm.DB) error) error {
	if driver != DriverSQLite {
		return db.Transaction(fn, &sql.TxOptions{ReadOnly: true})
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("PRAGMA query_only = ON").Error; err != nil {
			return err
		}
		defer func() {
			if err := tx.Exec("PRAGMA query_only = OFF").Error; err != nil {
				slog.Warn("Failed to reset sqlite query_only", "error", err)
			}
		}()
		return fn(tx)
	})
}

var writeKeyword = regexp.MustCompile(`\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|grant|revoke|attach|detach|pragma|vacuum|reindex)\b`)

// readOnly trims a query and reports whether it is one read-only
// statement. Semicolons and keywords inside string literals, quoted
// identifiers and comments are ignored.
func readOnly(query string) (string, bool) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimRight(q, "; \t\n"))
	if q == "" {
		return "", false
	}
	code, ok := stripLiterals(q)
	if !ok || strings.Contains(code, ";") {
		return "", false
	}
	lower := strings.ToLower(strings.TrimSpace(code))
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", false
	}
	if writeKeyword.MatchString(lower) {
		return "", false
	}
	return q, true
}

// stripLiterals blanks out quoted text and comments in q. It reports false
// when a quote or block comment is left open.
func stripLiterals(q string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			for ; j < len(q); j++ {
				if q[j] != c {
					continue
				}
				if j+1 < len(q) && q[j+1] == c {
					j++
					continue
				}
				break
			}
			if j >= len(q) {
				return "", false
			}
			b.WriteByte(' ')
			i = j
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			end := strings.IndexByte(q[i:], '\n')
			if end < 0 {
				i = len(q)
			} else {
				i += end
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return "", false
			}
			i += end + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}
