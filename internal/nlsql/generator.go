package nlsql

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// Generator turns a question about the stored invoices into one SQL query
type Generator interface {
	Generate(ctx context.Context, question string) (string, error)
	Close() error
}

// schemaPrompt describes the two tables to the model.
var schemaPrompt = fmt.Sprintf(`You write SQL for a database with these tables:

%s(%s)
%s(%s)

Every column is text, copied from the invoice exactly as printed. Amounts may
use a comma as the decimal separator. %s.invoice_id matches %s.invoice_id.

Answer with a single read-only SELECT statement and nothing else. Give the
same query every time you are asked the same question.`,
	invoice.HeaderTable, strings.Join(invoice.HeaderColumns, ", "),
	invoice.ItemTable, strings.Join(invoice.ItemColumns, ", "),
	invoice.ItemTable, invoice.HeaderTable,
)

var fence = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*(.*?)```")

// CleanSQL extracts the first SQL statement from a model answer. Markdown
// fences and any prose before the statement are dropped, as is everything
// after its first semicolon.
func CleanSQL(text string) (string, error) {
	text = strings.TrimSpace(text)
	if m := fence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(text)
	start := -1
	for _, kw := range []string{"select", "with"} {
		if i := indexWord(lower, kw); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no SQL statement in response")
	}
	text = text[start:]

	if i := strings.Index(text, ";"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text), nil
}

// indexWord finds kw at a word boundary.
func indexWord(s, kw string) int {
	from := 0
	for {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return -1
		}
		i += from
		before := i == 0 || !isWordChar(s[i-1])
		end := i + len(kw)
		after := end == len(s) || !isWordChar(s[end])
		if before && after {
			return i
		}
		from = i + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}
