package store

import "strings"

// BuildInsert returns a parameterized INSERT for table with one positional
// placeholder per column, in column order. Names are not validated. The
// result only depends on the arguments, so it can be built once and reused
// for every row.
//
// The "?" marker is rebound by the driver ($1, $2, ... on postgres).
func BuildInsert(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return "INSERT INTO " + table +
		" (" + strings.Join(columns, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"
}
