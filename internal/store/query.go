package store

import (
	"errors"
	"strings"
)

// errNotSelect guards Query against anything but a read.
var errNotSelect = errors.New("only SELECT statements are permitted")

// Schema is the human-readable table layout handed to the analyzer's schema
// tool (§4.8 step 4, §4.9): the same CREATE TABLE text the store migrates
// with, so the analyzer never drifts from what Query actually sees.
const Schema = schema

// Query runs a read-only SELECT against the store and returns each row as a
// column-name-keyed map, for the analyzer's SQL-over-Store tool. Anything
// other than a SELECT is rejected without touching the database: the
// analyzer only ever reads.
func (s *Store) Query(sqlText string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(sqlText)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, fault("query", errNotSelect)
	}

	rows, err := s.db.Query(trimmed)
	if err != nil {
		return nil, fault("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fault("query: columns", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fault("query: scan", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeQueryValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeQueryValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
