// Package table defines the tabular result type shared by the query engine,
// the pipeline, and the artifact store.
package table

import "time"

type Table struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"-"`
}

func (t Table) RowCount() int {
	return len(t.Rows)
}

func (t Table) ColumnCount() int {
	return len(t.Columns)
}

// Empty reports whether the table carries no data rows. A table with columns
// but zero rows is still empty for visualization purposes.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Tabular reports whether the table is well formed: it has at least one
// column and every row has exactly one value per column.
func (t Table) Tabular() bool {
	if len(t.Columns) == 0 {
		return false
	}
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return false
		}
	}
	return true
}
