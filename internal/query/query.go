// Package query executes SQL against a live session connection and returns
// the result as a table.
package query

import (
	"context"

	"github.com/tabletalk/tabletalk/internal/table"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Engine interface {
	Execute(ctx context.Context, request Request) (table.Table, error)
}
