package dbconn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tabletalk/tabletalk/internal/nl2sql"
	"github.com/tabletalk/tabletalk/internal/query"
)

// Introspector builds the schema-plus-sample context handed to the SQL
// translator. It reads through the query engine so sampling obeys the same
// execution path as user queries.
type Introspector struct {
	Engine query.Engine
	Driver string
}

func (i *Introspector) TableContexts(ctx context.Context, sampleRows int) ([]nl2sql.TableContext, error) {
	if i.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if sampleRows <= 0 {
		sampleRows = 5
	}

	listSQL, err := listTablesSQL(i.Driver)
	if err != nil {
		return nil, err
	}
	listed, err := i.Engine.Execute(ctx, query.Request{SQL: listSQL})
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	contexts := make([]nl2sql.TableContext, 0, len(listed.Rows))
	for _, row := range listed.Rows {
		if len(row) == 0 {
			continue
		}
		name, ok := row[0].(string)
		if !ok || name == "" {
			continue
		}
		contexts = append(contexts, nl2sql.TableContext{TableName: name})
	}

	for idx := range contexts {
		sampleSQL := "SELECT * FROM " + quoteIdent(contexts[idx].TableName) + " LIMIT " + strconv.Itoa(sampleRows)
		sample, err := i.Engine.Execute(ctx, query.Request{SQL: sampleSQL, RowLimit: sampleRows})
		if err != nil {
			// A single unsampleable table should not sink the whole context.
			continue
		}
		contexts[idx].Columns = append(contexts[idx].Columns, sample.Columns...)
		contexts[idx].SampleRows = append(contexts[idx].SampleRows, sample.Rows...)
	}

	return contexts, nil
}

func listTablesSQL(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name", nil
	case "duckdb":
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
