package dbconn

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/query"
	"github.com/tabletalk/tabletalk/internal/table"
)

type stubEngine struct {
	requests []query.Request
}

func (s *stubEngine) Execute(_ context.Context, req query.Request) (table.Table, error) {
	s.requests = append(s.requests, req)
	switch {
	case strings.Contains(req.SQL, "information_schema"):
		return table.Table{
			Columns: []string{"table_name"},
			Rows:    [][]any{{"employees"}, {"orders"}},
		}, nil
	case strings.Contains(req.SQL, `"employees"`):
		return table.Table{
			Columns: []string{"id", "city"},
			Rows:    [][]any{{int64(1), "Vienna"}},
		}, nil
	case strings.Contains(req.SQL, `"orders"`):
		return table.Table{}, fmt.Errorf("table is locked")
	default:
		return table.Table{}, fmt.Errorf("unexpected sql %q", req.SQL)
	}
}

func TestTableContextsSamplesEachTable(t *testing.T) {
	engine := &stubEngine{}
	introspector := &Introspector{Engine: engine, Driver: "duckdb"}

	contexts, err := introspector.TableContexts(context.Background(), 3)
	if err != nil {
		t.Fatalf("TableContexts() error = %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("len(contexts) = %d", len(contexts))
	}
	if contexts[0].TableName != "employees" {
		t.Fatalf("contexts[0] = %+v", contexts[0])
	}
	if len(contexts[0].Columns) != 2 || len(contexts[0].SampleRows) != 1 {
		t.Fatalf("employees context = %+v", contexts[0])
	}
	// The locked table keeps its name but no samples.
	if contexts[1].TableName != "orders" || len(contexts[1].Columns) != 0 {
		t.Fatalf("orders context = %+v", contexts[1])
	}
	if len(engine.requests) != 3 {
		t.Fatalf("engine requests = %d", len(engine.requests))
	}
}

func TestTableContextsRejectsUnknownDriver(t *testing.T) {
	introspector := &Introspector{Engine: &stubEngine{}, Driver: "oracle"}
	if _, err := introspector.TableContexts(context.Background(), 3); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
