package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/tabletalk/tabletalk/internal/nl2chart"
	"github.com/tabletalk/tabletalk/internal/nl2sql"
	"github.com/tabletalk/tabletalk/internal/query"
	"github.com/tabletalk/tabletalk/internal/table"
)

type stubSQLTranslator struct {
	sql string
	err error
}

func (s *stubSQLTranslator) Translate(context.Context, nl2sql.Request) (nl2sql.Result, error) {
	if s.err != nil {
		return nl2sql.Result{}, s.err
	}
	return nl2sql.Result{SQL: s.sql}, nil
}

type stubChartTranslator struct {
	spec nl2chart.Spec
	err  error
}

func (s *stubChartTranslator) Translate(context.Context, nl2chart.Request) (nl2chart.Spec, error) {
	if s.err != nil {
		return nl2chart.Spec{}, s.err
	}
	return s.spec, nil
}

type stubEngine struct {
	result table.Table
	err    error
	calls  int
}

func (s *stubEngine) Execute(context.Context, query.Request) (table.Table, error) {
	s.calls++
	if s.err != nil {
		return table.Table{}, s.err
	}
	return s.result, nil
}

func TestRunSQLStepSuccess(t *testing.T) {
	engine := &stubEngine{result: table.Table{
		Columns: []string{"count"},
		Rows:    [][]any{{int64(42)}},
	}}
	runner := &Runner{
		SQLTranslator: &stubSQLTranslator{sql: "SELECT COUNT(*) FROM x"},
		Engine:        engine,
		Dialect:       "duckdb",
	}

	result, err := runner.RunSQLStep(context.Background(), "How many rows in table X?")
	if err != nil {
		t.Fatalf("RunSQLStep() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) FROM x" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Table.RowCount() != 1 {
		t.Fatalf("rows = %d", result.Table.RowCount())
	}
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d", engine.calls)
	}
}

func TestRunSQLStepTranslationFailure(t *testing.T) {
	runner := &Runner{
		SQLTranslator: &stubSQLTranslator{err: fmt.Errorf("model unavailable")},
		Engine:        &stubEngine{},
	}

	_, err := runner.RunSQLStep(context.Background(), "q")
	sf, ok := AsStepFailure(err)
	if !ok {
		t.Fatalf("error = %v, want StepFailure", err)
	}
	if sf.Step != StepSQL || sf.Cause != CauseTranslation {
		t.Fatalf("failure = %+v", sf)
	}
}

func TestRunSQLStepExecutionFailure(t *testing.T) {
	runner := &Runner{
		SQLTranslator: &stubSQLTranslator{sql: "SELECT 1"},
		Engine:        &stubEngine{err: fmt.Errorf("relation does not exist")},
	}

	_, err := runner.RunSQLStep(context.Background(), "q")
	sf, ok := AsStepFailure(err)
	if !ok {
		t.Fatalf("error = %v, want StepFailure", err)
	}
	if sf.Cause != CauseExecution {
		t.Fatalf("cause = %q", sf.Cause)
	}
}

func TestRunSQLStepRejectsWriteStatements(t *testing.T) {
	engine := &stubEngine{}
	runner := &Runner{
		SQLTranslator: &stubSQLTranslator{sql: "DROP TABLE employees"},
		Engine:        engine,
	}

	_, err := runner.RunSQLStep(context.Background(), "q")
	sf, ok := AsStepFailure(err)
	if !ok || sf.Cause != CauseInvalidResult {
		t.Fatalf("error = %v, want invalid_result StepFailure", err)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run rejected SQL")
	}
}

func TestRunSQLStepRejectsMalformedTable(t *testing.T) {
	runner := &Runner{
		SQLTranslator: &stubSQLTranslator{sql: "SELECT 1"},
		Engine: &stubEngine{result: table.Table{
			Columns: []string{"a", "b"},
			Rows:    [][]any{{1}},
		}},
	}

	_, err := runner.RunSQLStep(context.Background(), "q")
	sf, ok := AsStepFailure(err)
	if !ok || sf.Cause != CauseInvalidResult {
		t.Fatalf("error = %v, want invalid_result StepFailure", err)
	}
}

func TestRunChartStepSuccess(t *testing.T) {
	runner := &Runner{
		ChartTranslator: &stubChartTranslator{spec: nl2chart.Spec{Kind: "bar", XField: "city", YField: "count"}},
	}

	spec, err := runner.RunChartStep(context.Background(), "q", table.Table{
		Columns: []string{"city", "count"},
		Rows:    [][]any{{"Vienna", int64(10)}},
	})
	if err != nil {
		t.Fatalf("RunChartStep() error = %v", err)
	}
	if spec.Kind != "bar" {
		t.Fatalf("spec = %+v", spec)
	}
}

func TestRunChartStepInvalidSpec(t *testing.T) {
	runner := &Runner{
		ChartTranslator: &stubChartTranslator{spec: nl2chart.Spec{Kind: "bar", XField: "region"}},
	}

	_, err := runner.RunChartStep(context.Background(), "q", table.Table{Columns: []string{"city"}})
	sf, ok := AsStepFailure(err)
	if !ok {
		t.Fatalf("error = %v, want StepFailure", err)
	}
	if sf.Step != StepChart || sf.Cause != CauseInvalidResult {
		t.Fatalf("failure = %+v", sf)
	}
}

func TestRunChartStepTranslationFailure(t *testing.T) {
	runner := &Runner{
		ChartTranslator: &stubChartTranslator{err: fmt.Errorf("no sensible chart")},
	}

	_, err := runner.RunChartStep(context.Background(), "q", table.Table{Columns: []string{"a"}})
	sf, ok := AsStepFailure(err)
	if !ok || sf.Cause != CauseTranslation {
		t.Fatalf("error = %v, want translation StepFailure", err)
	}
}
