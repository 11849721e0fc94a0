// Package pipeline executes the two per-question steps — SQL generation plus
// execution, and chart derivation — as single-attempt units. Every external
// failure and every malformed result is folded into a StepFailure so a defect
// in one step can never leak into, or roll back, the other.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tabletalk/tabletalk/internal/dbconn"
	"github.com/tabletalk/tabletalk/internal/nl2chart"
	"github.com/tabletalk/tabletalk/internal/nl2sql"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/query"
	"github.com/tabletalk/tabletalk/internal/table"
)

const (
	StepSQL   = "sql"
	StepChart = "chart"
)

type Cause string

const (
	CauseTranslation   Cause = "translation"
	CauseExecution     Cause = "execution"
	CauseInvalidResult Cause = "invalid_result"
)

// StepFailure wraps whatever went wrong inside one step. The runner performs
// no retries; one failed attempt is terminal for that step.
type StepFailure struct {
	Step  string
	Cause Cause
	Err   error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("%s step failed (%s): %v", e.Step, e.Cause, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

func failure(step string, cause Cause, err error) *StepFailure {
	observability.ObserveStepFailure(step, string(cause))
	return &StepFailure{Step: step, Cause: cause, Err: err}
}

// AsStepFailure unwraps err into a *StepFailure if there is one.
func AsStepFailure(err error) (*StepFailure, bool) {
	var sf *StepFailure
	ok := errors.As(err, &sf)
	return sf, ok
}

// SQLResult is what a successful SQL step hands back to the orchestrator.
type SQLResult struct {
	SQL   string
	Table table.Table
}

// SchemaProvider supplies the schema-plus-samples context for the SQL
// translator. Satisfied by dbconn.Introspector.
type SchemaProvider interface {
	TableContexts(ctx context.Context, sampleRows int) ([]nl2sql.TableContext, error)
}

var _ SchemaProvider = (*dbconn.Introspector)(nil)

type Runner struct {
	SQLTranslator   nl2sql.Translator
	ChartTranslator nl2chart.Translator
	Engine          query.Engine
	Schema          SchemaProvider
	Dialect         string
	SampleRows      int
	RowLimit        int
}

func (r *Runner) sampleRows() int {
	if r.SampleRows > 0 {
		return r.SampleRows
	}
	return 5
}

// RunSQLStep translates the question into SQL and executes it. Translation
// failures, execution failures, and malformed results map to distinct causes
// so the orchestrator can report them faithfully.
func (r *Runner) RunSQLStep(ctx context.Context, question string) (SQLResult, error) {
	if r.SQLTranslator == nil {
		return SQLResult{}, failure(StepSQL, CauseTranslation, errors.New("sql translator is not configured"))
	}
	if r.Engine == nil {
		return SQLResult{}, failure(StepSQL, CauseExecution, errors.New("query engine is not configured"))
	}

	start := time.Now()
	defer func() { observability.ObserveStep(StepSQL, time.Since(start)) }()

	var contexts []nl2sql.TableContext
	if r.Schema != nil {
		var err error
		contexts, err = r.Schema.TableContexts(ctx, r.sampleRows())
		if err != nil {
			return SQLResult{}, failure(StepSQL, CauseTranslation, fmt.Errorf("build schema context: %w", err))
		}
	}

	translated, err := r.SQLTranslator.Translate(ctx, nl2sql.Request{
		Question: question,
		Dialect:  r.Dialect,
		Tables:   contexts,
	})
	if err != nil {
		return SQLResult{}, failure(StepSQL, CauseTranslation, err)
	}
	if !query.ReadOnly(translated.SQL) {
		return SQLResult{}, failure(StepSQL, CauseInvalidResult, fmt.Errorf("translator returned non read-only SQL"))
	}

	result, err := r.Engine.Execute(ctx, query.Request{SQL: translated.SQL, RowLimit: r.RowLimit})
	if err != nil {
		return SQLResult{}, failure(StepSQL, CauseExecution, err)
	}
	if !result.Tabular() {
		return SQLResult{}, failure(StepSQL, CauseInvalidResult, fmt.Errorf("query produced a malformed table"))
	}

	return SQLResult{SQL: translated.SQL, Table: result}, nil
}

// RunChartStep derives a chart spec from the question and the SQL step's
// table. The spec is validated against the table's columns before it is
// accepted.
func (r *Runner) RunChartStep(ctx context.Context, question string, result table.Table) (nl2chart.Spec, error) {
	if r.ChartTranslator == nil {
		return nl2chart.Spec{}, failure(StepChart, CauseTranslation, errors.New("chart translator is not configured"))
	}

	start := time.Now()
	defer func() { observability.ObserveStep(StepChart, time.Since(start)) }()

	spec, err := r.ChartTranslator.Translate(ctx, nl2chart.Request{
		Question:   question,
		Table:      result,
		SampleRows: r.sampleRows(),
	})
	if err != nil {
		return nl2chart.Spec{}, failure(StepChart, CauseTranslation, err)
	}
	if err := spec.Validate(result.Columns); err != nil {
		return nl2chart.Spec{}, failure(StepChart, CauseInvalidResult, err)
	}
	return spec, nil
}
