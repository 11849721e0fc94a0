// Package session owns the per-conversation state machine. One Session holds
// the selected database connection, model configuration, transcript, and
// artifact store; Ask drives a single question through the SQL and chart
// steps with per-step failure isolation.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tabletalk/tabletalk/internal/artifact"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/table"
	"github.com/tabletalk/tabletalk/internal/transcript"
)

// ChartPolicy decides whether a SQL result is worth visualizing. Results
// below either threshold skip the chart step entirely.
type ChartPolicy struct {
	MinRows    int
	MinColumns int
}

func (p ChartPolicy) Chartable(sqlText string, result table.Table) bool {
	if strings.TrimSpace(sqlText) == "" {
		return false
	}
	minRows := p.MinRows
	if minRows <= 0 {
		minRows = 1
	}
	minColumns := p.MinColumns
	if minColumns <= 0 {
		minColumns = 1
	}
	return result.RowCount() >= minRows && result.ColumnCount() >= minColumns
}

type Config struct {
	ID         string
	Driver     string
	DSN        string
	SQLModel   string
	ChartModel string
	Policy     ChartPolicy
}

type Session struct {
	cfg       Config
	db        *sql.DB
	runner    *pipeline.Runner
	log       *transcript.Log
	artifacts *artifact.Store
	logger    *slog.Logger
	createdAt time.Time

	// One in-flight question at a time; steps within a question run
	// sequentially because the chart step's input is the SQL step's output.
	mu sync.Mutex

	closeOnce sync.Once
}

func New(cfg Config, db *sql.DB, runner *pipeline.Runner, logger *slog.Logger) *Session {
	store := artifact.NewStore()
	return &Session{
		cfg:       cfg,
		db:        db,
		runner:    runner,
		log:       transcript.NewLog(store),
		artifacts: store,
		logger:    logger,
		createdAt: time.Now().UTC(),
	}
}

func (s *Session) ID() string                  { return s.cfg.ID }
func (s *Session) Driver() string              { return s.cfg.Driver }
func (s *Session) DSN() string                 { return s.cfg.DSN }
func (s *Session) SQLModel() string            { return s.cfg.SQLModel }
func (s *Session) ChartModel() string          { return s.cfg.ChartModel }
func (s *Session) CreatedAt() time.Time        { return s.createdAt }
func (s *Session) Transcript() *transcript.Log { return s.log }
func (s *Session) Artifacts() *artifact.Store  { return s.artifacts }

// Close releases the session's database connection. Artifacts and transcript
// become unreachable once the owning registry drops the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

// Outcome is what one question produced: the transcript turns appended for
// it, the artifacts created by it, and an optional warning from the chart
// branch. The rendering sink reads this; it never mutates session state.
type Outcome struct {
	Turns     []transcript.Turn `json:"turns"`
	Artifacts []artifact.Ref    `json:"artifacts"`
	Warning   string            `json:"warning,omitempty"`
}

// Ask runs one question through the state machine: record the question, run
// the SQL step, record its result or a user-facing error, then run the chart
// step only when the SQL step succeeded and its table is worth visualizing.
// A chart failure never retracts the already-recorded table; it surfaces as
// Outcome.Warning.
func (s *Session) Ask(ctx context.Context, question string) (Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Outcome{}, errors.New("question is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	observability.ObserveQuestion()
	turnOffset := s.log.Len()
	var outcome Outcome

	s.log.AppendText(transcript.RoleUser, question)

	sqlResult, err := s.runner.RunSQLStep(ctx, question)
	if err != nil {
		s.log.AppendText(transcript.RoleAssistant, sqlFailureMessage(err))
		if s.logger != nil {
			s.logger.WarnContext(ctx, "sql step failed",
				slog.String("session_id", s.cfg.ID),
				slog.Any("error", err),
			)
		}
		outcome.Turns = s.log.Since(turnOffset)
		return outcome, nil
	}

	s.log.AppendText(transcript.RoleAssistant, formatSQLText(sqlResult.SQL))
	tableRef := s.artifacts.Append(artifact.KindTable, sqlResult.Table)
	observability.ObserveArtifact(string(artifact.KindTable))
	if err := s.log.AppendArtifactRef(transcript.RoleAssistant, tableRef); err != nil {
		// Appending a reference to an artifact stored one line above cannot
		// fail unless the store is broken; treat it as such.
		return Outcome{}, fmt.Errorf("record table reference: %w", err)
	}
	outcome.Artifacts = append(outcome.Artifacts, tableRef)

	if s.cfg.Policy.Chartable(sqlResult.SQL, sqlResult.Table) && s.runner.ChartTranslator != nil {
		spec, err := s.runner.RunChartStep(ctx, question, sqlResult.Table)
		if err != nil {
			// The table stays delivered; only the chart branch dies.
			outcome.Warning = fmt.Sprintf("Failed to create visualization: %v", err)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "chart step failed",
					slog.String("session_id", s.cfg.ID),
					slog.Any("error", err),
				)
			}
		} else {
			chartRef := s.artifacts.Append(artifact.KindChart, spec)
			observability.ObserveArtifact(string(artifact.KindChart))
			if err := s.log.AppendArtifactRef(transcript.RoleAssistant, chartRef); err != nil {
				return Outcome{}, fmt.Errorf("record chart reference: %w", err)
			}
			s.log.AppendText(transcript.RoleAssistant, "### Visualization created based on the data")
			outcome.Artifacts = append(outcome.Artifacts, chartRef)
		}
	}

	outcome.Turns = s.log.Since(turnOffset)
	return outcome, nil
}

func formatSQLText(sqlText string) string {
	return fmt.Sprintf("### SQL Results:\n\nSQL Query:\n\n```sql\n%s\n```\n\nResult:", sqlText)
}

func sqlFailureMessage(err error) string {
	return fmt.Sprintf(
		"I'm sorry. I am having difficulty answering that question. You can try providing more details and I'll do my best to provide an answer.\n\nError: %v",
		err,
	)
}
