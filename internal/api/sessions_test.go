package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/artifact"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/nl2chart"
	"github.com/tabletalk/tabletalk/internal/nl2sql"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/query"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/storage"
	"github.com/tabletalk/tabletalk/internal/table"
	"github.com/tabletalk/tabletalk/internal/transcript"
)

type stubSQLTranslator struct{}

func (stubSQLTranslator) Translate(context.Context, nl2sql.Request) (nl2sql.Result, error) {
	return nl2sql.Result{SQL: "SELECT city, total FROM sales"}, nil
}

type stubChartTranslator struct{}

func (stubChartTranslator) Translate(context.Context, nl2chart.Request) (nl2chart.Spec, error) {
	return nl2chart.Spec{Kind: "bar", XField: "city", YField: "total"}, nil
}

type stubEngine struct{}

func (stubEngine) Execute(context.Context, query.Request) (table.Table, error) {
	return table.Table{
		Columns: []string{"city", "total"},
		Rows:    [][]any{{"Vienna", int64(12)}, {"Graz", int64(7)}},
	}, nil
}

type stubRegistry struct {
	sessions map[string]*session.Session
	next     int
	openErr  error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{sessions: map[string]*session.Session{}}
}

func (r *stubRegistry) Open(_ context.Context, opts session.Options) (*session.Session, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.next++
	id := fmt.Sprintf("sess-%d", r.next)
	sess := session.New(session.Config{
		ID:       id,
		Driver:   opts.Driver,
		SQLModel: opts.SQLModel,
		Policy:   session.ChartPolicy{MinRows: 1, MinColumns: 1},
	}, nil, &pipeline.Runner{
		SQLTranslator:   stubSQLTranslator{},
		ChartTranslator: stubChartTranslator{},
		Engine:          stubEngine{},
	}, nil)
	r.sessions[id] = sess
	return sess, nil
}

func (r *stubRegistry) Get(id string) (*session.Session, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return sess, nil
}

func (r *stubRegistry) Close(id string) error {
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	delete(r.sessions, id)
	return nil
}

type stubArchiver struct {
	err    error
	lastID string
}

func (a *stubArchiver) ArchiveSession(_ context.Context, sessionID string, _ *transcript.Log, _ *artifact.Store) (storage.ArchiveResult, error) {
	if a.err != nil {
		return storage.ArchiveResult{}, a.err
	}
	a.lastID = sessionID
	return storage.ArchiveResult{
		SessionID: sessionID,
		Objects:   []string{"sessions/" + sessionID + "/transcript.json"},
	}, nil
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return NewHandler(cfg, deps)
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"driver":"duckdb"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.SessionID == "" {
		t.Fatal("expected session_id")
	}
	return body.SessionID
}

func TestAskProducesTranscriptAndArtifacts(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/ask", strings.NewReader(`{"question":"totals per city?"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body=%s", rr.Code, rr.Body.String())
	}

	var outcome session.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(outcome.Turns) != 5 {
		t.Fatalf("turns = %d", len(outcome.Turns))
	}
	if len(outcome.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", outcome.Artifacts)
	}

	transcriptResp := httptest.NewRecorder()
	h.ServeHTTP(transcriptResp, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/transcript", nil))
	if transcriptResp.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", transcriptResp.Code)
	}
	var transcriptBody struct {
		SessionID string            `json:"session_id"`
		Turns     []transcript.Turn `json:"turns"`
	}
	if err := json.Unmarshal(transcriptResp.Body.Bytes(), &transcriptBody); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if transcriptBody.SessionID != id || len(transcriptBody.Turns) != 5 {
		t.Fatalf("transcript = %+v", transcriptBody)
	}

	artifactResp := httptest.NewRecorder()
	h.ServeHTTP(artifactResp, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/table/0", nil))
	if artifactResp.Code != http.StatusOK {
		t.Fatalf("artifact status = %d, body=%s", artifactResp.Code, artifactResp.Body.String())
	}

	chartResp := httptest.NewRecorder()
	h.ServeHTTP(chartResp, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/chart/0", nil))
	if chartResp.Code != http.StatusOK {
		t.Fatalf("chart status = %d", chartResp.Code)
	}
}

func TestGetArtifactNotFound(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/table/9", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}

	badKind := httptest.NewRecorder()
	h.ServeHTTP(badKind, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/graph/0", nil))
	if badKind.Code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d", badKind.Code)
	}
}

func TestAskValidation(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	blank := httptest.NewRecorder()
	h.ServeHTTP(blank, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/ask", strings.NewReader(`{"question":"  "}`)))
	if blank.Code != http.StatusBadRequest {
		t.Fatalf("blank status = %d", blank.Code)
	}

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodPost, "/v1/sessions/unknown/ask", strings.NewReader(`{"question":"q"}`)))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", missing.Code)
	}
}

func TestExportTableCSV(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	ask := httptest.NewRecorder()
	h.ServeHTTP(ask, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/ask", strings.NewReader(`{"question":"totals per city?"}`)))
	if ask.Code != http.StatusOK {
		t.Fatalf("ask status = %d", ask.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/table/0/export?format=csv", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "city,total\n") {
		t.Fatalf("body = %q", rr.Body.String())
	}

	parquetResp := httptest.NewRecorder()
	h.ServeHTTP(parquetResp, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/table/0/export?format=parquet", nil))
	if parquetResp.Code != http.StatusOK {
		t.Fatalf("parquet export status = %d", parquetResp.Code)
	}
	if ct := parquetResp.Header().Get("Content-Type"); ct != "application/vnd.apache.parquet" {
		t.Fatalf("parquet content type = %q", ct)
	}

	badFormat := httptest.NewRecorder()
	h.ServeHTTP(badFormat, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id+"/artifacts/table/0/export?format=xlsx", nil))
	if badFormat.Code != http.StatusBadRequest {
		t.Fatalf("bad format status = %d", badFormat.Code)
	}
}

func TestCloseSession(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("close status = %d", rr.Code)
	}

	gone := httptest.NewRecorder()
	h.ServeHTTP(gone, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	if gone.Code != http.StatusNotFound {
		t.Fatalf("status after close = %d", gone.Code)
	}
}

func TestArchiveSessionEndpoint(t *testing.T) {
	registry := newStubRegistry()
	archiver := &stubArchiver{}
	h := newTestHandler(t, Dependencies{Sessions: registry, Archiver: archiver})
	id := createSession(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/archive", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("archive status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if archiver.lastID != id {
		t.Fatalf("archived session = %q", archiver.lastID)
	}

	var result storage.ArchiveResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if result.SessionID != id || len(result.Objects) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestArchiveSessionNotConfigured(t *testing.T) {
	registry := newStubRegistry()
	h := newTestHandler(t, Dependencies{Sessions: registry})
	id := createSession(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/archive", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}
