package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/artifact"
	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/export"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/table"
	"github.com/tabletalk/tabletalk/internal/transcript"
)

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	Driver     string    `json:"driver"`
	SQLModel   string    `json:"sql_model"`
	ChartModel string    `json:"chart_model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:  sess.ID(),
		Driver:     sess.Driver(),
		SQLModel:   sess.SQLModel(),
		ChartModel: sess.ChartModel(),
		CreatedAt:  sess.CreatedAt(),
	}
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var opts session.Options
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&opts); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
			return
		}
	}

	sess, err := deps.Sessions.Open(r.Context(), opts)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SESSION_OPEN_FAILED", "failed to open session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func handleCloseSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	id := r.PathValue("session")
	if err := deps.Sessions.Close(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": id})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_CLOSE_FAILED", "failed to close session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "closed"})
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	outcome, err := sess.Ask(r.Context(), request.Question)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "failed to process question", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func handleTranscript(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	turns := make([]transcript.Turn, 0, sess.Transcript().Len())
	for turn := range sess.Transcript().All() {
		turns = append(turns, turn)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID(),
		"turns":      turns,
	})
}

func handleGetArtifact(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	kind, err := artifact.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARTIFACT_KIND", err.Error(), false, nil)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARTIFACT_INDEX", "artifact index must be an integer", false, nil)
		return
	}

	payload, err := sess.Artifacts().Get(kind, index)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "artifact was not found", false, map[string]any{
				"kind":  string(kind),
				"index": index,
			})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARTIFACT_LOOKUP_FAILED", "failed to load artifact", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID(),
		"kind":       string(kind),
		"index":      index,
		"payload":    payload,
	})
}

func handleExportTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARTIFACT_INDEX", "artifact index must be an integer", false, nil)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_FORMAT", err.Error(), false, nil)
		return
	}

	payload, err := sess.Artifacts().Get(artifact.KindTable, index)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "table artifact was not found", false, map[string]any{"index": index})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ARTIFACT_LOOKUP_FAILED", "failed to load artifact", true, map[string]any{"details": err.Error()})
		return
	}
	result, ok := payload.(table.Table)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "ARTIFACT_LOOKUP_FAILED", "table artifact has an unexpected payload", false, nil)
		return
	}

	filename := fmt.Sprintf("%s-table-%05d.%s", sess.ID(), index, format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case export.FormatParquet:
		err = export.WriteParquet(w, result)
	default:
		err = export.WriteCSV(w, result)
	}
	if err != nil && deps.Logger != nil {
		deps.Logger.ErrorContext(r.Context(), "table export failed",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func handleArchiveSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	if deps.Archiver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "archive store is not configured", false, nil)
		return
	}

	result, err := deps.Archiver.ArchiveSession(r.Context(), sess.ID(), sess.Transcript(), sess.Artifacts())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_FAILED", "failed to archive session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return nil, false
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}

	id := r.PathValue("session")
	sess, err := deps.Sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, map[string]any{"session_id": id})
			return nil, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_LOOKUP_FAILED", "failed to load session", true, map[string]any{"details": err.Error()})
		return nil, false
	}
	return sess, true
}
