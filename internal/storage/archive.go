package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tabletalk/tabletalk/internal/artifact"
	"github.com/tabletalk/tabletalk/internal/export"
	"github.com/tabletalk/tabletalk/internal/table"
	"github.com/tabletalk/tabletalk/internal/transcript"
)

// Archiver copies a session's transcript and artifacts into an object store:
// tables as Parquet, charts as their JSON specs, the transcript as one JSON
// document. Archiving is read-only with respect to the session.
type Archiver struct {
	Store  ObjectStore
	Logger *slog.Logger
}

type ArchiveResult struct {
	SessionID string   `json:"session_id"`
	Objects   []string `json:"objects"`
}

func (a *Archiver) ArchiveSession(ctx context.Context, sessionID string, log *transcript.Log, artifacts *artifact.Store) (ArchiveResult, error) {
	if a.Store == nil {
		return ArchiveResult{}, fmt.Errorf("object store is not configured")
	}

	result := ArchiveResult{SessionID: sessionID}

	key, err := a.putTranscript(ctx, sessionID, log)
	if err != nil {
		return ArchiveResult{}, err
	}
	result.Objects = append(result.Objects, key)

	for i := 0; i < artifacts.Count(artifact.KindTable); i++ {
		key, err := a.putTable(ctx, sessionID, i, artifacts)
		if err != nil {
			return ArchiveResult{}, err
		}
		result.Objects = append(result.Objects, key)
	}

	for i := 0; i < artifacts.Count(artifact.KindChart); i++ {
		key, err := a.putChart(ctx, sessionID, i, artifacts)
		if err != nil {
			return ArchiveResult{}, err
		}
		result.Objects = append(result.Objects, key)
	}

	if a.Logger != nil {
		a.Logger.InfoContext(ctx, "session archived",
			slog.String("session_id", sessionID),
			slog.Int("objects", len(result.Objects)),
		)
	}
	return result, nil
}

func (a *Archiver) putTranscript(ctx context.Context, sessionID string, log *transcript.Log) (string, error) {
	key, err := BuildTranscriptObjectPath(sessionID)
	if err != nil {
		return "", err
	}

	turns := make([]transcript.Turn, 0, log.Len())
	for turn := range log.All() {
		turns = append(turns, turn)
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	if _, err := a.Store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("archive transcript: %w", err)
	}
	return key, nil
}

func (a *Archiver) putTable(ctx context.Context, sessionID string, index int, artifacts *artifact.Store) (string, error) {
	payload, err := artifacts.Get(artifact.KindTable, index)
	if err != nil {
		return "", err
	}
	result, ok := payload.(table.Table)
	if !ok {
		return "", fmt.Errorf("table artifact %d has unexpected payload %T", index, payload)
	}

	key, err := BuildTableObjectPath(sessionID, index, export.FormatParquet.Extension())
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := export.WriteParquet(&buf, result); err != nil {
		return "", fmt.Errorf("encode table artifact %d: %w", index, err)
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), PutOptions{ContentType: export.FormatParquet.ContentType()}); err != nil {
		return "", fmt.Errorf("archive table artifact %d: %w", index, err)
	}
	return key, nil
}

func (a *Archiver) putChart(ctx context.Context, sessionID string, index int, artifacts *artifact.Store) (string, error) {
	payload, err := artifacts.Get(artifact.KindChart, index)
	if err != nil {
		return "", err
	}

	key, err := BuildChartObjectPath(sessionID, index)
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chart artifact %d: %w", index, err)
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(encoded), int64(len(encoded)), PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("archive chart artifact %d: %w", index, err)
	}
	return key, nil
}
