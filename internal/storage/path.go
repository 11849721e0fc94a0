package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildTableObjectPath returns the archive key for one table artifact, e.g.
// sessions/ab12/tables/table-00003.parquet.
func BuildTableObjectPath(sessionID string, index int, extension string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("artifact index must be >= 0")
	}
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}
	return path.Join(
		"sessions",
		sessionID,
		"tables",
		fmt.Sprintf("table-%05d.%s", index, extension),
	), nil
}

// BuildChartObjectPath returns the archive key for one chart artifact, stored
// as its JSON spec.
func BuildChartObjectPath(sessionID string, index int) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("artifact index must be >= 0")
	}
	return path.Join(
		"sessions",
		sessionID,
		"charts",
		fmt.Sprintf("chart-%05d.json", index),
	), nil
}

// BuildTranscriptObjectPath returns the archive key for a session's transcript
// snapshot.
func BuildTranscriptObjectPath(sessionID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join("sessions", sessionID, "transcript.json"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
