package storage

import "testing"

func TestBuildTableObjectPath(t *testing.T) {
	key, err := BuildTableObjectPath("sess-1", 3, "parquet")
	if err != nil {
		t.Fatalf("BuildTableObjectPath() error = %v", err)
	}
	want := "sessions/sess-1/tables/table-00003.parquet"
	if key != want {
		t.Fatalf("BuildTableObjectPath() = %q, want %q", key, want)
	}
}

func TestBuildChartObjectPath(t *testing.T) {
	key, err := BuildChartObjectPath("sess-1", 0)
	if err != nil {
		t.Fatalf("BuildChartObjectPath() error = %v", err)
	}
	want := "sessions/sess-1/charts/chart-00000.json"
	if key != want {
		t.Fatalf("BuildChartObjectPath() = %q, want %q", key, want)
	}
}

func TestBuildTranscriptObjectPath(t *testing.T) {
	key, err := BuildTranscriptObjectPath("sess-1")
	if err != nil {
		t.Fatalf("BuildTranscriptObjectPath() error = %v", err)
	}
	if key != "sessions/sess-1/transcript.json" {
		t.Fatalf("BuildTranscriptObjectPath() = %q", key)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildTableObjectPath("../oops", 1, "parquet"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildChartObjectPath("sess 1", 1); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildTableObjectPath("sess-1", -1, "parquet"); err == nil {
		t.Fatal("expected negative index error")
	}
}
