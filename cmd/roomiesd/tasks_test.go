package main

import (
	"testing"
	"time"
)

func TestParseDue_RFC3339Passthrough(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	got, err := parseDue("2026-09-01T18:00:00Z", base)
	if err != nil {
		t.Fatalf("parseDue failed: %v", err)
	}
	want := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParseDue_NaturalLanguage(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	got, err := parseDue("tomorrow at 6pm", base)
	if err != nil {
		t.Fatalf("parseDue failed: %v", err)
	}
	if !got.After(base) || !got.Before(base.Add(48*time.Hour)) {
		t.Errorf("expected a time within two days of %v, got %v", base, got)
	}
	if got.Hour() != 18 {
		t.Errorf("expected 18:00, got %v", got)
	}
}

func TestParseDue_Unintelligible(t *testing.T) {
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	if _, err := parseDue("xyzzy plugh", base); err == nil {
		t.Error("expected an error for an unintelligible due date")
	}
}
