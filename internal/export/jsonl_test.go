package export

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"success-library/internal/domain"
	"success-library/internal/storage"
	"success-library/internal/storage/memory"
)

func seedStore(t *testing.T) *memory.StoryStore {
	t.Helper()
	store := memory.NewStoryStore()
	ctx := context.Background()

	win := &domain.SuccessStory{
		StrategyID:          "strat-1",
		TokenAddress:        "mint-win",
		MarketContext:       "fresh pool",
		Lesson:              "entered early",
		CreatedAt:           time.Now().Add(-time.Hour),
		ObservationDeadline: time.Now().Add(-45 * time.Minute),
		Features: &domain.RouteFeatures{
			NumHops:           2,
			TotalFeesBps:      55,
			MaxPriceImpactBps: 120,
			RouteLiquidity:    1_500_000,
			ProfitRatio:       1.08,
		},
	}
	if err := store.Insert(ctx, win); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	tts := int64(45)
	dd := 12.5
	if err := store.Finalize(ctx, win.ID, storage.Finalization{
		Outcome:        domain.OutcomeSuccess,
		PeakROI:        0.12,
		TimeToPeakSecs: &tts,
		Drawdown:       &dd,
		Reason:         domain.ReasonPeakConfirmed,
	}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	loss := &domain.SuccessStory{
		StrategyID:          "strat-1",
		TokenAddress:        "mint-loss",
		CreatedAt:           time.Now(),
		ObservationDeadline: time.Now().Add(15 * time.Minute),
	}
	if err := store.Insert(ctx, loss); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Finalize(ctx, loss.ID, storage.Finalization{
		Outcome: domain.OutcomeFalsePositive,
		PeakROI: -0.03,
		Reason:  domain.ReasonDeadline,
	}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	return store
}

func TestWriteJSONL_RoundTrip(t *testing.T) {
	store := seedStore(t)

	var buf bytes.Buffer
	count, err := WriteJSONL(context.Background(), store, &buf)
	if err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	var parsed []*domain.SuccessStory
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		story, err := ParseStoryLine(scanner.Bytes())
		if err != nil {
			t.Fatalf("ParseStoryLine failed: %v", err)
		}
		parsed = append(parsed, story)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d lines, want 2", len(parsed))
	}

	// Newest first.
	if parsed[0].TokenAddress != "mint-loss" || parsed[1].TokenAddress != "mint-win" {
		t.Errorf("order = [%s, %s], want newest first", parsed[0].TokenAddress, parsed[1].TokenAddress)
	}

	win := parsed[1]
	if win.Outcome != domain.OutcomeSuccess {
		t.Errorf("Outcome = %s, want SUCCESS", win.Outcome)
	}
	if win.PeakROI == nil || *win.PeakROI != 0.12 {
		t.Errorf("PeakROI = %v, want 0.12", win.PeakROI)
	}
	if win.TimeToPeakSecs == nil || *win.TimeToPeakSecs != 45 {
		t.Errorf("TimeToPeakSecs = %v, want 45", win.TimeToPeakSecs)
	}
	if win.Features == nil || win.Features.TotalFeesBps != 55 {
		t.Errorf("Features = %+v, want TotalFeesBps 55", win.Features)
	}
	if win.Reason != domain.ReasonPeakConfirmed {
		t.Errorf("Reason = %s, want PEAK_CONFIRMED", win.Reason)
	}

	loss := parsed[0]
	if loss.Outcome != domain.OutcomeFalsePositive {
		t.Errorf("Outcome = %s, want FALSE_POSITIVE", loss.Outcome)
	}
	if loss.Features != nil {
		t.Errorf("Features = %+v, want nil for a story without them", loss.Features)
	}
}

func TestParseStoryLine_RejectsUnknownOutcome(t *testing.T) {
	line := []byte(`{"id":"x","token_address":"mint-a","outcome":"MAYBE",` +
		`"created_at":"2026-08-28T00:00:00Z","observation_deadline":"2026-08-28T00:15:00Z"}`)
	if _, err := ParseStoryLine(line); err == nil {
		t.Error("expected error for unknown outcome")
	}
}

func TestParseStoryLine_RejectsGarbage(t *testing.T) {
	if _, err := ParseStoryLine([]byte("not json")); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestWriteTrainingCSV_FiltersToSuccessWithFeatures(t *testing.T) {
	store := seedStore(t)

	var buf bytes.Buffer
	count, err := WriteTrainingCSV(context.Background(), store, &buf)
	if err != nil {
		t.Fatalf("WriteTrainingCSV failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (FP and featureless stories excluded)", count)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1 row", len(lines))
	}
	if lines[0] != trainingHeader {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "mint-win,2,55,120,") {
		t.Errorf("row = %q, want mint-win features", lines[1])
	}
	if !strings.Contains(lines[1], ",45") {
		t.Errorf("row = %q, want time-to-peak 45", lines[1])
	}
}
