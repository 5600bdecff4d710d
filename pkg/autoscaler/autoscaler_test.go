package autoscaler

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func constantSampler(load float64) LoadSampler {
	return func(_ context.Context) (float64, error) { return load, nil }
}

func TestEvaluateOnceStaysSteadyBelowHysteresisWindow(t *testing.T) {
	a := New(Watermarks{HighLoad: 0.8, LowLoad: 0.2, ConsecutiveRequired: 3}, constantSampler(0.9), testLogger())

	for i := 0; i < 2; i++ {
		rec, err := a.EvaluateOnce(context.Background())
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if rec != Steady {
			t.Fatalf("expected STEADY before hysteresis window elapses, got %s", rec)
		}
	}
}

func TestEvaluateOnceFiresScaleUpAfterConsecutiveWindows(t *testing.T) {
	a := New(Watermarks{HighLoad: 0.8, LowLoad: 0.2, ConsecutiveRequired: 3}, constantSampler(0.9), testLogger())

	var last Recommendation
	for i := 0; i < 3; i++ {
		rec, err := a.EvaluateOnce(context.Background())
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		last = rec
	}
	if last != ScaleUp {
		t.Fatalf("expected SCALE_UP on third consecutive window, got %s", last)
	}

	pending, ok := a.Pending()
	if !ok || pending.Recommendation != ScaleUp {
		t.Fatal("expected pending SCALE_UP recommendation")
	}
}

func TestDirectionChangeResetsHysteresisCounter(t *testing.T) {
	a := New(Watermarks{HighLoad: 0.8, LowLoad: 0.2, ConsecutiveRequired: 3}, constantSampler(0.9), testLogger())
	a.EvaluateOnce(context.Background())
	a.EvaluateOnce(context.Background())

	a.sampler = constantSampler(0.1)
	rec, _ := a.EvaluateOnce(context.Background())
	if rec != Steady {
		t.Fatalf("expected STEADY immediately after direction flip, got %s", rec)
	}

	rec, _ = a.EvaluateOnce(context.Background())
	if rec != Steady {
		t.Fatalf("expected STEADY on second window after flip, got %s", rec)
	}
	rec, _ = a.EvaluateOnce(context.Background())
	if rec != ScaleDown {
		t.Fatalf("expected SCALE_DOWN on third consecutive low window, got %s", rec)
	}
}

func TestAcknowledgeClearsPendingAndResetsCounter(t *testing.T) {
	a := New(Watermarks{HighLoad: 0.8, LowLoad: 0.2, ConsecutiveRequired: 2}, constantSampler(0.95), testLogger())
	a.EvaluateOnce(context.Background())
	rec, _ := a.EvaluateOnce(context.Background())
	if rec != ScaleUp {
		t.Fatalf("expected SCALE_UP, got %s", rec)
	}

	a.Acknowledge()
	if _, ok := a.Pending(); ok {
		t.Fatal("expected no pending recommendation after acknowledge")
	}

	rec, _ = a.EvaluateOnce(context.Background())
	if rec != Steady {
		t.Fatalf("expected hysteresis counter reset after acknowledge, got %s", rec)
	}
}

func TestHistoryAccumulatesFiredRecommendations(t *testing.T) {
	a := New(Watermarks{HighLoad: 0.8, LowLoad: 0.2, ConsecutiveRequired: 1}, constantSampler(0.9), testLogger())
	a.EvaluateOnce(context.Background())
	a.EvaluateOnce(context.Background())
	if len(a.History()) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(a.History()))
	}
}
