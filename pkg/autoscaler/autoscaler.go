// Package autoscaler implements watermark-based scale recommendations
// with consecutive-window hysteresis: a recommendation only fires
// after the same direction has been observed for a configured number
// of consecutive evaluation windows, and requires an operator
// acknowledgement before it's considered applied.
package autoscaler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Recommendation is the autoscaler's verdict for one evaluation
// window.
type Recommendation string

const (
	ScaleUp   Recommendation = "SCALE_UP"
	ScaleDown Recommendation = "SCALE_DOWN"
	Steady    Recommendation = "STEADY"
)

// Watermarks configures the load thresholds that trigger a scale
// recommendation, and the hysteresis window count required before it
// fires.
type Watermarks struct {
	HighLoad            float64 // average load at or above this suggests SCALE_UP
	LowLoad             float64 // average load at or below this suggests SCALE_DOWN
	ConsecutiveRequired int     // windows in the same direction before firing, default 3
}

// LoadSampler reports the fleet's current average load, e.g. from
// deploy.Deployer.ListActive() combined with cluster.Store node
// resources.
type LoadSampler func(ctx context.Context) (avgLoad float64, err error)

// Event is one emitted (and possibly acknowledged) recommendation.
type Event struct {
	Recommendation Recommendation
	AvgLoad        float64
	At             time.Time
	Acknowledged   bool
}

// Autoscaler evaluates load on a cron-windowed schedule and emits
// hysteresis-gated recommendations.
type Autoscaler struct {
	mu         sync.Mutex
	watermarks Watermarks
	sampler    LoadSampler
	logger     *slog.Logger

	consecutive   int
	lastDirection Recommendation
	history       []Event
	pending       *Event
}

// New creates an autoscaler evaluating sampler against watermarks.
func New(watermarks Watermarks, sampler LoadSampler, logger *slog.Logger) *Autoscaler {
	if watermarks.ConsecutiveRequired <= 0 {
		watermarks.ConsecutiveRequired = 3
	}
	return &Autoscaler{watermarks: watermarks, sampler: sampler, logger: logger, lastDirection: Steady}
}

// EvaluateOnce samples load and updates hysteresis state, returning a
// recommendation once it has been observed for ConsecutiveRequired
// consecutive windows; otherwise it returns STEADY.
func (a *Autoscaler) EvaluateOnce(ctx context.Context) (Recommendation, error) {
	load, err := a.sampler(ctx)
	if err != nil {
		return Steady, err
	}

	direction := Steady
	switch {
	case load >= a.watermarks.HighLoad:
		direction = ScaleUp
	case load <= a.watermarks.LowLoad:
		direction = ScaleDown
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if direction == a.lastDirection && direction != Steady {
		a.consecutive++
	} else {
		a.consecutive = 1
		a.lastDirection = direction
	}

	if direction != Steady && a.consecutive >= a.watermarks.ConsecutiveRequired {
		ev := Event{Recommendation: direction, AvgLoad: load, At: time.Now()}
		a.pending = &ev
		a.history = append(a.history, ev)
		a.logger.Info("autoscaler recommendation", "recommendation", direction, "avg_load", load)
		return direction, nil
	}
	return Steady, nil
}

// Acknowledge marks the current pending recommendation as applied by
// an operator, resetting the hysteresis counter so the same direction
// must re-accumulate before firing again.
func (a *Autoscaler) Acknowledge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		a.pending.Acknowledged = true
		if n := len(a.history); n > 0 {
			a.history[n-1].Acknowledged = true
		}
		a.pending = nil
	}
	a.consecutive = 0
	a.lastDirection = Steady
}

// Pending returns the unacknowledged recommendation, if any.
func (a *Autoscaler) Pending() (Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return Event{}, false
	}
	return *a.pending, true
}

// History returns every recommendation emitted so far, oldest first.
func (a *Autoscaler) History() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.history...)
}

// Run evaluates on a cron-scheduled cadence until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context, cronExpr string) {
	if cronExpr == "" {
		cronExpr = "*/1 * * * *"
	}
	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(cronExpr)
			if err != nil || !due {
				continue
			}
			if _, err := a.EvaluateOnce(ctx); err != nil {
				a.logger.Warn("autoscaler evaluation failed", "error", err)
			}
		}
	}
}
