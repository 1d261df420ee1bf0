package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DrawdownAction is the loss-acceleration guard's verdict.
type DrawdownAction string

const (
	DrawdownAllow    DrawdownAction = "allow"
	DrawdownThrottle DrawdownAction = "throttle"
	DrawdownPause    DrawdownAction = "pause"
)

type equitySample struct {
	at     time.Time
	equity decimal.Decimal
}

// DrawdownTracker computes drawdown velocity — percentage points of equity
// lost per minute — over a rolling window. It is an explicit struct owned by
// the service context, not process-global state.
type DrawdownTracker struct {
	mu       sync.Mutex
	window   time.Duration
	throttle float64
	pause    float64
	samples  []equitySample
}

// NewDrawdownTracker creates a tracker. throttle and pause are velocity
// thresholds in percentage points per minute; pause should be >= throttle.
func NewDrawdownTracker(window time.Duration, throttle, pause float64) *DrawdownTracker {
	return &DrawdownTracker{window: window, throttle: throttle, pause: pause}
}

// Record appends an equity observation and drops samples older than the
// window.
func (d *DrawdownTracker) Record(now time.Time, equity decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = append(d.samples, equitySample{at: now, equity: equity})
	cutoff := now.Add(-d.window)
	trimmed := d.samples[:0]
	for _, s := range d.samples {
		if !s.at.Before(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	d.samples = trimmed
}

// Velocity returns percentage points of equity lost per minute across the
// window. Gains and insufficient data both report zero.
func (d *DrawdownTracker) Velocity(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.samples) < 2 {
		return 0
	}
	oldest := d.samples[0]
	newest := d.samples[len(d.samples)-1]
	if oldest.equity.IsZero() {
		return 0
	}

	minutes := newest.at.Sub(oldest.at).Minutes()
	if minutes <= 0 {
		return 0
	}

	dropPct, _ := oldest.equity.Sub(newest.equity).
		Div(oldest.equity).
		Mul(decimal.NewFromInt(100)).
		Float64()
	if dropPct <= 0 {
		return 0
	}
	return dropPct / minutes
}

// Action maps the current velocity to a verdict.
func (d *DrawdownTracker) Action(now time.Time) (DrawdownAction, float64) {
	v := d.Velocity(now)
	switch {
	case d.pause > 0 && v >= d.pause:
		return DrawdownPause, v
	case d.throttle > 0 && v >= d.throttle:
		return DrawdownThrottle, v
	default:
		return DrawdownAllow, v
	}
}
