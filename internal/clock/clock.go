// Package clock maps simulation minutes to wall-clock time (spec §4.1),
// grounded on the teacher's Engine.Run sleep-the-remainder loop
// (internal/engine/tick.go), generalized from a fixed tick interval to
// an arbitrary next-event timestamp and made interruptible via context.
package clock

import (
	"context"
	"time"
)

// Clock abstracts "time of next event."
type Clock interface {
	// Now returns the current simulation minute.
	Now() float64

	// WaitUntil suspends the caller until wall-clock time reaches the
	// point corresponding to simMinute, or returns immediately if that
	// point has already passed (no catch-up sleep) or fast mode is in
	// effect. Interruptible via ctx.
	WaitUntil(ctx context.Context, simMinute float64) error

	// SpeedFactor returns the configured speed multiplier: 1 means
	// real time, 60 means 60x faster, <1 means slower than real time.
	// FastClock returns 0, meaning no wall-clock pacing at all.
	SpeedFactor() float64

	// Advance moves the clock's notion of "now" forward to simMinute.
	// Called by the engine immediately after popping an event, so
	// Now() always reflects the timestamp of the last popped event
	// (spec §4.8's main-loop invariant).
	Advance(simMinute float64)
}

// FastClock never sleeps — WaitUntil returns immediately. Used in
// fast-mode runs (SIM_SPEED_FACTOR effectively infinite) and in tests.
type FastClock struct {
	now float64
}

// NewFastClock creates a Clock that never blocks.
func NewFastClock() *FastClock { return &FastClock{} }

func (c *FastClock) Now() float64 { return c.now }

func (c *FastClock) WaitUntil(ctx context.Context, simMinute float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *FastClock) SpeedFactor() float64 { return 0 } // 0 signals "unbounded" in fast mode

func (c *FastClock) Advance(simMinute float64) { c.now = simMinute }

// RealTimeClock maps sim-minutes to wall-clock time via a speed
// factor: wall = startWall + simMinute*60/speedFactor seconds.
type RealTimeClock struct {
	startWall   time.Time
	speedFactor float64
	now         float64
}

// NewRealTimeClock creates a real-time Clock anchored at the given
// wall-clock start time with the given speed factor (>0).
func NewRealTimeClock(startWall time.Time, speedFactor float64) *RealTimeClock {
	if speedFactor <= 0 {
		speedFactor = 1
	}
	return &RealTimeClock{startWall: startWall, speedFactor: speedFactor}
}

func (c *RealTimeClock) Now() float64 { return c.now }

func (c *RealTimeClock) SpeedFactor() float64 { return c.speedFactor }

func (c *RealTimeClock) Advance(simMinute float64) { c.now = simMinute }

// WaitUntil suspends until wall-clock time reaches the point
// corresponding to simMinute. Over-due timestamps return immediately.
func (c *RealTimeClock) WaitUntil(ctx context.Context, simMinute float64) error {
	target := c.startWall.Add(time.Duration(simMinute * 60 / c.speedFactor * float64(time.Second)))
	d := time.Until(target)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
