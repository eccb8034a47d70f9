// Package perfmonitor provides a stopwatch for timing a unit of work, such as
// one poll-dispatch-sweep cycle of the socket manager.
package perfmonitor

import "time"

// PerformanceMonitor measures the time between Start and Stop. It is not safe
// for concurrent use; each poll loop owns its own monitor.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
	now       func() time.Time
}

// NewPerformanceMonitor returns a stopped monitor using the wall clock.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{now: time.Now}
}

// Start records the start time and clears any previous end time.
func (pm *PerformanceMonitor) Start() {
	pm.startTime = pm.now()
	pm.endTime = time.Time{}
}

// Stop records the end time. It does nothing if Start was not called.
func (pm *PerformanceMonitor) Stop() {
	if pm.startTime.IsZero() {
		return
	}

	pm.endTime = pm.now()
}

// Reset clears both recorded times.
func (pm *PerformanceMonitor) Reset() {
	pm.startTime = time.Time{}
	pm.endTime = time.Time{}
}

// Elapsed returns the measured duration, or 0 unless both Start and Stop ran.
func (pm *PerformanceMonitor) Elapsed() time.Duration {
	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}

	return pm.endTime.Sub(pm.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(pm.Elapsed()) / float64(time.Millisecond)
}
