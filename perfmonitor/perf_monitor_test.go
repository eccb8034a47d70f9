package perfmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// steppedClock advances by step on every call.
func steppedClock(step time.Duration) func() time.Time {
	t := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestNewPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor()

	assert.NotNil(t, pm)
	assert.True(t, pm.startTime.IsZero())
	assert.True(t, pm.endTime.IsZero())
}

func TestStartStop(t *testing.T) {
	t.Run("start clears a previous end time", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.now = steppedClock(time.Millisecond)

		pm.Start()
		pm.Stop()
		pm.Start()

		assert.False(t, pm.startTime.IsZero())
		assert.True(t, pm.endTime.IsZero())
	})

	t.Run("stop without start records nothing", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Stop()

		assert.True(t, pm.endTime.IsZero())
		assert.Zero(t, pm.Elapsed())
	})

	t.Run("later stop extends the measurement", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.now = steppedClock(10 * time.Millisecond)

		pm.Start()
		pm.Stop()
		first := pm.ElapsedMilliseconds()
		pm.Stop()

		assert.Equal(t, 10.0, first)
		assert.Equal(t, 20.0, pm.ElapsedMilliseconds())
	})
}

func TestElapsed(t *testing.T) {
	t.Run("zero while running", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.Start()
		assert.Zero(t, pm.Elapsed())
	})

	t.Run("measures start to stop", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		pm.now = steppedClock(1500 * time.Microsecond)

		pm.Start()
		pm.Stop()

		assert.Equal(t, 1500*time.Microsecond, pm.Elapsed())
		assert.Equal(t, 1.5, pm.ElapsedMilliseconds())
	})

	t.Run("wall clock measurement", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		time.Sleep(10 * time.Millisecond)
		pm.Stop()

		assert.GreaterOrEqual(t, pm.ElapsedMilliseconds(), 10.0)
	})
}

func TestReset(t *testing.T) {
	pm := NewPerformanceMonitor()
	pm.now = steppedClock(time.Millisecond)

	pm.Start()
	pm.Stop()
	pm.Reset()
	pm.Reset()

	assert.True(t, pm.startTime.IsZero())
	assert.True(t, pm.endTime.IsZero())
	assert.Equal(t, 0.0, pm.ElapsedMilliseconds())

	pm.Start()
	pm.Reset()
	pm.Stop()
	assert.Equal(t, 0.0, pm.ElapsedMilliseconds())
}
