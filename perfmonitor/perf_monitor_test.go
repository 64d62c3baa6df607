package perfmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPerformanceMonitor(t *testing.T) {
	pm := NewPerformanceMonitor()

	assert.NotNil(t, pm)
	assert.True(t, pm.startTime.IsZero())
	assert.True(t, pm.endTime.IsZero())
}

func TestStop(t *testing.T) {
	t.Run("sets end time after start", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		pm.Stop()

		assert.False(t, pm.endTime.IsZero())
		assert.False(t, pm.endTime.Before(pm.startTime))
	})

	t.Run("does nothing without start", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Stop()

		assert.True(t, pm.endTime.IsZero())
	})

	t.Run("does nothing after reset", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		pm.Reset()
		pm.Stop()

		assert.True(t, pm.startTime.IsZero())
		assert.True(t, pm.endTime.IsZero())
	})
}

func TestElapsed(t *testing.T) {
	t.Run("zero while incomplete", func(t *testing.T) {
		pm := NewPerformanceMonitor()
		assert.Zero(t, pm.Elapsed())

		pm.Start()
		assert.Zero(t, pm.ElapsedMilliseconds())
	})

	t.Run("measures a sleep", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		time.Sleep(20 * time.Millisecond)
		pm.Stop()

		assert.GreaterOrEqual(t, pm.Elapsed(), 20*time.Millisecond)
		assert.GreaterOrEqual(t, pm.ElapsedMilliseconds(), 20.0)
	})

	t.Run("restart measures only the new span", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		time.Sleep(30 * time.Millisecond)
		pm.Stop()
		first := pm.Elapsed()

		pm.Start()
		pm.Stop()

		assert.Less(t, pm.Elapsed(), first)
	})

	t.Run("zero after reset", func(t *testing.T) {
		pm := NewPerformanceMonitor()

		pm.Start()
		pm.Stop()
		pm.Reset()

		assert.Equal(t, 0.0, pm.ElapsedMilliseconds())
	})
}
