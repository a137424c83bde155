package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func feed(d *StallDetector, start time.Time, speeds ...int64) (fired int, at time.Time) {
	at = start
	for _, s := range speeds {
		at = at.Add(time.Second)
		if d.Observe(s, at) {
			fired++
		}
	}
	return fired, at
}

func TestStallDetector_HighThenNineLows(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	// warm-up sample, one healthy sample, then nine slow ones
	speeds := []int64{0, 600 * 1024, 100, 100, 100, 100, 100, 100, 100, 100}
	fired, at := feed(d, t0, speeds...)
	assert.Equal(t, 0, fired, "eight lows must not trip the detector")

	fired, at = feed(d, at, 100)
	assert.Equal(t, 1, fired)
	assert.True(t, d.Stalled())
	assert.True(t, d.Progressed())

	fired, _ = feed(d, at, 0, 0, 0)
	assert.Equal(t, 0, fired, "detector fires once")
}

func TestStallDetector_FirstSampleDiscarded(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	assert.False(t, d.Observe(0, t0.Add(time.Minute)))
	assert.False(t, d.Progressed())

	d = NewStallDetector(DefaultStallConfig(), t0)
	assert.False(t, d.Observe(900*1024, t0.Add(time.Second)))
	assert.False(t, d.Progressed(), "warm-up sample is not progress")
	fired, _ := feed(d, t0.Add(time.Second), 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	assert.Equal(t, 0, fired, "warm-up sample must not arm the detector")
}

func TestStallDetector_NotArmedWithoutHighWater(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	speeds := []int64{0, 100 * 1024}
	for i := 0; i < 20; i++ {
		speeds = append(speeds, 10)
	}
	fired, _ := feed(d, t0, speeds...)
	assert.Equal(t, 0, fired)
	assert.False(t, d.Stalled())
}

func TestStallDetector_HealthySampleResetsCount(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	speeds := []int64{0, 600 * 1024, 1, 1, 1, 1, 1, 1, 1, 1, 10 * 1024, 1, 1, 1, 1, 1, 1, 1, 1}
	fired, _ := feed(d, t0, speeds...)
	assert.Equal(t, 0, fired)
}

func TestStallDetector_LateSlowSample(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	assert.False(t, d.Observe(0, t0.Add(time.Second)))
	assert.False(t, d.Observe(2048, t0.Add(2*time.Second)))
	assert.True(t, d.Observe(1024, t0.Add(13*time.Second)))
}

func TestStallDetector_Idle(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	assert.False(t, d.Idle(t0.Add(time.Hour)), "no verdict before the warm-up sample")

	d.Observe(0, t0.Add(time.Second))
	d.Observe(1000, t0.Add(2*time.Second))

	assert.False(t, d.Idle(t0.Add(5*time.Second)))
	assert.True(t, d.Idle(t0.Add(13*time.Second)))
	assert.False(t, d.Idle(t0.Add(20*time.Second)))
}

func TestStallDetector_IdleWhileFast(t *testing.T) {
	t0 := time.Unix(1000, 0)
	d := NewStallDetector(DefaultStallConfig(), t0)

	d.Observe(0, t0.Add(time.Second))
	d.Observe(800*1024, t0.Add(2*time.Second))
	assert.False(t, d.Idle(t0.Add(time.Minute)))
}
