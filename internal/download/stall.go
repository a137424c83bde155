package download

import "time"

// StallConfig holds the thresholds of the stall detector. Speeds are bytes/sec.
type StallConfig struct {
	HighWater int64
	LowWater  int64
	Threshold int
	Timeout   time.Duration
}

func DefaultStallConfig() StallConfig {
	return StallConfig{
		HighWater: 500 * 1024,
		LowWater:  5 * 1024,
		Threshold: 8,
		Timeout:   10 * time.Second,
	}
}

// StallDetector consumes the speed samples of one attempt and decides when the
// transfer should be aborted. It is not safe for concurrent use.
type StallDetector struct {
	cfg StallConfig

	warmedUp   bool
	armed      bool
	lows       int
	lastSpeed  int64
	lastSample time.Time
	progressed bool
	fired      bool
}

func NewStallDetector(cfg StallConfig, now time.Time) *StallDetector {
	return &StallDetector{cfg: cfg, lastSample: now}
}

// Observe records one sample and reports true the first time a stall is detected.
func (d *StallDetector) Observe(speed int64, now time.Time) bool {
	since := now.Sub(d.lastSample)
	d.lastSample = now

	// first sample reflects cached bytes, not the network
	if !d.warmedUp {
		d.warmedUp = true
		return false
	}

	d.lastSpeed = speed
	if speed > 0 {
		d.progressed = true
	}
	if speed > d.cfg.HighWater {
		d.armed = true
	}
	if d.armed && speed < d.cfg.LowWater {
		d.lows++
	} else {
		d.lows = 0
	}

	if d.lows > d.cfg.Threshold || (since > d.cfg.Timeout && speed < d.cfg.LowWater) {
		return d.fire()
	}
	return false
}

// Idle reports true the first time no sample has arrived for longer than the
// timeout while the last known speed is below the low-water mark.
func (d *StallDetector) Idle(now time.Time) bool {
	if !d.warmedUp {
		return false
	}
	if now.Sub(d.lastSample) > d.cfg.Timeout && d.lastSpeed < d.cfg.LowWater {
		return d.fire()
	}
	return false
}

func (d *StallDetector) fire() bool {
	if d.fired {
		return false
	}
	d.fired = true
	return true
}

// Progressed reports whether any counted sample was above zero.
func (d *StallDetector) Progressed() bool { return d.progressed }

// Stalled reports whether the detector has fired.
func (d *StallDetector) Stalled() bool { return d.fired }

func (d *StallDetector) LastSpeed() int64 { return d.lastSpeed }
