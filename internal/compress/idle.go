package compress

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// IdleSampler periodically measures CPU idle percentage so the response
// selection rule can refuse compression under load (spec §4.5 "CPU-idle
// gating"). Sampling is bounded by MinInterval so a busy negotiation loop
// never turns into a CPU-percent polling storm of its own.
type IdleSampler struct {
	MinInterval time.Duration

	lastSample time.Time
	lastValue  float64
}

// NewIdleSampler returns a sampler that refuses to re-measure more than
// once per interval, returning the previous value in between.
func NewIdleSampler(interval time.Duration) *IdleSampler {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &IdleSampler{MinInterval: interval}
}

// IdlePercent returns the most recent CPU idle percentage (0-100),
// re-measuring only if MinInterval has elapsed since the last sample.
func (s *IdleSampler) IdlePercent(ctx context.Context) (float64, error) {
	if time.Since(s.lastSample) < s.MinInterval && !s.lastSample.IsZero() {
		return s.lastValue, nil
	}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s.lastValue, err
	}
	if len(percents) == 0 {
		return s.lastValue, nil
	}
	busy := percents[0]
	idle := 100 - busy
	if idle < 0 {
		idle = 0
	}
	s.lastValue = idle
	s.lastSample = time.Now()
	return idle, nil
}
