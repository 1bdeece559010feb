// Package level reports the instantaneous loudness of a capture session for
// UI feedback.
package level

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the sampling period of a [Monitor].
const DefaultInterval = 100 * time.Millisecond

// Source yields a loudness in [0, 1]; the analyser node implements it.
type Source interface {
	Level() float64
}

// Monitor samples a [Source] on a ticker and forwards each value to a
// callback. The zero value is not usable; create monitors with [Start].
type Monitor struct {
	last atomic.Uint64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Start begins sampling src every interval (DefaultInterval when zero).
// onLevel runs on the monitor goroutine and may be nil.
func Start(src Source, interval time.Duration, onLevel func(float64)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{done: make(chan struct{})}
	m.wg.Add(1)
	go m.run(src, interval, onLevel)
	return m
}

func (m *Monitor) run(src Source, interval time.Duration, onLevel func(float64)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			v := min(1, max(0, src.Level()))
			m.last.Store(math.Float64bits(v))
			if onLevel != nil {
				onLevel(v)
			}
		}
	}
}

// Level returns the most recent sample, 0 before the first tick.
func (m *Monitor) Level() float64 {
	if m == nil {
		return 0
	}
	return math.Float64frombits(m.last.Load())
}

// Stop ends sampling and waits for the goroutine to exit. It is safe to call
// more than once and on a nil monitor. Stop must not be called from onLevel.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}
