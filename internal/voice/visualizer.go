package voice

import (
	"log"
	"sync"
	"time"
)

// sampler produces VisualizationFrame values on a fixed cadence for UI
// feedback. It runs for the lifetime of the session, independent of turn
// state, and has no effect on conversation logic. An unavailable energy
// source is a silent no-op, not an error.
type sampler struct {
	mu       sync.Mutex
	observer func(VisualizationFrame)

	source EnergySource // may be nil
	logger *log.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

func newSampler(source EnergySource, logger *log.Logger) *sampler {
	return &sampler{
		source: source,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (v *sampler) start() {
	v.mu.Lock()
	if v.started || v.source == nil {
		v.mu.Unlock()
		return
	}
	v.started = true
	v.mu.Unlock()

	go v.loop()
}

func (v *sampler) loop() {
	ticker := time.NewTicker(visualizationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			samples := v.source.Frequencies()
			if samples == nil {
				continue
			}
			v.mu.Lock()
			observer := v.observer
			v.mu.Unlock()
			if observer != nil {
				observer(VisualizationFrame{Samples: samples, At: time.Now()})
			}
		}
	}
}

// setObserver registers the single frame observer, replacing any previous one.
func (v *sampler) setObserver(fn func(VisualizationFrame)) {
	v.mu.Lock()
	v.observer = fn
	v.mu.Unlock()
}

func (v *sampler) stop() {
	v.stopOnce.Do(func() { close(v.stopCh) })
}
