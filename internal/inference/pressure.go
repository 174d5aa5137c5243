package inference

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// SampleInterval is how often the monitor reads the sampler.
const SampleInterval = 5 * time.Second

// DefaultPressureThreshold is the VRAM utilization percentage past which
// the monitor sets its pressure flag.
const DefaultPressureThreshold = 95.0

// GPUSampler reads current device utilization. It is an external
// collaborator seam: no NVML or vendor driver binding exists in this
// module, so production wiring supplies a concrete implementation and
// tests supply a fake.
type GPUSampler interface {
	Sample(ctx context.Context) (vramPct, computePct float64, err error)
}

// GPUMonitor samples a GPUSampler on a fixed interval and exposes a
// lock-free pressure flag every entry point checks before admission.
// Compute utilization is sampled but never drives the flag: spec treats
// compute-at-100% as expected steady state, not pressure.
type GPUMonitor struct {
	sampler   GPUSampler
	threshold float64
	log       *slog.Logger

	pressure atomic.Bool
}

// NewGPUMonitor builds a monitor. A nil sampler makes UnderPressure always
// report false, for deployments with no GPU to watch.
func NewGPUMonitor(sampler GPUSampler, thresholdPct float64, log *slog.Logger) *GPUMonitor {
	if thresholdPct <= 0 {
		thresholdPct = DefaultPressureThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &GPUMonitor{sampler: sampler, threshold: thresholdPct, log: log}
}

// Run samples every SampleInterval until ctx is canceled.
func (m *GPUMonitor) Run(ctx context.Context) error {
	if m.sampler == nil {
		return nil
	}
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *GPUMonitor) sampleOnce(ctx context.Context) {
	vramPct, _, err := m.sampler.Sample(ctx)
	if err != nil {
		m.log.Warn("inference: gpu sample failed", "err", err)
		return
	}
	m.pressure.Store(vramPct > m.threshold)
}

// UnderPressure reports the last-sampled pressure state, read lock-free.
func (m *GPUMonitor) UnderPressure() bool {
	return m.pressure.Load()
}

// ArenaBytes implements §4.J's arena-sizing formula: the smallest device's
// VRAM times a safety margin under the pressure threshold, so steady-state
// allocation can never grow into the rejection band.
func ArenaBytes(vramBytesPerDevice []int64, thresholdPct float64) int64 {
	if len(vramBytesPerDevice) == 0 {
		return 0
	}
	min := vramBytesPerDevice[0]
	for _, v := range vramBytesPerDevice[1:] {
		if v < min {
			min = v
		}
	}
	margin := (thresholdPct - 5) / 100
	if margin < 0 {
		margin = 0
	}
	return int64(float64(min) * margin)
}
