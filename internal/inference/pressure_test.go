package inference

import (
	"context"
	"errors"
	"testing"
)

type fakeSampler struct {
	vramPct float64
	err     error
}

func (f fakeSampler) Sample(ctx context.Context) (float64, float64, error) {
	return f.vramPct, 100, f.err
}

func TestGPUMonitorSetsPressureAboveThreshold(t *testing.T) {
	m := NewGPUMonitor(fakeSampler{vramPct: 97}, 95, nil)
	m.sampleOnce(context.Background())
	if !m.UnderPressure() {
		t.Fatal("expected pressure flag set above threshold")
	}
}

func TestGPUMonitorClearsPressureBelowThreshold(t *testing.T) {
	m := NewGPUMonitor(fakeSampler{vramPct: 40}, 95, nil)
	m.pressure.Store(true)
	m.sampleOnce(context.Background())
	if m.UnderPressure() {
		t.Fatal("expected pressure flag cleared below threshold")
	}
}

func TestGPUMonitorSampleErrorLeavesFlagUnchanged(t *testing.T) {
	m := NewGPUMonitor(fakeSampler{err: errors.New("nvml down")}, 95, nil)
	m.pressure.Store(true)
	m.sampleOnce(context.Background())
	if !m.UnderPressure() {
		t.Fatal("expected a sample error to leave the flag as-is")
	}
}

func TestGPUMonitorNilSamplerNeverUnderPressure(t *testing.T) {
	m := NewGPUMonitor(nil, 95, nil)
	if m.UnderPressure() {
		t.Fatal("expected no pressure with no sampler configured")
	}
}

func TestArenaBytes(t *testing.T) {
	got := ArenaBytes([]int64{16_000_000_000, 24_000_000_000}, 95)
	want := int64(float64(16_000_000_000) * 0.9)
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestArenaBytesEmptyDevices(t *testing.T) {
	if got := ArenaBytes(nil, 95); got != 0 {
		t.Fatalf("expected 0 for no devices, got %d", got)
	}
}
