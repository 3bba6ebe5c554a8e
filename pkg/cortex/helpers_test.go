package cortex

import (
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/srediag/cortex/internal/sysv"
)

// testKey stays in the upper half of the key space, away from keys other software tends to use.
func testKey() Key {
	return Key(rand.Int32N(1<<30) + 1<<30)
}

func requireIPC(t *testing.T) {
	t.Helper()
	if !Supported() {
		t.Skip("System-V IPC not supported on this platform")
	}
	key := int32(testKey())
	id, err := sysv.ShmCreate(key, 8, 0o600)
	if err != nil {
		t.Skipf("System-V shared memory unavailable: %v", err)
	}
	_ = sysv.ShmRemove(id)
	sid, err := sysv.SemCreate(key, 0o600)
	if err != nil {
		t.Skipf("System-V semaphores unavailable: %v", err)
	}
	_ = sysv.SemRemove(sid)
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func liveFor(key Key) []Resource {
	var out []Resource
	for _, r := range LiveResources() {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out
}

func leakedFor(key Key) []Resource {
	var out []Resource
	for _, r := range LeakedResources() {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out
}

func segmentExists(key Key) bool {
	_, err := sysv.ShmOpen(int32(key), 0)
	return err == nil
}

func semaphoreExists(key Key) bool {
	_, err := sysv.SemOpen(int32(key))
	return err == nil
}
