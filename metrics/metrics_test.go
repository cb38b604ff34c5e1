package metrics

import (
	"testing"
	"time"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	c := r.GetOrRegisterCounter("download_count")
	c.Inc(1)
	c.Inc(2)
	if got := c.Snapshot(); got != 3 {
		t.Errorf("Snapshot() = %d, want 3", got)
	}
	if r.GetOrRegisterCounter("download_count") != c {
		t.Errorf("GetOrRegisterCounter should return the same instance on re-registration")
	}
}

func TestGaugeUpdate(t *testing.T) {
	r := NewRegistry()
	g := r.GetOrRegisterGauge("inflight_ranges")
	g.Update(5)
	g.Update(2)
	if got := g.Snapshot(); got != 2 {
		t.Errorf("Snapshot() = %d, want 2", got)
	}
}

func TestTimerAccumulates(t *testing.T) {
	r := NewRegistry()
	tm := r.GetOrRegisterTimer("query_duration")
	tm.Update(10 * time.Millisecond)
	tm.Update(20 * time.Millisecond)
	count, total := tm.Snapshot()
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if total != 30*time.Millisecond {
		t.Errorf("total = %v, want 30ms", total)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.GetOrRegisterCounter("x").Inc(1)
	r.GetOrRegisterGauge("y").Update(1)
	r.GetOrRegisterTimer("z").Update(time.Second)
	r.Each(func(string, any) { t.Errorf("nil registry should never iterate") })
}

func TestEachVisitsEveryMetric(t *testing.T) {
	r := NewRegistry()
	r.GetOrRegisterCounter("c")
	r.GetOrRegisterGauge("g")
	r.GetOrRegisterTimer("t")

	seen := map[string]bool{}
	r.Each(func(name string, _ any) { seen[name] = true })
	for _, name := range []string{"c", "g", "t"} {
		if !seen[name] {
			t.Errorf("Each did not visit %q", name)
		}
	}
}
