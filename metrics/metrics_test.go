package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mlanger/ebusgw/bus"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveArbitrationAccumulatesDeltas(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveArbitration(bus.Counters{Total: 3, Won1: 2, Lost1: 1})
	if got := counterValue(t, r.ArbitrationTotal); got != 3 {
		t.Fatalf("ArbitrationTotal = %v, want 3", got)
	}

	r.ObserveArbitration(bus.Counters{Total: 5, Won1: 3, Lost1: 2})
	if got := counterValue(t, r.ArbitrationTotal); got != 5 {
		t.Fatalf("ArbitrationTotal after second observe = %v, want 5 (cumulative)", got)
	}
}
