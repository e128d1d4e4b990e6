package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New()

	m.PacketsReceived.WithLabelValues("update").Inc()
	m.PacketsForwarded.WithLabelValues("data").Inc()
	m.PacketsDropped.WithLabelValues("decode").Inc()
	m.UpdatesSent.Inc()
	m.NeighborsGauge.Set(3)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather 返回错误: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"udprip_packets_received_total",
		"udprip_packets_forwarded_total",
		"udprip_packets_dropped_total",
		"udprip_updates_sent_total",
		"udprip_routing_neighbors",
	} {
		if !found[name] {
			t.Fatalf("metric %s should be registered, got %v", name, found)
		}
	}
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	// 同一进程内多个节点各持一套注册表，互不影响。
	a := New()
	b := New()
	a.UpdatesSent.Inc()

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather 返回错误: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "udprip_updates_sent_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter().GetValue() != 0 {
				t.Fatalf("第二套注册表不应看到第一套的计数: %v", metric)
			}
		}
	}
}

func TestHandlerServesTextExposition(t *testing.T) {
	m := New()
	m.PacketsReceived.WithLabelValues("trace").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/-/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `udprip_packets_received_total{kind="trace"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}
