package metrics

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
)

const namespace = "aero_webrtc_roulette"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters share one metric with an `event` label; each gauge is its own
// metric.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		counters := m.Snapshot()
		gauges := m.GaugeSnapshot()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Internal event counters.\n", namespace)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", namespace)
		for _, k := range slices.Sorted(maps.Keys(counters)) {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", namespace, labelEscaper.Replace(k), counters[k])
		}
		for _, k := range slices.Sorted(maps.Keys(gauges)) {
			name := namespace + "_" + k
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			_, _ = fmt.Fprintf(w, "%s %d\n", name, gauges[k])
		}
	})
}
