package main

import (
	"encoding/json"
	"net/http"
	"time"

	cfddns "github.com/TGA309/Cloudflare-DDNS-Docker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry    *prometheus.Registry
	cycles      *prometheus.CounterVec
	ipChanges   prometheus.Counter
	currentIP   *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfddns_cycles_total",
			Help: "Sync cycles by outcome",
		}, []string{"outcome"}),
		ipChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfddns_ip_changes_total",
			Help: "Count of record updates issued for a changed IP",
		}),
		currentIP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cfddns_current_ip",
			Help: "Representing the current public IP address",
		}, []string{"ip"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cfddns_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that confirmed the record",
		}),
	}
	m.registry.MustRegister(m.cycles, m.ipChanges, m.currentIP, m.lastSuccess)
	return m
}

// observe is a Syncer cycle hook. It runs on the loop goroutine.
func (m *metrics) observe(c cfddns.Cycle) {
	m.cycles.WithLabelValues(string(c.Outcome)).Inc()
	switch c.Outcome {
	case cfddns.OutcomeUpdated:
		m.ipChanges.Inc()
	case cfddns.OutcomeIdle:
	default:
		return
	}
	if c.IP != "" {
		m.currentIP.Reset()
		m.currentIP.WithLabelValues(c.IP).Set(1)
	}
	m.lastSuccess.SetToCurrentTime()
}

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "OK"})
}

func newMetricsServer(addr string, m *metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", handleHealthz)

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
