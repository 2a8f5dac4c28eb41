// Package telemetry exposes Prometheus metrics and pprof handlers for a
// running mirror sync, ported from the teacher's internal/downloader metrics
// server.
package telemetry

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mirror_sync_requests_total", Help: "HTTP requests by kind and outcome"},
		[]string{"kind", "outcome"},
	)
	BytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirror_sync_bytes_downloaded_total", Help: "Total bytes downloaded",
	})
	Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirror_sync_retries_total", Help: "Total HTTP retry attempts",
	})
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_sync_active_workers", Help: "Scheduler workers currently executing a task",
	})
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mirror_sync_downloads_total", Help: "Completed downloads by outcome"},
		[]string{"outcome"},
	)
	Deletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mirror_sync_deletions_total", Help: "Deletions performed by outcome"},
		[]string{"outcome"},
	)
)

func initMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Requests, BytesDownloaded, Retries, ActiveWorkers, Downloads, Deletions)
	})
}

// StartServer serves /metrics and /debug/pprof/* at addr when addr is
// non-empty; it is a no-op otherwise.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	initMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	go func() {
		slog.Info("metrics/pprof listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()
}
