package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brevity-dns/resolvd"
	"github.com/brevity-dns/resolvd/internal/telemetry"
)

// serveControl exposes resolvd.Control over a minimal localhost HTTP
// listener: GET /status, POST /flush_cache, and (when prom is non-nil)
// GET /metrics for Prometheus scraping.
func serveControl(addr string, engine *resolvd.Engine, prom *telemetry.Prometheus) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(engine.Status())
	})
	mux.HandleFunc("/flush_cache", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		engine.FlushCache()
		w.WriteHeader(http.StatusNoContent)
	})
	if prom != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	}
	return http.ListenAndServe(addr, mux)
}
